// Package ingest coordinates dual-store document ingestion.
//
// A document becomes retrievable only after its chunks exist in both stores:
// chunk rows in the metadata store and embeddings in the vector store. The
// coordinator writes metadata rows as pending, embeds and upserts vectors,
// and only then flips the document to committed. Any failure after the
// pending write triggers a compensating rollback so that no half-ingested
// document is ever visible to retrieval.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// Sentinel errors for ingestion.
var (
	// ErrEmptyDocument indicates the document produced zero chunks.
	ErrEmptyDocument = errors.New("document has no content")

	// ErrAlreadyExists indicates the document is already committed and
	// Replace was not requested.
	ErrAlreadyExists = errors.New("document already exists")
)

// Ingestion result statuses.
const (
	StatusCommitted     = "committed"
	StatusAlreadyExists = "already_exists"
	StatusFailed        = "failed"
)

// Embedder generates embeddings for chunk contents.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// MetadataStore is the slice of the metadata store ingestion needs.
type MetadataStore interface {
	InsertPending(ctx context.Context, doc metadata.Document, chunks []metadata.Chunk, entries []metadata.Entry) error
	CommitDocument(ctx context.Context, documentID string) error
	DocumentStatus(ctx context.Context, documentID string) (string, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// Request describes a document to ingest.
type Request struct {
	// DocumentID is optional; a UUID is generated when empty.
	DocumentID string

	Filename    string
	ContentType string
	Content     string

	// Metadata is attached to every chunk of the document.
	Metadata map[string]string

	// Replace deletes an existing committed document before re-ingesting.
	Replace bool
}

// Result is the outcome of an ingestion attempt.
type Result struct {
	Status     string `json:"status"`
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
}

// Coordinator runs the dual-store ingestion protocol.
//
// Requests for the same document id are serialized; distinct documents
// proceed in parallel.
type Coordinator struct {
	chunker  *chunker.Chunker
	embedder Embedder
	meta     MetadataStore
	vectors  vectorstore.Store
	logger   *zap.Logger
	locks    *keyedMutex
}

// NewCoordinator creates an ingestion coordinator.
func NewCoordinator(ch *chunker.Chunker, embedder Embedder, meta MetadataStore, vectors vectorstore.Store, logger *zap.Logger) (*Coordinator, error) {
	if ch == nil {
		return nil, errors.New("chunker is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if meta == nil {
		return nil, errors.New("metadata store is required")
	}
	if vectors == nil {
		return nil, errors.New("vector store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		chunker:  ch,
		embedder: embedder,
		meta:     meta,
		vectors:  vectors,
		logger:   logger,
		locks:    newKeyedMutex(),
	}, nil
}

// AddDocument ingests a document into both stores.
//
// An already-committed document returns ErrAlreadyExists alongside a
// StatusAlreadyExists result unless req.Replace is set, in which case the
// old document is deleted from both stores first. Leftover pending rows
// from an earlier crash are cleaned before re-ingesting.
func (c *Coordinator) AddDocument(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	content := strings.TrimSpace(req.Content)
	if content == "" {
		documentsTotal.WithLabelValues(StatusFailed).Inc()
		return Result{Status: StatusFailed}, ErrEmptyDocument
	}

	docID := req.DocumentID
	if docID == "" {
		docID = uuid.New().String()
	}

	unlock := c.locks.Lock(docID)
	defer unlock()

	status, err := c.meta.DocumentStatus(ctx, docID)
	switch {
	case err == nil && status == metadata.StatusCommitted:
		if !req.Replace {
			documentsTotal.WithLabelValues(StatusAlreadyExists).Inc()
			return Result{Status: StatusAlreadyExists, DocumentID: docID}, ErrAlreadyExists
		}
		if err := c.removeDocument(ctx, docID); err != nil {
			documentsTotal.WithLabelValues(StatusFailed).Inc()
			return Result{Status: StatusFailed, DocumentID: docID}, fmt.Errorf("replacing document %q: %w", docID, err)
		}
	case err == nil && status == metadata.StatusPending:
		// Leftover from a crashed ingestion; the pending rows were never
		// visible, discard them and start over.
		c.logger.Warn("discarding stale pending document", zap.String("document_id", docID))
		if err := c.removeDocument(ctx, docID); err != nil {
			documentsTotal.WithLabelValues(StatusFailed).Inc()
			return Result{Status: StatusFailed, DocumentID: docID}, fmt.Errorf("cleaning stale document %q: %w", docID, err)
		}
	case err != nil && !errors.Is(err, metadata.ErrNotFound):
		documentsTotal.WithLabelValues(StatusFailed).Inc()
		return Result{Status: StatusFailed, DocumentID: docID}, fmt.Errorf("checking document %q: %w", docID, err)
	}

	segments := c.chunker.Chunk(content)
	if len(segments) == 0 {
		documentsTotal.WithLabelValues(StatusFailed).Inc()
		return Result{Status: StatusFailed, DocumentID: docID}, ErrEmptyDocument
	}

	chunks := make([]metadata.Chunk, len(segments))
	texts := make([]string, len(segments))
	for i, seg := range segments {
		chunks[i] = metadata.Chunk{
			ID:         fmt.Sprintf("%s_%d", docID, seg.Position),
			DocumentID: docID,
			Content:    seg.Content,
			Position:   seg.Position,
		}
		texts[i] = seg.Content
	}

	var entries []metadata.Entry
	for _, chunk := range chunks {
		for k, v := range req.Metadata {
			entries = append(entries, metadata.Entry{ChunkID: chunk.ID, Key: k, Value: v})
		}
	}

	doc := metadata.Document{
		ID:          docID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		CreatedAt:   time.Now(),
	}

	if err := c.meta.InsertPending(ctx, doc, chunks, entries); err != nil {
		documentsTotal.WithLabelValues(StatusFailed).Inc()
		return Result{Status: StatusFailed, DocumentID: docID}, fmt.Errorf("writing pending rows for %q: %w", docID, err)
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		c.rollback(ctx, docID, nil)
		documentsTotal.WithLabelValues(StatusFailed).Inc()
		return Result{Status: StatusFailed, DocumentID: docID}, fmt.Errorf("embedding document %q: %w", docID, err)
	}

	points := make([]vectorstore.Point, len(chunks))
	chunkIDs := make([]string, len(chunks))
	for i, chunk := range chunks {
		points[i] = vectorstore.Point{
			ChunkID:    chunk.ID,
			DocumentID: docID,
			Vector:     vectors[i],
		}
		chunkIDs[i] = chunk.ID
	}

	if err := c.vectors.Upsert(ctx, points); err != nil {
		c.rollback(ctx, docID, chunkIDs)
		documentsTotal.WithLabelValues(StatusFailed).Inc()
		return Result{Status: StatusFailed, DocumentID: docID}, fmt.Errorf("upserting vectors for %q: %w", docID, err)
	}

	if err := c.meta.CommitDocument(ctx, docID); err != nil {
		c.rollback(ctx, docID, chunkIDs)
		documentsTotal.WithLabelValues(StatusFailed).Inc()
		return Result{Status: StatusFailed, DocumentID: docID}, fmt.Errorf("committing document %q: %w", docID, err)
	}

	documentsTotal.WithLabelValues(StatusCommitted).Inc()
	chunksPerDocument.Observe(float64(len(chunks)))
	ingestDuration.Observe(time.Since(start).Seconds())

	c.logger.Info("document ingested",
		zap.String("document_id", docID),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return Result{Status: StatusCommitted, DocumentID: docID, ChunkCount: len(chunks)}, nil
}

// DeleteDocument removes a document from both stores. Metadata rows go
// first so retrieval visibility drops immediately; leftover vectors are
// orphans the alignment auditor will remove.
func (c *Coordinator) DeleteDocument(ctx context.Context, documentID string) error {
	unlock := c.locks.Lock(documentID)
	defer unlock()

	if err := c.meta.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	if err := c.vectors.DeleteByDocument(ctx, documentID); err != nil {
		// Metadata rows are gone, so the stranded vectors are orphans.
		// Leave them for the auditor rather than failing the delete.
		c.logger.Error("vector deletion failed, orphans left for auditor",
			zap.String("document_id", documentID),
			zap.Error(err),
		)
	}

	c.logger.Info("document deleted", zap.String("document_id", documentID))
	return nil
}

// removeDocument deletes a document from both stores, failing on either error.
// Used for replace and stale-pending cleanup where continuing with partial
// state would corrupt the re-ingestion.
func (c *Coordinator) removeDocument(ctx context.Context, documentID string) error {
	if err := c.meta.DeleteDocument(ctx, documentID); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return fmt.Errorf("deleting metadata: %w", err)
	}
	if err := c.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	return nil
}

// rollback undoes a failed ingestion: vectors first, then the pending rows.
// Rollback failures are logged and counted, never silent; whatever remains
// is invisible to retrieval and detectable by the alignment auditor.
func (c *Coordinator) rollback(ctx context.Context, documentID string, chunkIDs []string) {
	documentsTotal.WithLabelValues("rolled_back").Inc()

	if len(chunkIDs) > 0 {
		if err := c.vectors.Delete(ctx, chunkIDs); err != nil {
			rollbackFailures.Inc()
			c.logger.Error("rollback: vector deletion failed",
				zap.String("document_id", documentID),
				zap.Error(err),
			)
		}
	}

	if err := c.meta.DeleteDocument(ctx, documentID); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		rollbackFailures.Inc()
		c.logger.Error("rollback: pending row deletion failed",
			zap.String("document_id", documentID),
			zap.Error(err),
		)
	}
}
