// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("corpusd.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded vector database.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/corpusd/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection holding chunk embeddings.
	// Default: "corpusd_chunks"
	Collection string

	// VectorSize is the expected embedding dimension.
	// Must match the embedding service's output dimension.
	// Default: 1024
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/corpusd/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = "corpusd_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1024
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements the Store interface using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, persistence to gob files.
// Because chromem has no API for listing stored ids, the store keeps a
// sidecar id ledger updated on every mutation; ListChunkIDs reads the
// ledger rather than the database.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
	ledger *idLedger

	mu   sync.Mutex
	coll *chromem.Collection
}

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if err := ValidateCollectionName(config.Collection); err != nil {
		return nil, fmt.Errorf("validating collection name: %w", err)
	}

	expandedPath, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	if err := os.MkdirAll(expandedPath, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	ledger, err := newIDLedger(ledgerPath(expandedPath, config.Collection))
	if err != nil {
		return nil, fmt.Errorf("loading id ledger: %w", err)
	}

	store := &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
		ledger: ledger,
	}

	logger.Info("chromem store initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
		zap.String("collection", config.Collection),
		zap.Int("ledger_entries", ledger.count()),
	)

	return store, nil
}

// expandChromemPath expands ~ to the home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// rejectEmbeddingFunc is passed to chromem wherever it demands an embedding
// function. Embedding happens before points reach the store; if chromem ever
// calls this, a caller upserted a point without a vector.
func rejectEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("store does not embed; provide precomputed vectors")
}

// collection returns the backing chromem collection, creating it on first use.
func (s *ChromemStore) collection() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coll != nil {
		return s.coll, nil
	}

	coll, err := s.db.GetOrCreateCollection(s.config.Collection, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", s.config.Collection, err)
	}
	s.coll = coll
	return coll, nil
}

// EnsureCollection creates the configured collection if it does not exist.
func (s *ChromemStore) EnsureCollection(ctx context.Context) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.EnsureCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", s.config.Collection))

	if _, err := s.collection(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert writes points, overwriting existing points with the same chunk ids.
func (s *ChromemStore) Upsert(ctx context.Context, points []Point) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("point_count", len(points)),
		attribute.String("collection", s.config.Collection),
	)

	if len(points) == 0 {
		return nil
	}

	coll, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		if p.ChunkID == "" {
			return fmt.Errorf("point at index %d has empty chunk id", i)
		}
		if len(p.Vector) != s.config.VectorSize {
			return fmt.Errorf("point %q has dimension %d, expected %d", p.ChunkID, len(p.Vector), s.config.VectorSize)
		}
		docs[i] = chromem.Document{
			ID:        p.ChunkID,
			Metadata:  map[string]string{payloadDocumentID: p.DocumentID},
			Embedding: p.Vector,
		}
	}

	// Concurrency of 1 since embeddings are precomputed.
	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	if err := s.ledger.add(points); err != nil {
		span.RecordError(err)
		return fmt.Errorf("updating id ledger: %w", err)
	}

	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("upserted points to chromem",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(points)),
	)
	return nil
}

// Search returns up to k hits ordered by similarity, highest first.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	return s.search(ctx, vector, k, nil)
}

// SearchByDocument is Search restricted to the points of one document.
func (s *ChromemStore) SearchByDocument(ctx context.Context, vector []float32, k int, documentID string) ([]Hit, error) {
	return s.search(ctx, vector, k, map[string]string{payloadDocumentID: documentID})
}

func (s *ChromemStore) search(ctx context.Context, vector []float32, k int, where map[string]string) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("query vector has dimension %d, expected %d", len(vector), s.config.VectorSize)
	}

	coll, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// chromem requires nResults <= document count.
	docCount := coll.Count()
	if docCount == 0 {
		return []Hit{}, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := coll.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ChunkID:    r.ID,
			DocumentID: r.Metadata[payloadDocumentID],
			Score:      r.Similarity,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Delete removes points by chunk id. Missing ids are not an error.
func (s *ChromemStore) Delete(ctx context.Context, chunkIDs []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()

	span.SetAttributes(
		attribute.Int("id_count", len(chunkIDs)),
		attribute.String("collection", s.config.Collection),
	)

	if len(chunkIDs) == 0 {
		return nil
	}

	coll, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := coll.Delete(ctx, nil, nil, chunkIDs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from collection %s: %w", s.config.Collection, err)
	}

	if err := s.ledger.remove(chunkIDs); err != nil {
		span.RecordError(err)
		return fmt.Errorf("updating id ledger: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteByDocument removes every point belonging to a document.
func (s *ChromemStore) DeleteByDocument(ctx context.Context, documentID string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("document_id", documentID),
		attribute.String("collection", s.config.Collection),
	)

	coll, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := coll.Delete(ctx, map[string]string{payloadDocumentID: documentID}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting document %s from collection %s: %w", documentID, s.config.Collection, err)
	}

	removed, err := s.ledger.removeByDocument(documentID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("updating id ledger: %w", err)
	}

	span.SetAttributes(attribute.Int("removed_count", len(removed)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// ListChunkIDs returns the chunk ids of all stored points, sorted ascending.
func (s *ChromemStore) ListChunkIDs(ctx context.Context) ([]string, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.ListChunkIDs")
	defer span.End()

	ids := s.ledger.list()

	span.SetAttributes(attribute.Int("id_count", len(ids)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Count returns the number of stored points.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Count")
	defer span.End()

	coll, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return coll.Count(), nil
}

// Close closes the ChromemStore.
// chromem-go handles persistence automatically, no explicit close needed.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// Ensure ChromemStore implements Store interface.
var _ Store = (*ChromemStore)(nil)
