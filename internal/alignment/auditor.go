// Package alignment audits and repairs dual-store consistency.
//
// The invariant: every chunk of a committed document has exactly one vector,
// and every vector belongs to a committed chunk. Ingestion preserves this
// under normal operation; crashes and partial rollbacks can break it. The
// auditor diffs the two id sets and classifies every discrepancy as either a
// missing vector (committed chunk, no vector) or an orphan vector (vector,
// no committed chunk).
package alignment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// Embedder re-embeds chunk content during repair.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// MetadataStore is the slice of the metadata store the auditor needs.
type MetadataStore interface {
	CommittedChunkIDs(ctx context.Context) ([]string, error)
	ChunksByIDs(ctx context.Context, ids []string) (map[string]metadata.Chunk, error)
}

// Report is the outcome of one alignment check.
type Report struct {
	// MissingVectors are committed chunk ids with no vector.
	MissingVectors []string `json:"missing_vectors"`

	// OrphanVectors are vector chunk ids with no committed chunk.
	OrphanVectors []string `json:"orphan_vectors"`

	CheckedChunks  int           `json:"checked_chunks"`
	CheckedVectors int           `json:"checked_vectors"`
	Duration       time.Duration `json:"duration"`
	CheckedAt      time.Time     `json:"checked_at"`
}

// Aligned reports whether the two stores agree.
func (r *Report) Aligned() bool {
	return len(r.MissingVectors) == 0 && len(r.OrphanVectors) == 0
}

// RepairResult is the outcome of one repair pass.
type RepairResult struct {
	// RestoredVectors are chunk ids re-embedded and upserted.
	RestoredVectors []string `json:"restored_vectors"`

	// DeletedOrphans are vector chunk ids removed.
	DeletedOrphans []string `json:"deleted_orphans"`

	// DroppedChunks are missing-vector chunk ids whose metadata row had
	// disappeared between check and repair; nothing to restore.
	DroppedChunks []string `json:"dropped_chunks,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Auditor checks and repairs the chunk/vector alignment invariant.
type Auditor struct {
	meta     MetadataStore
	vectors  vectorstore.Store
	embedder Embedder
	logger   *zap.Logger
}

// NewAuditor creates an alignment auditor. The embedder may be nil if only
// Check is used; Repair requires it.
func NewAuditor(meta MetadataStore, vectors vectorstore.Store, embedder Embedder, logger *zap.Logger) (*Auditor, error) {
	if meta == nil {
		return nil, errors.New("metadata store is required")
	}
	if vectors == nil {
		return nil, errors.New("vector store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{meta: meta, vectors: vectors, embedder: embedder, logger: logger}, nil
}

// Check diffs the committed chunk id set against the vector id set.
// Read-only; never mutates either store.
func (a *Auditor) Check(ctx context.Context) (*Report, error) {
	start := time.Now()

	chunkIDs, err := a.meta.CommittedChunkIDs(ctx)
	if err != nil {
		checksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("listing committed chunks: %w", err)
	}

	vectorIDs, err := a.vectors.ListChunkIDs(ctx)
	if err != nil {
		checksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("listing vectors: %w", err)
	}

	chunkSet := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		chunkSet[id] = struct{}{}
	}
	vectorSet := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = struct{}{}
	}

	report := &Report{
		CheckedChunks:  len(chunkIDs),
		CheckedVectors: len(vectorIDs),
		CheckedAt:      start,
	}

	for _, id := range chunkIDs {
		if _, ok := vectorSet[id]; !ok {
			report.MissingVectors = append(report.MissingVectors, id)
		}
	}
	for _, id := range vectorIDs {
		if _, ok := chunkSet[id]; !ok {
			report.OrphanVectors = append(report.OrphanVectors, id)
		}
	}
	sort.Strings(report.MissingVectors)
	sort.Strings(report.OrphanVectors)

	report.Duration = time.Since(start)

	recordCheck(report)

	if !report.Aligned() {
		a.logger.Warn("alignment drift detected",
			zap.Int("missing_vectors", len(report.MissingVectors)),
			zap.Int("orphan_vectors", len(report.OrphanVectors)),
			zap.Int("checked_chunks", report.CheckedChunks),
			zap.Int("checked_vectors", report.CheckedVectors),
		)
	}

	return report, nil
}

// Repair runs a check and then converges the vector store toward the
// metadata store: missing vectors are re-embedded from chunk content and
// upserted, orphan vectors are deleted. Idempotent; a second consecutive
// run performs zero actions.
func (a *Auditor) Repair(ctx context.Context) (*RepairResult, error) {
	start := time.Now()

	report, err := a.Check(ctx)
	if err != nil {
		return nil, err
	}

	result := &RepairResult{}

	if len(report.MissingVectors) > 0 {
		if a.embedder == nil {
			return nil, errors.New("embedder required to restore missing vectors")
		}

		chunks, err := a.meta.ChunksByIDs(ctx, report.MissingVectors)
		if err != nil {
			return nil, fmt.Errorf("fetching chunks for repair: %w", err)
		}

		var texts []string
		var toRestore []metadata.Chunk
		for _, id := range report.MissingVectors {
			chunk, ok := chunks[id]
			if !ok {
				// Row vanished since the check; nothing left to restore.
				result.DroppedChunks = append(result.DroppedChunks, id)
				continue
			}
			toRestore = append(toRestore, chunk)
			texts = append(texts, chunk.Content)
		}

		if len(toRestore) > 0 {
			vectors, err := a.embedder.EmbedDocuments(ctx, texts)
			if err != nil {
				return nil, fmt.Errorf("re-embedding %d chunks: %w", len(toRestore), err)
			}

			points := make([]vectorstore.Point, len(toRestore))
			for i, chunk := range toRestore {
				points[i] = vectorstore.Point{
					ChunkID:    chunk.ID,
					DocumentID: chunk.DocumentID,
					Vector:     vectors[i],
				}
				result.RestoredVectors = append(result.RestoredVectors, chunk.ID)
			}

			if err := a.vectors.Upsert(ctx, points); err != nil {
				return nil, fmt.Errorf("restoring %d vectors: %w", len(points), err)
			}
		}
	}

	if len(report.OrphanVectors) > 0 {
		if err := a.vectors.Delete(ctx, report.OrphanVectors); err != nil {
			return nil, fmt.Errorf("deleting %d orphan vectors: %w", len(report.OrphanVectors), err)
		}
		result.DeletedOrphans = report.OrphanVectors
	}

	result.Duration = time.Since(start)

	repairsTotal.WithLabelValues("restored").Add(float64(len(result.RestoredVectors)))
	repairsTotal.WithLabelValues("deleted_orphan").Add(float64(len(result.DeletedOrphans)))

	if len(result.RestoredVectors) > 0 || len(result.DeletedOrphans) > 0 {
		a.logger.Info("alignment repaired",
			zap.Int("restored_vectors", len(result.RestoredVectors)),
			zap.Int("deleted_orphans", len(result.DeletedOrphans)),
			zap.Int("dropped_chunks", len(result.DroppedChunks)),
			zap.Duration("elapsed", result.Duration),
		)
	}

	return result, nil
}
