// Package retriever turns queries into scored, hydrated chunks.
//
// Two retrieval methods are supported. Vector: embed the query and search
// the vector store. Hybrid: run vector and lexical search in parallel lists
// and merge them with reciprocal-rank fusion. Either way, results are
// hydrated from the metadata store; a vector hit with no committed metadata
// row is a symptom of store drift, so it is dropped, counted, and logged
// rather than surfaced half-empty.
package retriever

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

// Retrieval methods.
const (
	MethodVector = "vector"
	MethodHybrid = "hybrid"
)

// rrfK dampens the rank contribution in reciprocal-rank fusion.
// score(chunk) = sum over lists of 1/(rrfK + rank), rank starting at 1.
const rrfK = 60

// DefaultTopK is used when the caller passes topK <= 0.
const DefaultTopK = 5

// ErrUnknownMethod indicates an unsupported retrieval method.
var ErrUnknownMethod = errors.New("unknown retrieval method")

// Embedder embeds query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// MetadataStore is the slice of the metadata store retrieval needs.
type MetadataStore interface {
	ChunksByIDs(ctx context.Context, ids []string) (map[string]metadata.Chunk, error)
	MetadataForChunk(ctx context.Context, chunkID string) ([]metadata.Entry, error)
	LexicalSearch(ctx context.Context, query string, limit int) ([]metadata.LexicalHit, error)
}

// VectorSearcher is the slice of the vector store retrieval needs.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]vectorstore.Hit, error)
	SearchByDocument(ctx context.Context, vector []float32, k int, documentID string) ([]vectorstore.Hit, error)
}

// ScoredChunk is one retrieval result.
type ScoredChunk struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Position   int               `json:"position"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Score      float64           `json:"score"`
	Source     string            `json:"source"`
}

// Retriever executes vector and hybrid retrieval.
type Retriever struct {
	embedder Embedder
	meta     MetadataStore
	vectors  VectorSearcher
	logger   *zap.Logger
}

// New creates a retriever.
func New(embedder Embedder, meta MetadataStore, vectors VectorSearcher, logger *zap.Logger) (*Retriever, error) {
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
	return &Retriever{embedder: embedder, meta: meta, vectors: vectors, logger: logger}, nil
}

// Retrieve returns up to topK chunks for the query, ordered by
// non-increasing score.
func (r *Retriever) Retrieve(ctx context.Context, query string, method string, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	start := time.Now()

	var (
		chunks []ScoredChunk
		err    error
	)
	switch method {
	case MethodVector, "":
		chunks, err = r.vectorRetrieve(ctx, query, topK)
	case MethodHybrid:
		chunks, err = r.hybridRetrieve(ctx, query, topK)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if err != nil {
		return nil, err
	}

	retrievalDuration.WithLabelValues(methodLabel(method)).Observe(time.Since(start).Seconds())
	return chunks, nil
}

func methodLabel(method string) string {
	if method == "" {
		return MethodVector
	}
	return method
}

// RetrieveFromDocument returns up to topK chunks for the query, restricted
// to a single document. Scoped retrieval is always vector search; a lexical
// pass over one document adds little beyond what the vectors find.
func (r *Retriever) RetrieveFromDocument(ctx context.Context, query, documentID string, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	start := time.Now()

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := r.vectors.SearchByDocument(ctx, vector, topK, documentID)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	chunks, err := r.resolveHits(ctx, hits)
	if err != nil {
		return nil, err
	}

	retrievalDuration.WithLabelValues(MethodVector).Observe(time.Since(start).Seconds())
	return chunks, nil
}

func (r *Retriever) vectorRetrieve(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	hits, err := r.vectorHits(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return r.resolveHits(ctx, hits)
}

func (r *Retriever) resolveHits(ctx context.Context, hits []vectorstore.Hit) ([]ScoredChunk, error) {
	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ChunkID
	}

	rows, err := r.hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		chunk, ok := rows[hit.ChunkID]
		if !ok {
			r.reportDropped(hit.ChunkID)
			continue
		}
		results = append(results, r.scored(ctx, chunk, float64(hit.Score), MethodVector))
	}
	return results, nil
}

func (r *Retriever) hybridRetrieve(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	vectorHits, err := r.vectorHits(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	lexicalHits, err := r.meta.LexicalSearch(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	vectorList := make([]string, len(vectorHits))
	for i, hit := range vectorHits {
		vectorList[i] = hit.ChunkID
	}
	lexicalList := make([]string, len(lexicalHits))
	for i, hit := range lexicalHits {
		lexicalList[i] = hit.Chunk.ID
	}

	fused := fuseRanks(vectorList, lexicalList)

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.chunkID
	}

	rows, err := r.hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredChunk, 0, len(fused))
	for _, f := range fused {
		chunk, ok := rows[f.chunkID]
		if !ok {
			r.reportDropped(f.chunkID)
			continue
		}
		results = append(results, r.scored(ctx, chunk, f.score, MethodHybrid))
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func (r *Retriever) vectorHits(ctx context.Context, query string, topK int) ([]vectorstore.Hit, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := r.vectors.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

func (r *Retriever) hydrate(ctx context.Context, ids []string) (map[string]metadata.Chunk, error) {
	rows, err := r.meta.ChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrating chunks: %w", err)
	}
	return rows, nil
}

func (r *Retriever) scored(ctx context.Context, chunk metadata.Chunk, score float64, source string) ScoredChunk {
	result := ScoredChunk{
		ChunkID:    chunk.ID,
		DocumentID: chunk.DocumentID,
		Content:    chunk.Content,
		Position:   chunk.Position,
		Score:      score,
		Source:     source,
	}

	entries, err := r.meta.MetadataForChunk(ctx, chunk.ID)
	if err != nil {
		r.logger.Warn("metadata lookup failed", zap.String("chunk_id", chunk.ID), zap.Error(err))
		return result
	}
	if len(entries) > 0 {
		result.Metadata = make(map[string]string, len(entries))
		for _, e := range entries {
			result.Metadata[e.Key] = e.Value
		}
	}
	return result
}

// reportDropped records a vector hit that had no committed metadata row.
// This is exactly the drift the alignment auditor exists to fix.
func (r *Retriever) reportDropped(chunkID string) {
	droppedHits.Inc()
	r.logger.Warn("dropping unhydratable hit, stores may be misaligned",
		zap.String("chunk_id", chunkID),
	)
}

type fusedHit struct {
	chunkID string
	score   float64
}

// fuseRanks merges ranked id lists with reciprocal-rank fusion. A chunk
// appearing in several lists accumulates a contribution from each, so
// agreement between retrieval methods outranks a single high placement.
// Ties break by chunk id ascending for deterministic output.
func fuseRanks(lists ...[]string) []fusedHit {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / float64(rrfK+rank+1)
		}
	}

	fused := make([]fusedHit, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, fusedHit{chunkID: id, score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].chunkID < fused[j].chunkID
	})
	return fused
}
