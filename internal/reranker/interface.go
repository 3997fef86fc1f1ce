// Package reranker provides second-pass re-ranking of retrieval candidates.
package reranker

import (
	"context"
)

// Document is a retrieval candidate to be re-ranked.
type Document struct {
	ID      string  // Unique identifier for the document
	Content string  // Text content to be re-ranked
	Score   float32 // Original retrieval score
}

// ScoredDocument is a document with re-ranking scores attached.
type ScoredDocument struct {
	Document
	RerankerScore float32 // Score from the re-ranker (0.0-1.0)
	OriginalRank  int     // Original rank position in the candidate list (0-indexed)
}

// Reranker re-orders retrieval candidates by query relevance.
//
// Implementations never introduce new candidates and never return more than
// topK results. Scores are ordering-only; they are not comparable across
// reranker implementations or with retrieval scores.
type Reranker interface {
	// Rerank re-ranks documents and returns at most topK of them, best
	// first. topK <= 0 means all.
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error)

	// Close releases any resources held by the reranker.
	Close() error
}
