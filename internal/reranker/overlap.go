package reranker

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

// TermOverlapReranker re-ranks by blending retrieval score with query term
// overlap. Retrieval finds semantically close chunks; the overlap pass
// promotes the ones that actually mention the query's terms.
type TermOverlapReranker struct{}

// NewTermOverlapReranker creates a term-overlap reranker.
func NewTermOverlapReranker() *TermOverlapReranker {
	return &TermOverlapReranker{}
}

// Rerank scores each document by the fraction of query terms it contains,
// blends that with the original score at equal weight, and returns the top
// K by blended score. Ties break by original rank so equal-scoring
// candidates keep their retrieval order.
func (r *TermOverlapReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if topK <= 0 {
		topK = len(docs)
	}
	if len(docs) == 0 {
		return []ScoredDocument{}, nil
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return rankByOriginalScore(docs, topK), nil
	}

	type candidate struct {
		doc     ScoredDocument
		blended float32
	}

	candidates := make([]candidate, len(docs))
	for i, doc := range docs {
		overlap := termOverlap(queryTerms, tokenize(doc.Content))

		const originalWeight = 0.5
		const overlapWeight = 0.5
		blended := originalWeight*doc.Score + overlapWeight*overlap

		candidates[i] = candidate{
			doc: ScoredDocument{
				Document:      doc,
				RerankerScore: overlap,
				OriginalRank:  i,
			},
			blended: blended,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].blended > candidates[j].blended
	})

	limit := topK
	if limit > len(candidates) {
		limit = len(candidates)
	}

	result := make([]ScoredDocument, limit)
	for i := 0; i < limit; i++ {
		result[i] = candidates[i].doc
	}
	return result, nil
}

// Close closes the reranker. TermOverlapReranker holds no resources.
func (r *TermOverlapReranker) Close() error {
	return nil
}

// tokenize splits text into lowercase terms longer than two characters,
// dropping common English stopwords.
func tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})

	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if !stopwords[token] && len(token) > 2 {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true, "this": true,
	"that": true, "these": true, "those": true, "i": true, "you": true, "he": true,
	"she": true, "it": true, "we": true, "they": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true,
}

// termOverlap returns the fraction of unique query terms present in the
// document tokens, between 0.0 and 1.0.
func termOverlap(queryTerms, docTerms []string) float32 {
	if len(queryTerms) == 0 {
		return 0.0
	}

	docSet := make(map[string]bool, len(docTerms))
	for _, term := range docTerms {
		docSet[term] = true
	}

	unique := make(map[string]bool, len(queryTerms))
	matches := 0
	for _, term := range queryTerms {
		if unique[term] {
			continue
		}
		unique[term] = true
		if docSet[term] {
			matches++
		}
	}

	return float32(matches) / float32(len(unique))
}

// rankByOriginalScore is the fallback when the query yields no usable terms.
func rankByOriginalScore(docs []Document, topK int) []ScoredDocument {
	ranked := make([]ScoredDocument, len(docs))
	for i, doc := range docs {
		ranked[i] = ScoredDocument{
			Document:      doc,
			RerankerScore: doc.Score,
			OriginalRank:  i,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if topK < len(ranked) {
		ranked = ranked[:topK]
	}
	return ranked
}

// Ensure TermOverlapReranker implements Reranker.
var _ Reranker = (*TermOverlapReranker)(nil)
