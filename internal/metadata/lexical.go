package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// LexicalHit is a chunk matched by keyword search with its term-frequency
// score. Scores are ordering-only; they are not comparable with vector
// similarity scores.
type LexicalHit struct {
	Chunk Chunk
	Score float64
}

// LexicalSearch runs a term-frequency keyword search over committed chunks.
//
// The query is tokenized the same way retrieval tokenizes chunk content;
// candidate rows are fetched with a LIKE prefilter per term and scored by
// total term occurrences, normalized by chunk length. Ties are broken by
// chunk id ascending so result order is deterministic.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]LexicalHit, error) {
	if limit <= 0 {
		return []LexicalHit{}, nil
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return []LexicalHit{}, nil
	}

	conditions := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)+1)
	args = append(args, StatusCommitted)
	for _, term := range terms {
		conditions = append(conditions, "LOWER(c.content) LIKE ?")
		args = append(args, "%"+term+"%")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.chunk_id, c.document_id, c.content, c.position
		FROM chunks c
		JOIN documents d ON d.document_id = c.document_id
		WHERE d.status = ? AND (%s)`, strings.Join(conditions, " OR ")), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Position); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if score := termFrequencyScore(terms, c.Content); score > 0 {
			hits = append(hits, LexicalHit{Chunk: c, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Tokenize splits text into lowercase terms of at least two characters,
// keeping alphanumerics and underscores.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r == '_':
			return false
		default:
			return true
		}
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// termFrequencyScore counts query term occurrences in content, normalized
// by the content's token count.
func termFrequencyScore(terms []string, content string) float64 {
	tokens := Tokenize(content)
	if len(tokens) == 0 {
		return 0
	}

	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}

	matches := 0
	for _, term := range terms {
		matches += counts[term]
	}

	return float64(matches) / float64(len(tokens))
}
