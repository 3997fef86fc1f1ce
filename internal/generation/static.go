package generation

import (
	"context"
	"fmt"
	"strings"
)

// StaticGenerator answers without a model backend: the top retrieved chunks
// become the answer body. Used for offline mode and tests, and mirrors the
// shape of the degraded fallback the pipeline builds when the real backend
// is down.
type StaticGenerator struct {
	// MaxChunks caps how many context chunks the answer includes.
	// Zero means 3.
	MaxChunks int
}

// Generate assembles an answer from the retrieved context.
func (g *StaticGenerator) Generate(ctx context.Context, req Request) (Answer, error) {
	limit := g.MaxChunks
	if limit <= 0 {
		limit = 3
	}

	if len(req.Context) == 0 {
		return Answer{
			Text:     fmt.Sprintf("No relevant information found for: %s", req.Query),
			Degraded: true,
		}, nil
	}

	chunks := req.Context
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}

	var b strings.Builder
	b.WriteString("Based on the most relevant matches:\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, chunk)
	}

	return Answer{Text: b.String(), Degraded: true}, nil
}

// Ensure StaticGenerator implements Generator.
var _ Generator = (*StaticGenerator)(nil)
