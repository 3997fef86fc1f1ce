// Package generation produces answers from retrieved context.
package generation

import (
	"context"
	"errors"
)

// ErrGenerationFailed indicates the generation backend failed or timed out.
// Callers degrade to a retrieval-only answer rather than failing the query.
var ErrGenerationFailed = errors.New("generation failed")

// Request carries everything a generator needs for one answer.
type Request struct {
	// Query is the user's question.
	Query string

	// Intent is the classified query intent, used for model and prompt
	// selection.
	Intent string

	// Context holds the retrieved chunk contents, best first.
	Context []string
}

// Answer is a generated response.
type Answer struct {
	// Text is the answer body.
	Text string

	// Model names the model that produced the text, empty for static
	// generators.
	Model string

	// Degraded is set when the answer was assembled without the
	// generation backend.
	Degraded bool
}

// Generator produces an answer for a query given retrieved context.
type Generator interface {
	Generate(ctx context.Context, req Request) (Answer, error)
}
