package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
)

// Default per-intent prompts. The sql prompt keeps the model from inventing
// tables; the analytical prompt asks for structure. Intents without an
// entry fall back to the general prompt.
var defaultPrompts = map[string]string{
	"sql":        "You are a database assistant. Answer using only the provided context. When the context contains table or column details, reference them exactly; never invent schema elements.",
	"similarity": "You are a search assistant. Compare and relate the items in the provided context to the user's query, noting which are most similar and why.",
	"analytical": "You are an analyst. Summarize and explain using only the provided context. Structure the answer with the key points first.",
	"general":    "You are a helpful assistant. Answer the question using only the provided context. If the context does not contain the answer, say so.",
}

// OllamaConfig configures the Ollama generation backend.
type OllamaConfig struct {
	// ServerURL is the Ollama server address.
	// Default: "http://localhost:11434"
	ServerURL string

	// DefaultModel answers general, similarity, and analytical queries.
	// Default: "llama3"
	DefaultModel string

	// CodeModel answers sql-intent queries.
	// Default: the default model.
	CodeModel string

	// Timeout bounds a single generation call.
	// Default: 60 seconds
	Timeout time.Duration

	// Prompts overrides the per-intent system prompts.
	Prompts map[string]string
}

// ApplyDefaults sets default values for unset fields.
func (c *OllamaConfig) ApplyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:11434"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "llama3"
	}
	if c.CodeModel == "" {
		c.CodeModel = c.DefaultModel
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// OllamaGenerator generates answers with a local Ollama server through
// langchaingo. The model and system prompt are selected per query intent.
type OllamaGenerator struct {
	llm    *ollama.LLM
	config OllamaConfig
	logger *zap.Logger
}

// NewOllamaGenerator creates an Ollama-backed generator.
func NewOllamaGenerator(config OllamaConfig, logger *zap.Logger) (*OllamaGenerator, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	llm, err := ollama.New(
		ollama.WithServerURL(config.ServerURL),
		ollama.WithModel(config.DefaultModel),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	return &OllamaGenerator{llm: llm, config: config, logger: logger}, nil
}

// modelForIntent selects the model for a query intent.
func (g *OllamaGenerator) modelForIntent(intent string) string {
	if intent == "sql" {
		return g.config.CodeModel
	}
	return g.config.DefaultModel
}

// promptForIntent selects the system prompt for a query intent.
func (g *OllamaGenerator) promptForIntent(intent string) string {
	if p, ok := g.config.Prompts[intent]; ok {
		return p
	}
	if p, ok := defaultPrompts[intent]; ok {
		return p
	}
	return defaultPrompts["general"]
}

// Generate produces an answer bounded by the configured timeout.
func (g *OllamaGenerator) Generate(ctx context.Context, req Request) (Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	model := g.modelForIntent(req.Intent)
	start := time.Now()

	resp, err := g.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, g.promptForIntent(req.Intent)),
		llms.TextParts(llms.ChatMessageTypeHuman, buildUserPrompt(req)),
	}, llms.WithModel(model))
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return Answer{}, fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	g.logger.Debug("generated answer",
		zap.String("model", model),
		zap.String("intent", req.Intent),
		zap.Duration("elapsed", time.Since(start)),
	)

	return Answer{Text: resp.Choices[0].Content, Model: model}, nil
}

// buildUserPrompt prepends the retrieved context block to the question.
func buildUserPrompt(req Request) string {
	if len(req.Context) == 0 {
		return req.Query
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	for i, chunk := range req.Context {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, chunk)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(req.Query)
	return b.String()
}

// Ensure OllamaGenerator implements Generator.
var _ Generator = (*OllamaGenerator)(nil)
