// Package embeddings provides embedding generation via a TEI-style HTTP service.
//
// The embedding model itself is an external collaborator. This package only
// fixes the contract the engine needs: order-preserving, fixed-dimension
// vectors, one per input text, with transient failures retried under bounded
// exponential backoff before being surfaced as ErrEmbeddingService.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingService indicates the embedding backend failed after all
	// retry attempts. Ingestion must treat this as failure of the whole
	// operation, never as partial success.
	ErrEmbeddingService = errors.New("embedding service failed")
)

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the base URL for the embedding API.
	BaseURL string

	// Model is the embedding model name, used for metrics labels.
	Model string

	// VectorSize is the expected embedding dimension. Responses with a
	// different dimension are rejected.
	VectorSize int

	// Timeout bounds each HTTP call to the backend.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int

	// RetryBackoff is the initial backoff duration, doubled on each retry.
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-large-en-v1.5"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Service generates embeddings by calling a TEI-style /embed endpoint.
type Service struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewService creates a new embedding service with the given configuration.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}, nil
}

// VectorSize returns the configured embedding dimension.
func (s *Service) VectorSize() int {
	return s.config.VectorSize
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts in one batched
// request. The result preserves input order, one vector per text.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		recordGeneration(s.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := s.embedWithRetry(ctx, texts)
	if err != nil {
		genErr = err
		return nil, genErr
	}

	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingService, len(vectors), len(texts))
		return nil, genErr
	}
	for i, v := range vectors {
		if len(v) != s.config.VectorSize {
			genErr = fmt.Errorf("%w: vector %d has dimension %d, expected %d",
				ErrEmbeddingService, i, len(v), s.config.VectorSize)
			return nil, genErr
		}
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		recordGeneration(s.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := s.embedWithRetry(ctx, []string{text})
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbeddingService)
		return nil, genErr
	}
	if len(vectors[0]) != s.config.VectorSize {
		genErr = fmt.Errorf("%w: query vector has dimension %d, expected %d",
			ErrEmbeddingService, len(vectors[0]), s.config.VectorSize)
		return nil, genErr
	}

	return vectors[0], nil
}

// embedWithRetry calls the backend with bounded exponential backoff.
// Only transient failures (network errors, 5xx, 429) are retried.
func (s *Service) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := s.config.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		vectors, transient, err := s.embedOnce(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if !transient {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
		}
		if attempt == s.config.MaxRetries {
			break
		}

		s.logger.Warn("embedding call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("%w after %d retries: %v", ErrEmbeddingService, s.config.MaxRetries, lastErr)
}

// embedOnce performs a single call to the /embed endpoint. The second return
// value reports whether a failure is transient and worth retrying.
func (s *Service) embedOnce(ctx context.Context, texts []string) ([][]float32, bool, error) {
	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, false, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		// Network failures and timeouts are transient unless the caller
		// canceled.
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, transient, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, false, fmt.Errorf("decoding response: %w", err)
	}

	return vectors, false, nil
}
