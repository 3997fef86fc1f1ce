// Package pipeline runs the end-to-end query path: validation, intent
// classification, access policy, retrieval, re-ranking, and generation.
//
// Every query, whatever its outcome, leaves a query log row behind. A
// failed generation backend degrades the answer instead of failing the
// query; only validation and retrieval errors surface to the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/generation"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/reranker"
	"github.com/fyrsmithlabs/corpusd/internal/retriever"
)

// ErrValidation indicates a malformed request: empty query or unknown role.
var ErrValidation = errors.New("invalid request")

// maxQueryLength bounds accepted query text.
const maxQueryLength = 10000

// queryLogTimeout bounds the detached query-log write.
const queryLogTimeout = 2 * time.Second

// Retriever is the slice of the retriever the pipeline needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, method string, topK int) ([]retriever.ScoredChunk, error)
	RetrieveFromDocument(ctx context.Context, query, documentID string, topK int) ([]retriever.ScoredChunk, error)
}

// QueryLogger records processed queries.
type QueryLogger interface {
	InsertQueryLog(ctx context.Context, log metadata.QueryLog) error
}

// Config tunes the pipeline.
type Config struct {
	// Method is the retrieval method, "vector" or "hybrid".
	// Default: "hybrid"
	Method string

	// TopK is the default number of sources per answer.
	// Default: 5
	TopK int

	// CandidateK is the size of the retrieval pool handed to the
	// reranker. Default: TopK * 2
	CandidateK int

	// SensitiveTerms gate queries to the admin role.
	SensitiveTerms []string

	// AllowedRoles whitelists request roles.
	AllowedRoles []string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Method == "" {
		c.Method = retriever.MethodHybrid
	}
	if c.TopK <= 0 {
		c.TopK = retriever.DefaultTopK
	}
	if c.CandidateK <= 0 {
		c.CandidateK = c.TopK * 2
	}
}

// Request is one query to process.
type Request struct {
	Query    string  `json:"query"`
	UserRole string  `json:"user_role"`
	TopK     int     `json:"top_k,omitempty"`
	Filters  Filters `json:"filters,omitempty"`
	Debug    bool    `json:"debug,omitempty"`
}

// Filters narrows retrieval. A set DocumentID scopes the search to that
// document's chunks.
type Filters struct {
	DocumentID string `json:"document_id,omitempty"`
}

// Response is the pipeline's answer.
type Response struct {
	Answer         string   `json:"answer"`
	Sources        []string `json:"sources"`
	RetrievalScore float64  `json:"retrieval_score"`
	Intent         string   `json:"intent"`
	Blocked        bool     `json:"blocked"`
	Degraded       bool     `json:"degraded"`
	Model          string   `json:"model,omitempty"`
	ExecutionTime  float64  `json:"execution_time"`
	Debug          *Debug   `json:"debug,omitempty"`
}

// Debug carries per-stage details when Request.Debug is set.
type Debug struct {
	Method     string   `json:"method"`
	Candidates []string `json:"candidates"`
	Reranked   []string `json:"reranked"`
}

// Pipeline wires the query path together.
type Pipeline struct {
	config     Config
	classifier Classifier
	policy     *accessPolicy
	retriever  Retriever
	reranker   reranker.Reranker
	generator  generation.Generator
	fallback   generation.Generator
	logs       QueryLogger
	logger     *zap.Logger
}

// New creates a pipeline. The generator may be nil for retrieval-only
// deployments; every answer is then degraded.
func New(config Config, classifier Classifier, r Retriever, rr reranker.Reranker, gen generation.Generator, logs QueryLogger, logger *zap.Logger) (*Pipeline, error) {
	if r == nil {
		return nil, errors.New("retriever is required")
	}
	if rr == nil {
		return nil, errors.New("reranker is required")
	}
	if logs == nil {
		return nil, errors.New("query logger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if classifier == nil {
		classifier = NewKeywordClassifier(nil, nil, nil)
	}

	return &Pipeline{
		config:     config,
		classifier: classifier,
		policy:     newAccessPolicy(config.SensitiveTerms, config.AllowedRoles),
		retriever:  r,
		reranker:   rr,
		generator:  gen,
		fallback:   &generation.StaticGenerator{},
		logs:       logs,
		logger:     logger,
	}, nil
}

// Process runs one query through the full path.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	outcome := "error"
	intent := ""
	defer func() {
		elapsed := time.Since(start)
		queriesTotal.WithLabelValues(outcome, intentLabel(intent)).Inc()
		queryDuration.Observe(elapsed.Seconds())

		// The log row must survive a cancelled or disconnected request,
		// so the write runs on a short detached context.
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), queryLogTimeout)
		defer cancel()
		if err := p.logs.InsertQueryLog(logCtx, metadata.QueryLog{
			QueryText:     req.Query,
			Timestamp:     start,
			ExecutionTime: elapsed.Seconds(),
		}); err != nil {
			p.logger.Warn("query log write failed", zap.Error(err))
		}
	}()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		outcome = "invalid"
		return nil, fmt.Errorf("%w: empty query", ErrValidation)
	}
	if len(query) > maxQueryLength {
		outcome = "invalid"
		return nil, fmt.Errorf("%w: query exceeds %d characters", ErrValidation, maxQueryLength)
	}

	role := req.UserRole
	if role == "" {
		role = RoleUser
	}
	if !p.policy.roleKnown(role) {
		outcome = "invalid"
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	intent = p.classifier.Classify(query)

	if p.policy.blocked(query, role) {
		outcome = "blocked"
		p.logger.Info("query blocked by access policy",
			zap.String("role", role),
			zap.String("intent", intent),
		)
		return &Response{
			Answer:        "Access to this content requires administrator privileges.",
			Sources:       []string{},
			Intent:        intent,
			Blocked:       true,
			ExecutionTime: time.Since(start).Seconds(),
		}, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = p.config.TopK
	}

	// Retrieve a wider candidate pool than topK so the reranker has
	// something to reorder.
	candidateK := p.config.CandidateK
	if candidateK < topK {
		candidateK = topK * 2
	}
	method := p.config.Method
	var (
		chunks []retriever.ScoredChunk
		err    error
	)
	if req.Filters.DocumentID != "" {
		method = retriever.MethodVector
		chunks, err = p.retriever.RetrieveFromDocument(ctx, query, req.Filters.DocumentID, candidateK)
	} else {
		chunks, err = p.retriever.Retrieve(ctx, query, method, candidateK)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}

	docs := make([]reranker.Document, len(chunks))
	candidateIDs := make([]string, len(chunks))
	for i, chunk := range chunks {
		docs[i] = reranker.Document{
			ID:      chunk.ChunkID,
			Content: chunk.Content,
			Score:   float32(chunk.Score),
		}
		candidateIDs[i] = chunk.ChunkID
	}

	ranked, err := p.reranker.Rerank(ctx, query, docs, topK)
	if err != nil {
		return nil, fmt.Errorf("reranking: %w", err)
	}

	sources := make([]string, len(ranked))
	contexts := make([]string, len(ranked))
	for i, doc := range ranked {
		sources[i] = doc.ID
		contexts[i] = doc.Content
	}

	var retrievalScore float64
	if len(ranked) > 0 {
		retrievalScore = float64(ranked[0].Score)
	}

	answer := p.generate(ctx, generation.Request{
		Query:   query,
		Intent:  intent,
		Context: contexts,
	})

	if answer.Degraded {
		outcome = "degraded"
	} else {
		outcome = "answered"
	}

	resp := &Response{
		Answer:         answer.Text,
		Sources:        sources,
		RetrievalScore: retrievalScore,
		Intent:         intent,
		Degraded:       answer.Degraded,
		Model:          answer.Model,
		ExecutionTime:  time.Since(start).Seconds(),
	}
	if req.Debug {
		resp.Debug = &Debug{
			Method:     method,
			Candidates: candidateIDs,
			Reranked:   sources,
		}
	}
	return resp, nil
}

// generate calls the configured generator and degrades to the fallback on
// any failure. A dead generation backend never fails the query.
func (p *Pipeline) generate(ctx context.Context, req generation.Request) generation.Answer {
	if p.generator != nil {
		answer, err := p.generator.Generate(ctx, req)
		if err == nil {
			return answer
		}
		p.logger.Warn("generation failed, degrading to retrieval-only answer",
			zap.String("intent", req.Intent),
			zap.Error(err),
		)
	}

	answer, err := p.fallback.Generate(ctx, req)
	if err != nil {
		// The static fallback cannot fail today; guard anyway.
		return generation.Answer{Text: "Unable to generate an answer.", Degraded: true}
	}
	return answer
}

func intentLabel(intent string) string {
	if intent == "" {
		return "unclassified"
	}
	return intent
}
