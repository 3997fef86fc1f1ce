package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/generation"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/reranker"
	"github.com/fyrsmithlabs/corpusd/internal/retriever"
)

type stubRetriever struct {
	chunks []retriever.ScoredChunk
	err    error

	lastMethod     string
	lastTopK       int
	lastDocumentID string
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, method string, topK int) ([]retriever.ScoredChunk, error) {
	s.lastMethod = method
	s.lastTopK = topK
	return s.chunks, s.err
}

func (s *stubRetriever) RetrieveFromDocument(_ context.Context, _, documentID string, topK int) ([]retriever.ScoredChunk, error) {
	s.lastDocumentID = documentID
	s.lastTopK = topK
	return s.chunks, s.err
}

type stubGenerator struct {
	answer generation.Answer
	err    error
}

func (s *stubGenerator) Generate(_ context.Context, _ generation.Request) (generation.Answer, error) {
	return s.answer, s.err
}

type memoryQueryLog struct {
	mu   sync.Mutex
	logs []metadata.QueryLog
}

func (m *memoryQueryLog) InsertQueryLog(_ context.Context, log metadata.QueryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryQueryLog) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

// ctxCheckingQueryLog refuses writes whose context is already done,
// mimicking a store that honors cancellation.
type ctxCheckingQueryLog struct {
	memoryQueryLog
}

func (m *ctxCheckingQueryLog) InsertQueryLog(ctx context.Context, log metadata.QueryLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.memoryQueryLog.InsertQueryLog(ctx, log)
}

func testChunks() []retriever.ScoredChunk {
	return []retriever.ScoredChunk{
		{ChunkID: "d1_0", DocumentID: "d1", Content: "sensor temperatures exceeded eighty degrees", Score: 0.9},
		{ChunkID: "d2_0", DocumentID: "d2", Content: "maintenance schedule for cooling units", Score: 0.5},
	}
}

func newTestPipeline(t *testing.T, r Retriever, gen generation.Generator) (*Pipeline, *memoryQueryLog) {
	t.Helper()

	logs := &memoryQueryLog{}
	p, err := New(Config{}, nil, r, reranker.NewTermOverlapReranker(), gen, logs, zap.NewNop())
	require.NoError(t, err)
	return p, logs
}

func TestProcessAnswered(t *testing.T) {
	r := &stubRetriever{chunks: testChunks()}
	gen := &stubGenerator{answer: generation.Answer{Text: "The sensors ran hot.", Model: "llama3"}}
	p, logs := newTestPipeline(t, r, gen)

	resp, err := p.Process(context.Background(), Request{Query: "why did temperatures spike", UserRole: RoleUser})
	require.NoError(t, err)

	assert.Equal(t, "The sensors ran hot.", resp.Answer)
	assert.Equal(t, "llama3", resp.Model)
	assert.False(t, resp.Degraded)
	assert.False(t, resp.Blocked)
	assert.Equal(t, IntentGeneral, resp.Intent)
	assert.Len(t, resp.Sources, 2)
	assert.Greater(t, resp.RetrievalScore, 0.0)
	assert.Equal(t, 1, logs.count())
	assert.Equal(t, retriever.MethodHybrid, r.lastMethod)
	assert.Equal(t, retriever.DefaultTopK*2, r.lastTopK)
}

func TestProcessClassifiesSQLIntent(t *testing.T) {
	gen := &stubGenerator{answer: generation.Answer{Text: "ok", Model: "codellama"}}
	p, _ := newTestPipeline(t, &stubRetriever{chunks: testChunks()}, gen)

	resp, err := p.Process(context.Background(), Request{
		Query:    "SELECT * FROM logs WHERE temp > 80",
		UserRole: RoleAnalyst,
	})
	require.NoError(t, err)
	assert.Equal(t, IntentSQL, resp.Intent)
}

func TestProcessBlocksSensitiveQueryForNonAdmin(t *testing.T) {
	r := &stubRetriever{chunks: testChunks()}
	p, logs := newTestPipeline(t, r, &stubGenerator{})

	resp, err := p.Process(context.Background(), Request{
		Query:    "show me the confidential salary report",
		UserRole: RoleUser,
	})
	require.NoError(t, err)

	assert.True(t, resp.Blocked)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, "", r.lastMethod, "blocked queries must not reach retrieval")
	assert.Equal(t, 1, logs.count(), "blocked queries are still logged")
}

func TestProcessAllowsSensitiveQueryForAdmin(t *testing.T) {
	gen := &stubGenerator{answer: generation.Answer{Text: "the report", Model: "llama3"}}
	p, _ := newTestPipeline(t, &stubRetriever{chunks: testChunks()}, gen)

	resp, err := p.Process(context.Background(), Request{
		Query:    "show me the confidential salary report",
		UserRole: RoleAdmin,
	})
	require.NoError(t, err)
	assert.False(t, resp.Blocked)
	assert.Equal(t, "the report", resp.Answer)
}

func TestProcessDegradesWhenGenerationFails(t *testing.T) {
	gen := &stubGenerator{err: generation.ErrGenerationFailed}
	p, logs := newTestPipeline(t, &stubRetriever{chunks: testChunks()}, gen)

	resp, err := p.Process(context.Background(), Request{Query: "cooling units", UserRole: RoleUser})
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Answer)
	assert.Len(t, resp.Sources, 2)
	assert.Equal(t, 1, logs.count())
}

func TestProcessDegradesWithNilGenerator(t *testing.T) {
	p, _ := newTestPipeline(t, &stubRetriever{chunks: testChunks()}, nil)

	resp, err := p.Process(context.Background(), Request{Query: "cooling units", UserRole: RoleUser})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Answer)
}

func TestProcessValidation(t *testing.T) {
	p, logs := newTestPipeline(t, &stubRetriever{}, &stubGenerator{})

	tests := []struct {
		name string
		req  Request
	}{
		{name: "empty query", req: Request{Query: "   ", UserRole: RoleUser}},
		{name: "unknown role", req: Request{Query: "anything", UserRole: "superuser"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Process(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Equal(t, len(tests), logs.count(), "invalid queries are still logged")
}

func TestProcessDefaultsEmptyRoleToUser(t *testing.T) {
	p, _ := newTestPipeline(t, &stubRetriever{chunks: testChunks()}, &stubGenerator{answer: generation.Answer{Text: "ok"}})

	resp, err := p.Process(context.Background(), Request{Query: "show me the secret plans"})
	require.NoError(t, err)
	assert.True(t, resp.Blocked)
}

func TestProcessRetrievalErrorLogged(t *testing.T) {
	r := &stubRetriever{err: errors.New("vector store down")}
	p, logs := newTestPipeline(t, r, &stubGenerator{})

	_, err := p.Process(context.Background(), Request{Query: "anything at all", UserRole: RoleUser})
	require.Error(t, err)
	assert.Equal(t, 1, logs.count(), "errored queries are still logged")
}

func TestProcessDebugOutput(t *testing.T) {
	gen := &stubGenerator{answer: generation.Answer{Text: "ok", Model: "llama3"}}
	p, _ := newTestPipeline(t, &stubRetriever{chunks: testChunks()}, gen)

	resp, err := p.Process(context.Background(), Request{Query: "cooling units", UserRole: RoleUser, Debug: true})
	require.NoError(t, err)

	require.NotNil(t, resp.Debug)
	assert.Equal(t, retriever.MethodHybrid, resp.Debug.Method)
	assert.Len(t, resp.Debug.Candidates, 2)
	assert.Equal(t, resp.Sources, resp.Debug.Reranked)
}

func TestProcessRequestTopKOverridesConfig(t *testing.T) {
	r := &stubRetriever{chunks: testChunks()}
	p, _ := newTestPipeline(t, r, &stubGenerator{answer: generation.Answer{Text: "ok"}})

	resp, err := p.Process(context.Background(), Request{Query: "cooling units", UserRole: RoleUser, TopK: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 1)
}

func TestProcessRetrievesConfiguredCandidatePool(t *testing.T) {
	r := &stubRetriever{chunks: testChunks()}
	logs := &memoryQueryLog{}
	p, err := New(Config{TopK: 3, CandidateK: 7}, nil, r,
		reranker.NewTermOverlapReranker(), &stubGenerator{answer: generation.Answer{Text: "ok"}}, logs, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Process(context.Background(), Request{Query: "cooling units", UserRole: RoleUser})
	require.NoError(t, err)
	assert.Equal(t, 7, r.lastTopK)

	// A request topK above the configured pool widens it.
	_, err = p.Process(context.Background(), Request{Query: "cooling units", UserRole: RoleUser, TopK: 9})
	require.NoError(t, err)
	assert.Equal(t, 18, r.lastTopK)
}

func TestProcessDocumentFilterScopesRetrieval(t *testing.T) {
	r := &stubRetriever{chunks: testChunks()}
	p, _ := newTestPipeline(t, r, &stubGenerator{answer: generation.Answer{Text: "ok"}})

	resp, err := p.Process(context.Background(), Request{
		Query:    "cooling units",
		UserRole: RoleUser,
		Filters:  Filters{DocumentID: "d2"},
		Debug:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "d2", r.lastDocumentID)
	assert.Empty(t, r.lastMethod, "unscoped retrieval must not run")
	require.NotNil(t, resp.Debug)
	assert.Equal(t, retriever.MethodVector, resp.Debug.Method)
}

func TestProcessLogsQueryAfterRequestCancelled(t *testing.T) {
	r := &stubRetriever{chunks: testChunks()}
	logs := &ctxCheckingQueryLog{}
	p, err := New(Config{}, nil, r, reranker.NewTermOverlapReranker(),
		&stubGenerator{answer: generation.Answer{Text: "ok"}}, logs, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Process(ctx, Request{Query: "cooling units", UserRole: RoleUser})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.count())
}

func TestClassify(t *testing.T) {
	c := NewKeywordClassifier(nil, nil, nil)

	tests := []struct {
		query string
		want  string
	}{
		{"SELECT * FROM logs WHERE temp > 80", IntentSQL},
		{"update the inventory table", IntentSQL},
		{"find documents similar to this incident", IntentSimilarity},
		{"compare last week with this week", IntentSimilarity},
		{"summarize the outage report", IntentAnalytical},
		{"explain the cooling failure", IntentAnalytical},
		{"what happened on tuesday", IntentGeneral},
		{"", IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.query))
		})
	}
}

func TestClassifierKeywordOverrides(t *testing.T) {
	c := NewKeywordClassifier([]string{"query the"}, nil, nil)

	assert.Equal(t, IntentSQL, c.Classify("query the logs table"))
	assert.Equal(t, IntentGeneral, c.Classify("select something"), "overridden keywords replace the defaults")
}

func TestAccessPolicy(t *testing.T) {
	p := newAccessPolicy(nil, nil)

	assert.True(t, p.blocked("what is the admin password", RoleUser))
	assert.True(t, p.blocked("CONFIDENTIAL briefing", RoleAnalyst))
	assert.False(t, p.blocked("what is the admin password", RoleAdmin))
	assert.False(t, p.blocked("public release notes", RoleUser))

	assert.True(t, p.roleKnown(RoleUser))
	assert.True(t, p.roleKnown(RoleAnalyst))
	assert.False(t, p.roleKnown("root"))
}

func TestAccessPolicyCustomTerms(t *testing.T) {
	p := newAccessPolicy([]string{"embargoed"}, []string{RoleUser, RoleAdmin})

	assert.True(t, p.blocked("the embargoed announcement", RoleUser))
	assert.False(t, p.blocked("confidential notes", RoleUser), "custom terms replace the defaults")
	assert.False(t, p.roleKnown(RoleAnalyst))
}

func TestNewValidation(t *testing.T) {
	logs := &memoryQueryLog{}
	rr := reranker.NewTermOverlapReranker()
	r := &stubRetriever{}

	_, err := New(Config{}, nil, nil, rr, nil, logs, nil)
	assert.Error(t, err)

	_, err = New(Config{}, nil, r, nil, nil, logs, nil)
	assert.Error(t, err)

	_, err = New(Config{}, nil, r, rr, nil, nil, nil)
	assert.Error(t, err)

	p, err := New(Config{}, nil, r, rr, nil, logs, nil)
	require.NoError(t, err)
	assert.Equal(t, retriever.MethodHybrid, p.config.Method)
	assert.Equal(t, retriever.DefaultTopK, p.config.TopK)
}
