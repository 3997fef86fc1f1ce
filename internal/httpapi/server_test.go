package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/alignment"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/pipeline"
)

type fakeIngestor struct {
	result    ingest.Result
	err       error
	deleteErr error

	lastRequest ingest.Request
	deletedID   string
}

func (f *fakeIngestor) AddDocument(_ context.Context, req ingest.Request) (ingest.Result, error) {
	f.lastRequest = req
	return f.result, f.err
}

func (f *fakeIngestor) DeleteDocument(_ context.Context, documentID string) error {
	f.deletedID = documentID
	return f.deleteErr
}

type fakeQueries struct {
	resp *pipeline.Response
	err  error

	lastRequest pipeline.Request
}

func (f *fakeQueries) Process(_ context.Context, req pipeline.Request) (*pipeline.Response, error) {
	f.lastRequest = req
	return f.resp, f.err
}

type fakeAuditor struct {
	report *alignment.Report
	repair *alignment.RepairResult
	err    error
}

func (f *fakeAuditor) Check(_ context.Context) (*alignment.Report, error) {
	return f.report, f.err
}

func (f *fakeAuditor) Repair(_ context.Context) (*alignment.RepairResult, error) {
	return f.repair, f.err
}

type fakeCatalog struct {
	docs   []metadata.Document
	doc    metadata.Document
	docErr error
	chunks int
	logs   []metadata.QueryLog
}

func (f *fakeCatalog) ListDocuments(_ context.Context) ([]metadata.Document, error) {
	return f.docs, nil
}

func (f *fakeCatalog) GetDocument(_ context.Context, _ string) (metadata.Document, error) {
	return f.doc, f.docErr
}

func (f *fakeCatalog) CountChunks(_ context.Context, _ string) (int, error) {
	return f.chunks, nil
}

func (f *fakeCatalog) RecentQueryLogs(_ context.Context, _ int) ([]metadata.QueryLog, error) {
	return f.logs, nil
}

type serverFixture struct {
	server   *Server
	ingestor *fakeIngestor
	queries  *fakeQueries
	auditor  *fakeAuditor
	catalog  *fakeCatalog
}

func setupTestServer(t *testing.T) *serverFixture {
	t.Helper()

	f := &serverFixture{
		ingestor: &fakeIngestor{},
		queries:  &fakeQueries{},
		auditor:  &fakeAuditor{},
		catalog:  &fakeCatalog{},
	}

	server, err := NewServer(f.ingestor, f.queries, f.auditor, f.catalog, zap.NewNop(), nil)
	require.NoError(t, err)
	f.server = server
	return f
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		f := setupTestServer(t)
		assert.Equal(t, "localhost", f.server.config.Host)
		assert.Equal(t, 9090, f.server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&fakeIngestor{}, &fakeQueries{}, &fakeAuditor{}, &fakeCatalog{}, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when a dependency is nil", func(t *testing.T) {
		_, err := NewServer(nil, &fakeQueries{}, &fakeAuditor{}, &fakeCatalog{}, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	f := setupTestServer(t)

	rec := doJSON(t, f.server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleMetrics(t *testing.T) {
	f := setupTestServer(t)

	rec := doJSON(t, f.server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleIngest(t *testing.T) {
	t.Run("ingests a document", func(t *testing.T) {
		f := setupTestServer(t)
		f.ingestor.result = ingest.Result{Status: ingest.StatusCommitted, DocumentID: "d1", ChunkCount: 3}

		rec := doJSON(t, f.server, http.MethodPost, "/api/v1/documents", IngestRequest{
			Filename:    "notes.txt",
			ContentType: "text/plain",
			Content:     "hello world",
			Metadata:    map[string]string{"source": "tests"},
		})

		assert.Equal(t, http.StatusCreated, rec.Code)

		var resp ingest.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, ingest.StatusCommitted, resp.Status)
		assert.Equal(t, "d1", resp.DocumentID)
		assert.Equal(t, 3, resp.ChunkCount)
		assert.Equal(t, "notes.txt", f.ingestor.lastRequest.Filename)
		assert.Equal(t, "tests", f.ingestor.lastRequest.Metadata["source"])
	})

	t.Run("returns 409 for an existing document", func(t *testing.T) {
		f := setupTestServer(t)
		f.ingestor.result = ingest.Result{Status: ingest.StatusAlreadyExists, DocumentID: "d1"}
		f.ingestor.err = ingest.ErrAlreadyExists

		rec := doJSON(t, f.server, http.MethodPost, "/api/v1/documents", IngestRequest{Content: "x"})
		assert.Equal(t, http.StatusConflict, rec.Code)

		var resp ingest.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, ingest.StatusAlreadyExists, resp.Status)
		assert.Equal(t, "d1", resp.DocumentID)
	})

	t.Run("returns 400 for empty content", func(t *testing.T) {
		f := setupTestServer(t)
		f.ingestor.err = ingest.ErrEmptyDocument

		rec := doJSON(t, f.server, http.MethodPost, "/api/v1/documents", IngestRequest{Content: ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 500 for ingestion failures", func(t *testing.T) {
		f := setupTestServer(t)
		f.ingestor.err = errors.New("vector store down")

		rec := doJSON(t, f.server, http.MethodPost, "/api/v1/documents", IngestRequest{Content: "x"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleGetDocument(t *testing.T) {
	t.Run("returns the document with its chunk count", func(t *testing.T) {
		f := setupTestServer(t)
		f.catalog.doc = metadata.Document{
			ID:        "d1",
			Filename:  "notes.txt",
			CreatedAt: time.Now(),
			Status:    metadata.StatusCommitted,
		}
		f.catalog.chunks = 4

		rec := doJSON(t, f.server, http.MethodGet, "/api/v1/documents/d1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp DocumentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "d1", resp.ID)
		assert.Equal(t, 4, resp.ChunkCount)
	})

	t.Run("returns 404 for an unknown document", func(t *testing.T) {
		f := setupTestServer(t)
		f.catalog.docErr = metadata.ErrNotFound

		rec := doJSON(t, f.server, http.MethodGet, "/api/v1/documents/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleDeleteDocument(t *testing.T) {
	t.Run("deletes a document", func(t *testing.T) {
		f := setupTestServer(t)

		rec := doJSON(t, f.server, http.MethodDelete, "/api/v1/documents/d1", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "d1", f.ingestor.deletedID)
	})

	t.Run("returns 404 for an unknown document", func(t *testing.T) {
		f := setupTestServer(t)
		f.ingestor.deleteErr = metadata.ErrNotFound

		rec := doJSON(t, f.server, http.MethodDelete, "/api/v1/documents/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleQuery(t *testing.T) {
	t.Run("returns the pipeline response", func(t *testing.T) {
		f := setupTestServer(t)
		f.queries.resp = &pipeline.Response{
			Answer:  "the sensors ran hot",
			Sources: []string{"d1_0"},
			Intent:  pipeline.IntentGeneral,
		}

		rec := doJSON(t, f.server, http.MethodPost, "/api/v1/query", pipeline.Request{
			Query:    "why did temperatures spike",
			UserRole: pipeline.RoleUser,
		})
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp pipeline.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "the sensors ran hot", resp.Answer)
		assert.Equal(t, []string{"d1_0"}, resp.Sources)
	})

	t.Run("passes filters through to the pipeline", func(t *testing.T) {
		f := setupTestServer(t)
		f.queries.resp = &pipeline.Response{Answer: "scoped", Sources: []string{"d2_0"}}

		rec := doJSON(t, f.server, http.MethodPost, "/api/v1/query", pipeline.Request{
			Query:    "cooling schedule",
			UserRole: pipeline.RoleUser,
			Filters:  pipeline.Filters{DocumentID: "d2"},
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "d2", f.queries.lastRequest.Filters.DocumentID)
	})

	t.Run("returns 403 with the response body when blocked", func(t *testing.T) {
		f := setupTestServer(t)
		f.queries.resp = &pipeline.Response{Blocked: true, Intent: pipeline.IntentGeneral}

		rec := doJSON(t, f.server, http.MethodPost, "/api/v1/query", pipeline.Request{
			Query:    "confidential report",
			UserRole: pipeline.RoleUser,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var resp pipeline.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Blocked)
	})

	t.Run("returns 400 for validation failures", func(t *testing.T) {
		f := setupTestServer(t)
		f.queries.err = pipeline.ErrValidation

		rec := doJSON(t, f.server, http.MethodPost, "/api/v1/query", pipeline.Request{Query: ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 500 for pipeline failures", func(t *testing.T) {
		f := setupTestServer(t)
		f.queries.err = errors.New("retrieval down")

		rec := doJSON(t, f.server, http.MethodPost, "/api/v1/query", pipeline.Request{Query: "x"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleAlignment(t *testing.T) {
	t.Run("check returns the report", func(t *testing.T) {
		f := setupTestServer(t)
		f.auditor.report = &alignment.Report{
			MissingVectors: []string{"d1_0"},
			CheckedChunks:  3,
			CheckedVectors: 2,
		}

		rec := doJSON(t, f.server, http.MethodGet, "/api/v1/alignment", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp alignment.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"d1_0"}, resp.MissingVectors)
		assert.False(t, resp.Aligned())
	})

	t.Run("repair returns the repair result", func(t *testing.T) {
		f := setupTestServer(t)
		f.auditor.repair = &alignment.RepairResult{RestoredVectors: []string{"d1_0"}}

		rec := doJSON(t, f.server, http.MethodPost, "/api/v1/alignment/repair", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp alignment.RepairResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"d1_0"}, resp.RestoredVectors)
	})

	t.Run("check errors return 500", func(t *testing.T) {
		f := setupTestServer(t)
		f.auditor.err = errors.New("store unavailable")

		rec := doJSON(t, f.server, http.MethodGet, "/api/v1/alignment", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleQueryLogs(t *testing.T) {
	t.Run("returns recent query logs", func(t *testing.T) {
		f := setupTestServer(t)
		f.catalog.logs = []metadata.QueryLog{
			{ID: 2, QueryText: "second", Timestamp: time.Now()},
			{ID: 1, QueryText: "first", Timestamp: time.Now()},
		}

		rec := doJSON(t, f.server, http.MethodGet, "/api/v1/query-logs", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp []QueryLogEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp, 2)
		assert.Equal(t, "second", resp[0].QueryText)
	})

	t.Run("rejects a non-numeric limit", func(t *testing.T) {
		f := setupTestServer(t)

		rec := doJSON(t, f.server, http.MethodGet, "/api/v1/query-logs?limit=lots", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
