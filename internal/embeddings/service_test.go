package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestService points a Service at a test server with fast retry timing.
func newTestService(t *testing.T, url string, dim int) *Service {
	t.Helper()
	svc, err := NewService(Config{
		BaseURL:      url,
		Model:        "test-model",
		VectorSize:   dim,
		Timeout:      2 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return svc
}

func embedHandler(dim int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req teiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		texts, ok := req.Inputs.([]interface{})
		if !ok {
			texts = []interface{}{req.Inputs}
		}
		vectors := make([][]float32, len(texts))
		for i := range vectors {
			v := make([]float32, dim)
			v[0] = float32(i + 1)
			vectors[i] = v
		}
		_ = json.NewEncoder(w).Encode(vectors)
	}
}

func TestEmbedDocumentsOrderPreserving(t *testing.T) {
	srv := httptest.NewServer(embedHandler(4))
	defer srv.Close()

	svc := newTestService(t, srv.URL, 4)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"first", "second", "third"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
	assert.Equal(t, float32(3), vectors[2][0])
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	svc := newTestService(t, "http://localhost:1", 4)

	_, err := svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDocumentsDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(embedHandler(8))
	defer srv.Close()

	svc := newTestService(t, srv.URL, 4)

	_, err := svc.EmbedDocuments(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrEmbeddingService)
}

func TestEmbedRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		embedHandler(4)(w, r)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL, 4)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"text"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL, 4)

	_, err := svc.EmbedDocuments(context.Background(), []string{"text"})
	require.ErrorIs(t, err, ErrEmbeddingService)
	// First attempt plus MaxRetries.
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedDoesNotRetryPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL, 4)

	_, err := svc.EmbedDocuments(context.Background(), []string{"text"})
	require.ErrorIs(t, err, ErrEmbeddingService)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedQuery(t *testing.T) {
	srv := httptest.NewServer(embedHandler(4))
	defer srv.Close()

	svc := newTestService(t, srv.URL, 4)

	vector, err := svc.EmbedQuery(context.Background(), "bearing temperature")
	require.NoError(t, err)
	assert.Len(t, vector, 4)

	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := svc.EmbedDocuments(ctx, []string{"text"})
	assert.Error(t, err)
}
