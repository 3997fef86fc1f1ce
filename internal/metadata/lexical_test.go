package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "lowercases and splits", input: "Turbine Maintenance Schedule", want: []string{"turbine", "maintenance", "schedule"}},
		{name: "strips punctuation", input: "bearing, temperature: 80!", want: []string{"bearing", "temperature", "80"}},
		{name: "drops single characters", input: "a b turbine c", want: []string{"turbine"}},
		{name: "keeps underscores", input: "sensor_id readings", want: []string{"sensor_id", "readings"}},
		{name: "empty input", input: "", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.input))
		})
	}
}

func TestLexicalSearchRanksByTermFrequency(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	insertTestDocument(t, store, "d1", []string{
		"turbine turbine turbine overhaul notes",
		"turbine inspection checklist with many unrelated words padding the token count",
		"pump station report with no relevant terms",
	})
	require.NoError(t, store.CommitDocument(ctx, "d1"))

	hits, err := store.LexicalSearch(ctx, "turbine", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Higher term density ranks first.
	assert.Equal(t, "d1-a", hits[0].Chunk.ID)
	assert.Equal(t, "d1-b", hits[1].Chunk.ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestLexicalSearchExcludesPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	insertTestDocument(t, store, "pending-doc", []string{"turbine blade wear"})

	hits, err := store.LexicalSearch(ctx, "turbine", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLexicalSearchTiesBreakOnChunkID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Identical content yields identical scores.
	insertTestDocument(t, store, "d1", []string{"turbine report", "turbine report"})
	require.NoError(t, store.CommitDocument(ctx, "d1"))

	hits, err := store.LexicalSearch(ctx, "turbine", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "d1-a", hits[0].Chunk.ID)
	assert.Equal(t, "d1-b", hits[1].Chunk.ID)
}

func TestLexicalSearchHonorsLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	insertTestDocument(t, store, "d1", []string{"turbine a1", "turbine b2", "turbine c3"})
	require.NoError(t, store.CommitDocument(ctx, "d1"))

	hits, err := store.LexicalSearch(ctx, "turbine", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestLexicalSearchEmptyQuery(t *testing.T) {
	store := newTestStore(t)

	hits, err := store.LexicalSearch(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
