package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "negative chunk size", cfg: Config{ChunkSize: -1}},
		{name: "negative overlap", cfg: Config{ChunkSize: 10, Overlap: -1}},
		{name: "overlap equals chunk size", cfg: Config{ChunkSize: 10, Overlap: 10}},
		{name: "overlap exceeds chunk size", cfg: Config{ChunkSize: 10, Overlap: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c, err := New(Config{ChunkSize: 10, Overlap: 2})
	require.NoError(t, err)

	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\t  "))
}

func TestChunkShortInput(t *testing.T) {
	c, err := New(Config{ChunkSize: 100, Overlap: 10})
	require.NoError(t, err)

	segments := c.Chunk("pump pressure nominal")
	require.Len(t, segments, 1)
	assert.Equal(t, "pump pressure nominal", segments[0].Content)
	assert.Equal(t, 0, segments[0].Position)
}

func TestChunkPositionsContiguous(t *testing.T) {
	c, err := New(Config{ChunkSize: 5, Overlap: 2})
	require.NoError(t, err)

	words := make([]string, 50)
	for i := range words {
		words[i] = "w"
	}
	segments := c.Chunk(strings.Join(words, " "))

	require.NotEmpty(t, segments)
	for i, seg := range segments {
		assert.Equal(t, i, seg.Position)
		assert.NotEmpty(t, seg.Content)
	}
}

func TestChunkOverlapCarriesWords(t *testing.T) {
	c, err := New(Config{ChunkSize: 4, Overlap: 2})
	require.NoError(t, err)

	segments := c.Chunk("a b c d e f g h")
	require.Len(t, segments, 3)
	assert.Equal(t, "a b c d", segments[0].Content)
	assert.Equal(t, "c d e f", segments[1].Content)
	assert.Equal(t, "e f g h", segments[2].Content)
}

func TestChunkDeterministic(t *testing.T) {
	c, err := New(Config{ChunkSize: 7, Overlap: 3})
	require.NoError(t, err)

	content := "turbine four reported elevated bearing temperature during the overnight shift and was taken offline for inspection"
	first := c.Chunk(content)
	second := c.Chunk(content)
	assert.Equal(t, first, second)
}
