package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubMeta struct {
	chunks  map[string]metadata.Chunk
	entries map[string][]metadata.Entry
	lexical []metadata.LexicalHit
}

func (s *stubMeta) ChunksByIDs(ctx context.Context, ids []string) (map[string]metadata.Chunk, error) {
	out := make(map[string]metadata.Chunk)
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (s *stubMeta) MetadataForChunk(ctx context.Context, chunkID string) ([]metadata.Entry, error) {
	return s.entries[chunkID], nil
}

func (s *stubMeta) LexicalSearch(ctx context.Context, query string, limit int) ([]metadata.LexicalHit, error) {
	if len(s.lexical) > limit {
		return s.lexical[:limit], nil
	}
	return s.lexical, nil
}

type stubVectors struct {
	hits []vectorstore.Hit
}

func (s *stubVectors) Search(ctx context.Context, vector []float32, k int) ([]vectorstore.Hit, error) {
	if len(s.hits) > k {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

func (s *stubVectors) SearchByDocument(ctx context.Context, vector []float32, k int, documentID string) ([]vectorstore.Hit, error) {
	var scoped []vectorstore.Hit
	for _, hit := range s.hits {
		if hit.DocumentID == documentID {
			scoped = append(scoped, hit)
		}
	}
	if len(scoped) > k {
		return scoped[:k], nil
	}
	return scoped, nil
}

func chunkRow(id, doc, content string, pos int) metadata.Chunk {
	return metadata.Chunk{ID: id, DocumentID: doc, Content: content, Position: pos}
}

func newTestRetriever(t *testing.T, meta *stubMeta, vectors *stubVectors) *Retriever {
	t.Helper()
	r, err := New(stubEmbedder{}, meta, vectors, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestVectorRetrieve(t *testing.T) {
	meta := &stubMeta{
		chunks: map[string]metadata.Chunk{
			"c1": chunkRow("c1", "d1", "turbine overhaul", 0),
			"c2": chunkRow("c2", "d1", "pump inspection", 1),
		},
		entries: map[string][]metadata.Entry{
			"c1": {{ChunkID: "c1", Key: "source", Value: "upload"}},
		},
	}
	vectors := &stubVectors{hits: []vectorstore.Hit{
		{ChunkID: "c1", DocumentID: "d1", Score: 0.9},
		{ChunkID: "c2", DocumentID: "d1", Score: 0.5},
	}}

	r := newTestRetriever(t, meta, vectors)

	results, err := r.Retrieve(context.Background(), "turbine", MethodVector, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, "turbine overhaul", results[0].Content)
	assert.Equal(t, "upload", results[0].Metadata["source"])
	assert.Equal(t, MethodVector, results[0].Source)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRetrieveFromDocument(t *testing.T) {
	meta := &stubMeta{
		chunks: map[string]metadata.Chunk{
			"c1": chunkRow("c1", "d1", "turbine overhaul", 0),
			"c2": chunkRow("c2", "d2", "pump inspection", 0),
		},
	}
	vectors := &stubVectors{hits: []vectorstore.Hit{
		{ChunkID: "c1", DocumentID: "d1", Score: 0.9},
		{ChunkID: "c2", DocumentID: "d2", Score: 0.8},
	}}

	r := newTestRetriever(t, meta, vectors)

	results, err := r.RetrieveFromDocument(context.Background(), "inspection", "d2", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)
	assert.Equal(t, "d2", results[0].DocumentID)
	assert.Equal(t, MethodVector, results[0].Source)
}

func TestVectorRetrieveDropsUnhydratableHits(t *testing.T) {
	meta := &stubMeta{
		chunks: map[string]metadata.Chunk{
			"c1": chunkRow("c1", "d1", "turbine overhaul", 0),
		},
	}
	vectors := &stubVectors{hits: []vectorstore.Hit{
		{ChunkID: "ghost", DocumentID: "dx", Score: 0.99},
		{ChunkID: "c1", DocumentID: "d1", Score: 0.9},
	}}

	r := newTestRetriever(t, meta, vectors)

	results, err := r.Retrieve(context.Background(), "turbine", MethodVector, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestHybridAgreementBeatsSingleListRank(t *testing.T) {
	// c2 sits mid-rank in both lists; c1 and c3 each lead one list.
	// Fusion must put the agreed-on chunk first.
	meta := &stubMeta{
		chunks: map[string]metadata.Chunk{
			"c1": chunkRow("c1", "d1", "one", 0),
			"c2": chunkRow("c2", "d1", "two", 1),
			"c3": chunkRow("c3", "d1", "three", 2),
		},
		lexical: []metadata.LexicalHit{
			{Chunk: chunkRow("c3", "d1", "three", 2), Score: 0.9},
			{Chunk: chunkRow("c2", "d1", "two", 1), Score: 0.5},
		},
	}
	vectors := &stubVectors{hits: []vectorstore.Hit{
		{ChunkID: "c1", DocumentID: "d1", Score: 0.9},
		{ChunkID: "c2", DocumentID: "d1", Score: 0.5},
	}}

	r := newTestRetriever(t, meta, vectors)

	results, err := r.Retrieve(context.Background(), "query", MethodHybrid, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c2", results[0].ChunkID)
	assert.Equal(t, MethodHybrid, results[0].Source)
}

func TestHybridHonorsTopK(t *testing.T) {
	meta := &stubMeta{
		chunks: map[string]metadata.Chunk{
			"c1": chunkRow("c1", "d1", "one", 0),
			"c2": chunkRow("c2", "d1", "two", 1),
			"c3": chunkRow("c3", "d1", "three", 2),
		},
		lexical: []metadata.LexicalHit{
			{Chunk: chunkRow("c3", "d1", "three", 2), Score: 0.9},
		},
	}
	vectors := &stubVectors{hits: []vectorstore.Hit{
		{ChunkID: "c1", DocumentID: "d1", Score: 0.9},
		{ChunkID: "c2", DocumentID: "d1", Score: 0.5},
	}}

	r := newTestRetriever(t, meta, vectors)

	results, err := r.Retrieve(context.Background(), "query", MethodHybrid, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieveUnknownMethod(t *testing.T) {
	r := newTestRetriever(t, &stubMeta{chunks: map[string]metadata.Chunk{}}, &stubVectors{})

	_, err := r.Retrieve(context.Background(), "query", "keyword", 5)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestFuseRanks(t *testing.T) {
	fused := fuseRanks(
		[]string{"a", "b", "c"},
		[]string{"b", "d"},
	)

	require.Len(t, fused, 4)
	assert.Equal(t, "b", fused[0].chunkID)

	// b's fused score is the sum of both list contributions.
	expected := 1.0/61 + 1.0/62
	assert.InDelta(t, expected, fused[0].score, 1e-9)
}

func TestFuseRanksTieBreaksOnChunkID(t *testing.T) {
	fused := fuseRanks(
		[]string{"z"},
		[]string{"a"},
	)

	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].chunkID)
	assert.Equal(t, "z", fused[1].chunkID)
}
