package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) *SQLiteChunkStore {
	t.Helper()
	s, err := OpenChunkStore(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedChunk(id, repo, path, symbol string, startLine int) *Chunk {
	return &Chunk{
		ID:          id,
		RepoID:      repo,
		FilePath:    path,
		Language:    "go",
		Symbol:      symbol,
		SymbolKind:  "function",
		StartLine:   startLine,
		EndLine:     startLine + 2,
		Content:     "func " + symbol + "() {}",
		Fingerprint: "fp-" + id,
		Embedding:   []float32{0.1, 0.2, 0.3},
	}
}

func TestChunkStoreSaveAndGet(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{storedChunk("c1", "r1", "a.go", "F", 1)}))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "F", got.Symbol)
	assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, got.Embedding, 1e-6)
}

func TestChunkStoreGetMissing(t *testing.T) {
	s := newMemStore(t)
	got, err := s.GetChunk(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChunkStoreGetChunksPreservesOrder(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		storedChunk("c1", "r1", "a.go", "A", 1),
		storedChunk("c2", "r1", "a.go", "B", 10),
		storedChunk("c3", "r1", "b.go", "C", 1),
	}))

	got, err := s.GetChunks(ctx, []string{"c3", "c1", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c3", got[0].ID)
	assert.Equal(t, "c1", got[1].ID)
}

func TestChunkStoreByFileAndPaths(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		storedChunk("c1", "r1", "a.go", "A", 5),
		storedChunk("c2", "r1", "a.go", "B", 1),
		storedChunk("c3", "r2", "a.go", "C", 1),
	}))

	chunks, err := s.GetChunksByFile(ctx, "r1", "a.go")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c2", chunks[0].ID, "ordered by start line")

	paths, err := s.ListFilePaths(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, paths)

	ok, err := s.HasFile(ctx, "r2", "a.go")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasFile(ctx, "r2", "b.go")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChunkStoreDelete(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		storedChunk("c1", "r1", "a.go", "A", 1),
		storedChunk("c2", "r1", "a.go", "B", 5),
	}))
	require.NoError(t, s.DeleteChunks(ctx, []string{"c1"}))

	ids, err := s.AllIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids)
}

func TestChunkStoreUpsertReplaces(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	c := storedChunk("c1", "r1", "a.go", "A", 1)
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{c}))

	c2 := storedChunk("c1", "r1", "a.go", "Renamed", 1)
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{c2}))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Symbol)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ChunkCount)
}

func TestChunkStoreState(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, StateKeyDimension)
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.SetState(ctx, StateKeyDimension, "768"))
	v, err = s.GetState(ctx, StateKeyDimension)
	require.NoError(t, err)
	assert.Equal(t, "768", v)
}

func TestChunkStoreClear(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{storedChunk("c1", "r1", "a.go", "A", 1)}))
	require.NoError(t, s.SetState(ctx, StateKeyConfigHash, "x"))
	require.NoError(t, s.Clear(ctx))

	ids, err := s.AllIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	v, err := s.GetState(ctx, StateKeyConfigHash)
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestChunkStoreQuantizedEmbeddings(t *testing.T) {
	s, err := OpenChunkStore(":memory:", true)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	c := storedChunk("c1", "r1", "a.go", "A", 1)
	c.Embedding = []float32{0.5, -0.25, 0.125}
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{c}))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Embedding, 3)
	assert.InDelta(t, 0.5, float64(got.Embedding[0]), 0.01)
	assert.InDelta(t, -0.25, float64(got.Embedding[1]), 0.01)
}

func TestEncodeDecodeEmbedding(t *testing.T) {
	vec := []float32{1.5, -2.25, 0, 0.001}

	raw := EncodeEmbedding(vec, false)
	decoded, err := DecodeEmbedding(raw)
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)

	quant := EncodeEmbedding(vec, true)
	assert.Less(t, len(quant), len(raw))
	decoded, err = DecodeEmbedding(quant)
	require.NoError(t, err)
	require.Len(t, decoded, 4)
	for i := range vec {
		assert.InDelta(t, float64(vec[i]), float64(decoded[i]), 0.02)
	}

	_, err = DecodeEmbedding([]byte{99, 1, 2})
	assert.Error(t, err)
}
