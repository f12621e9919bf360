package store

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVector(t *testing.T, dims int) *HNSWVectorIndex {
	t.Helper()
	idx, err := NewHNSWVectorIndex(DefaultVectorConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func unit(dims, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestVectorUpsertAndQuery(t *testing.T) {
	idx := newTestVector(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", "r1", unit(4, 0)))
	require.NoError(t, idx.Upsert(ctx, "b", "r1", unit(4, 1)))
	require.NoError(t, idx.Upsert(ctx, "c", "r1", unit(4, 2)))

	res, err := idx.Query(ctx, unit(4, 0), 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "a", res[0].ChunkID)
	assert.Equal(t, 1, res[0].Rank)
	assert.InDelta(t, 1.0, float64(res[0].Score), 1e-5)
}

func TestVectorUpsertReplaces(t *testing.T) {
	idx := newTestVector(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", "r1", unit(4, 0)))
	require.NoError(t, idx.Upsert(ctx, "a", "r1", unit(4, 3)))
	assert.Equal(t, 1, idx.Count())

	res, err := idx.Query(ctx, unit(4, 3), 1, "")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].ChunkID)
	assert.InDelta(t, 1.0, float64(res[0].Score), 1e-5)
}

func TestVectorDeleteExcludesFromResults(t *testing.T) {
	idx := newTestVector(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", "r1", unit(4, 0)))
	require.NoError(t, idx.Upsert(ctx, "b", "r1", unit(4, 1)))
	require.NoError(t, idx.Delete(ctx, "a"))

	res, err := idx.Query(ctx, unit(4, 0), 2, "")
	require.NoError(t, err)
	for _, r := range res {
		assert.NotEqual(t, "a", r.ChunkID)
	}
	assert.False(t, idx.Contains("a"))
	assert.Equal(t, 1, idx.Count())
}

func TestVectorRepoFilter(t *testing.T) {
	idx := newTestVector(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", "repoA", unit(4, 0)))
	require.NoError(t, idx.Upsert(ctx, "b", "repoB", unit(4, 0)))

	res, err := idx.Query(ctx, unit(4, 0), 10, "repoB")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b", res[0].ChunkID)
}

func TestVectorDimensionMismatch(t *testing.T) {
	idx := newTestVector(t, 4)
	ctx := context.Background()

	assert.Error(t, idx.Upsert(ctx, "a", "r1", []float32{1, 2}))
	_, err := idx.Query(ctx, []float32{1}, 1, "")
	assert.Error(t, err)
}

func TestVectorEmptyIndexQuery(t *testing.T) {
	idx := newTestVector(t, 4)
	res, err := idx.Query(context.Background(), unit(4, 0), 5, "")
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestVectorNormalizesOnInsert(t *testing.T) {
	idx := newTestVector(t, 2)
	ctx := context.Background()

	// Same direction, different magnitudes: both unit after normalize.
	require.NoError(t, idx.Upsert(ctx, "a", "r1", []float32{10, 0}))
	res, err := idx.Query(ctx, []float32{0.5, 0}, 1, "")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.InDelta(t, 1.0, float64(res[0].Score), 1e-5)
}

func TestVectorSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	idx := newTestVector(t, 8)
	rng := rand.New(rand.NewSource(7))
	for _, id := range []string{"a", "b", "c", "d"} {
		vec := make([]float32, 8)
		for i := range vec {
			vec[i] = rng.Float32()
		}
		require.NoError(t, idx.Upsert(ctx, id, "r1", vec))
	}
	require.NoError(t, idx.Save(path))

	loaded := newTestVector(t, 8)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 4, loaded.Count())
	assert.ElementsMatch(t, idx.AllIDs(), loaded.AllIDs())

	res, err := loaded.Query(ctx, unit(8, 0), 2, "r1")
	require.NoError(t, err)
	assert.NotEmpty(t, res)
}

func TestVectorLoadMissingIsCorrupt(t *testing.T) {
	idx := newTestVector(t, 4)
	err := idx.Load(filepath.Join(t.TempDir(), "missing.hnsw"))
	assert.Error(t, err)
}

func TestVectorLoadDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	idx := newTestVector(t, 4)
	require.NoError(t, idx.Upsert(ctx, "a", "r1", unit(4, 0)))
	require.NoError(t, idx.Save(path))

	other := newTestVector(t, 8)
	assert.Error(t, other.Load(path))
}
