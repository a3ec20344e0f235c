package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(DefaultHNSWConfig(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestHNSWAddAndSearch(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{"a", "b", "c"},
		[][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0.9, 0.1, 0, 0},
		}))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "c", results[1].ChunkID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.01)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	err := idx.Add(ctx, []string{"a"}, [][]float32{{1, 2}})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = idx.Search(ctx, []float32{1}, 5)
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWReplaceAndDelete(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, idx.Add(ctx, []string{"a"}, [][]float32{{0, 1, 0, 0}}))
	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.01)

	require.NoError(t, idx.Delete(ctx, []string{"a"}))
	assert.False(t, idx.Contains("a"))
	assert.Equal(t, 0, idx.Count())

	results, err = idx.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, results, "lazily deleted vectors must not surface")
}

func TestHNSWSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	idx := newTestHNSW(t)
	require.NoError(t, idx.Add(ctx,
		[]string{"x", "y"},
		[][]float32{{1, 0, 0, 0}, {0, 0, 1, 0}}))
	require.NoError(t, idx.Save(path))

	loaded, err := NewHNSWIndex(DefaultHNSWConfig(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = loaded.Close() })
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 2, loaded.Count())
	results, err := loaded.Search(ctx, []float32{0, 0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "y", results[0].ChunkID)
}

func TestHNSWLoadMissingFileIsEmpty(t *testing.T) {
	idx := newTestHNSW(t)
	require.NoError(t, idx.Load(filepath.Join(t.TempDir(), "absent.hnsw")))
	assert.Equal(t, 0, idx.Count())
}

func TestHNSWLoadDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	idx := newTestHNSW(t)
	require.NoError(t, idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, idx.Save(path))

	other, err := NewHNSWIndex(DefaultHNSWConfig(8))
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })

	err = other.Load(path)
	var dimErr ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWEmptySearch(t *testing.T) {
	idx := newTestHNSW(t)
	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
