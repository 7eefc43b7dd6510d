package semantic

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/WessleyAI/textbook-rag/engine/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *Local {
	t.Helper()
	l, err := OpenLocalInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLocal_EnsureCollection(t *testing.T) {
	l := openMem(t)
	ctx := context.Background()

	require.NoError(t, l.EnsureCollection(ctx, "physics", 3))
	require.NoError(t, l.EnsureCollection(ctx, "physics", 3), "ensure must be idempotent")
	assert.Error(t, l.EnsureCollection(ctx, "physics", 4), "dims mismatch")
	assert.Error(t, l.EnsureCollection(ctx, "bad", 0))

	require.NoError(t, l.EnsureCollection(ctx, "chemistry", 3))
	names, err := l.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chemistry", "physics"}, names)
}

func TestLocal_UpsertIsIdempotent(t *testing.T) {
	l := openMem(t)
	ctx := context.Background()
	require.NoError(t, l.EnsureCollection(ctx, "physics", 2))

	recs := []VectorRecord{
		{ID: "sec_5_3", Embedding: []float32{1, 0}, Content: "first"},
		{ID: "sec_5_4", Embedding: []float32{0, 1}, Content: "second"},
	}
	require.NoError(t, l.Upsert(ctx, "physics", recs))
	recs[0].Content = "first, revised"
	require.NoError(t, l.Upsert(ctx, "physics", recs))

	n, err := l.Count(ctx, "physics")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := l.Search(ctx, "physics", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "sec_5_3", hits[0].ID)
	assert.Equal(t, "first, revised", hits[0].Content)
}

func TestLocal_SearchOrdersBySimilarity(t *testing.T) {
	l := openMem(t)
	ctx := context.Background()
	require.NoError(t, l.EnsureCollection(ctx, "c", 2))
	require.NoError(t, l.Upsert(ctx, "c", []VectorRecord{
		{ID: "far", Embedding: []float32{0, 1}, Content: "far"},
		{ID: "near", Embedding: []float32{10, 1}, Content: "near"},
		{ID: "mid", Embedding: []float32{1, 1}, Content: "mid", Meta: map[string]string{domain.MetaTitle: "1.1 Mid"}},
	}))

	hits, err := l.Search(ctx, "c", []float32{3, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	assert.InDelta(t, 0.995, hits[0].Score, 0.001)
	assert.InDelta(t, 0.0, hits[2].Score, 0.0001)
	assert.Equal(t, "1.1 Mid", hits[1].Meta[domain.MetaTitle])

	top, err := l.Search(ctx, "c", []float32{3, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestLocal_SearchTiesOrderedByID(t *testing.T) {
	l := openMem(t)
	ctx := context.Background()
	require.NoError(t, l.EnsureCollection(ctx, "c", 2))
	require.NoError(t, l.Upsert(ctx, "c", []VectorRecord{
		{ID: "b", Embedding: []float32{1, 0}},
		{ID: "a", Embedding: []float32{2, 0}},
	}))
	hits, err := l.Search(ctx, "c", []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
}

func TestLocal_MissingCollection(t *testing.T) {
	l := openMem(t)
	ctx := context.Background()

	_, err := l.Search(ctx, "nope", []float32{1}, 1)
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
	_, err = l.Count(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
	err = l.Upsert(ctx, "nope", []VectorRecord{{ID: "x", Embedding: []float32{1}}})
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestLocal_DimensionChecks(t *testing.T) {
	l := openMem(t)
	ctx := context.Background()
	require.NoError(t, l.EnsureCollection(ctx, "c", 3))

	assert.Error(t, l.Upsert(ctx, "c", []VectorRecord{{ID: "x", Embedding: []float32{1, 2}}}))
	_, err := l.Search(ctx, "c", []float32{1, 2}, 1)
	assert.Error(t, err)
}

func TestLocal_CollectionsAreIsolated(t *testing.T) {
	l := openMem(t)
	ctx := context.Background()
	require.NoError(t, l.EnsureCollection(ctx, "phys", 1))
	require.NoError(t, l.EnsureCollection(ctx, "physics", 1))
	require.NoError(t, l.Upsert(ctx, "physics", []VectorRecord{{ID: "sec_1_1", Embedding: []float32{1}}}))

	n, err := l.Count(ctx, "phys")
	require.NoError(t, err)
	assert.Zero(t, n)

	hits, err := l.Search(ctx, "phys", []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLocal_DeleteCollection(t *testing.T) {
	l := openMem(t)
	ctx := context.Background()
	require.NoError(t, l.EnsureCollection(ctx, "c", 1))
	require.NoError(t, l.Upsert(ctx, "c", []VectorRecord{{ID: "x", Embedding: []float32{1}}}))

	require.NoError(t, l.DeleteCollection(ctx, "c"))
	_, err := l.Count(ctx, "c")
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestLocal_DeleteCollectionKeepsLongerNames(t *testing.T) {
	l := openMem(t)
	ctx := context.Background()
	for _, name := range []string{"phys", "physics"} {
		require.NoError(t, l.EnsureCollection(ctx, name, 2))
		require.NoError(t, l.Upsert(ctx, name, []VectorRecord{{ID: "sec_1_1", Embedding: []float32{1, 0}, Content: name}}))
	}

	require.NoError(t, l.DeleteCollection(ctx, "phys"))

	names, err := l.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"physics"}, names)

	n, err := l.Count(ctx, "physics")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := l.Search(ctx, "physics", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "physics", hits[0].Content)

	_, err = l.Count(ctx, "phys")
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestLocal_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	ctx := context.Background()

	l, err := OpenLocal(dir, nil)
	require.NoError(t, err)
	require.NoError(t, l.EnsureCollection(ctx, "c", 2))
	require.NoError(t, l.Upsert(ctx, "c", []VectorRecord{{ID: "sec_1_1", Embedding: []float32{1, 0}, Content: "kept"}}))
	require.NoError(t, l.Close())

	l, err = OpenLocal(dir, nil)
	require.NoError(t, err)
	defer l.Close()
	hits, err := l.Search(ctx, "c", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "kept", hits[0].Content)
}

func TestOpenLocal_RequiresDir(t *testing.T) {
	_, err := OpenLocal("", nil)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float32{0, 0}, normalize([]float32{0, 0}))
	n := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, n[0], 1e-6)
	assert.InDelta(t, 0.8, n[1], 1e-6)
}
