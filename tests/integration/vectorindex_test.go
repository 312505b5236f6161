package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/minutes-core/internal/domain/ports"
	embedder "github.com/ersonp/minutes-core/internal/infrastructure/embedder/openai"
)

// testVector builds a sparse unit-ish vector of the collection's dimension
// with weight concentrated on the given components.
func testVector(components ...int) []float32 {
	v := make([]float32, embedder.VectorSize)
	for _, c := range components {
		v[c%embedder.VectorSize] = 1
	}
	return v
}

func TestVectorIndex_UpsertAndSearch(t *testing.T) {
	resetCollection(t)
	ctx := t.Context()

	points := []ports.NamePoint{
		{EntityID: "ent-1", Name: "Project Alpha", Kind: "project", Vector: testVector(0, 1)},
		{EntityID: "ent-2", Name: "Project Beta", Kind: "project", Vector: testVector(10, 11)},
	}
	require.NoError(t, testIndex.UpsertBatch(ctx, points))

	neighbors, err := testIndex.NearestNeighbors(ctx, testVector(0, 1), 5)
	require.NoError(t, err)
	require.NotEmpty(t, neighbors)
	assert.Equal(t, "ent-1", neighbors[0].EntityID)
	assert.InDelta(t, 1.0, neighbors[0].Score, 0.001, "identical vector scores ~1 under cosine")
}

func TestVectorIndex_IdempotentUpsert(t *testing.T) {
	resetCollection(t)
	ctx := t.Context()

	point := ports.NamePoint{EntityID: "ent-1", Name: "Project Alpha", Kind: "project", Vector: testVector(0)}
	require.NoError(t, testIndex.UpsertBatch(ctx, []ports.NamePoint{point}))

	// Same entity and name again, different casing: the derived point ID is
	// identical, so this overwrites instead of duplicating.
	point.Name = "PROJECT ALPHA"
	point.Vector = testVector(1)
	require.NoError(t, testIndex.UpsertBatch(ctx, []ports.NamePoint{point}))

	neighbors, err := testIndex.NearestNeighbors(ctx, testVector(1), 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "ent-1", neighbors[0].EntityID)
}

func TestVectorIndex_DedupesEntityAcrossNamePoints(t *testing.T) {
	resetCollection(t)
	ctx := t.Context()

	// One entity indexed under two distinct names.
	require.NoError(t, testIndex.UpsertBatch(ctx, []ports.NamePoint{
		{EntityID: "ent-1", Name: "Project Alpha", Kind: "project", Vector: testVector(0)},
		{EntityID: "ent-1", Name: "Alpha Initiative", Kind: "project", Vector: testVector(0, 2)},
		{EntityID: "ent-2", Name: "Project Beta", Kind: "project", Vector: testVector(20)},
	}))

	neighbors, err := testIndex.NearestNeighbors(ctx, testVector(0), 10)
	require.NoError(t, err)

	ids := make(map[string]int)
	for _, n := range neighbors {
		ids[n.EntityID]++
	}
	assert.Equal(t, 1, ids["ent-1"], "one entity appears once regardless of its name points")
}

func TestVectorIndex_BatchSearchPreservesOrder(t *testing.T) {
	resetCollection(t)
	ctx := t.Context()

	require.NoError(t, testIndex.UpsertBatch(ctx, []ports.NamePoint{
		{EntityID: "ent-1", Name: "Project Alpha", Kind: "project", Vector: testVector(0)},
		{EntityID: "ent-2", Name: "Project Beta", Kind: "project", Vector: testVector(10)},
	}))

	lists, err := testIndex.NearestNeighborsBatch(ctx, [][]float32{testVector(10), testVector(0)}, 1)
	require.NoError(t, err)
	require.Len(t, lists, 2)
	require.NotEmpty(t, lists[0])
	require.NotEmpty(t, lists[1])
	assert.Equal(t, "ent-2", lists[0][0].EntityID)
	assert.Equal(t, "ent-1", lists[1][0].EntityID)
}
