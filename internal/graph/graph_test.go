package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/cellstore"
	"github.com/vk/dfkernel/internal/inmemorystore"
	"github.com/vk/dfkernel/internal/inmemorytopology"
	"github.com/vk/dfkernel/internal/testutil"
)

// createTestGraph creates a graph manager with in-memory stores for testing.
func createTestGraph() Graph {
	return New(inmemorytopology.New(), inmemorystore.New())
}

// addComputedCells creates the given cells with a cached value so they start fresh.
func addComputedCells(t *testing.T, g Graph, ids ...cellid.ID) {
	t.Helper()
	ctx := testutil.Context(t)
	for _, id := range ids {
		require.True(t, g.Create(ctx, id))
		_, err := g.StoreOutput(ctx, id, string(id))
		require.NoError(t, err)
	}
}

func staleSet(t *testing.T, g Graph) map[cellid.ID]bool {
	t.Helper()
	ctx := testutil.Context(t)
	out := make(map[cellid.ID]bool)
	for _, id := range g.IDs(ctx) {
		stale, err := g.IsStale(ctx, id)
		require.NoError(t, err)
		out[id] = stale
	}
	return out
}

func TestNewCellIsStale(t *testing.T) {
	g := createTestGraph()
	ctx := testutil.Context(t)
	g.Create(ctx, "a")

	require.NoError(t, g.MarkFresh(ctx, "a"))
	stale, err := g.IsStale(ctx, "a")
	require.NoError(t, err)
	assert.True(t, stale, "a cell without a cached value is always stale")
}

func TestMarkStalePropagatesDownstreamOnly(t *testing.T) {
	g := createTestGraph()
	ctx := testutil.Context(t)
	// a -> b -> c, a -> d, e is unrelated, f feeds b
	addComputedCells(t, g, "a", "b", "c", "d", "e", "f")
	g.AddEdge(ctx, "a", "b")
	g.AddEdge(ctx, "b", "c")
	g.AddEdge(ctx, "a", "d")
	g.AddEdge(ctx, "f", "b")

	marked, err := g.MarkStale(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []cellid.ID{"b", "c"}, marked)

	assert.Equal(t, map[cellid.ID]bool{
		"a": false, "b": true, "c": true, "d": false, "e": false, "f": false,
	}, staleSet(t, g))
}

func TestMarkStaleTerminatesOnCycle(t *testing.T) {
	g := createTestGraph()
	ctx := testutil.Context(t)
	addComputedCells(t, g, "a", "b")
	g.AddEdge(ctx, "a", "b")
	g.AddEdge(ctx, "b", "a")

	marked, err := g.MarkStale(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []cellid.ID{"a", "b"}, marked)
}

func TestMarkFreshIsSingleNode(t *testing.T) {
	g := createTestGraph()
	ctx := testutil.Context(t)
	addComputedCells(t, g, "a", "b")
	g.AddEdge(ctx, "a", "b")

	_, err := g.MarkStale(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, g.MarkFresh(ctx, "a"))

	assert.Equal(t, map[cellid.ID]bool{"a": false, "b": true}, staleSet(t, g))
}

func TestTraversal(t *testing.T) {
	g := createTestGraph()
	ctx := testutil.Context(t)
	addComputedCells(t, g, "a", "b", "c", "d")
	g.AddEdge(ctx, "a", "b")
	g.AddEdge(ctx, "b", "c")
	g.AddEdge(ctx, "d", "c")

	assert.Equal(t, []cellid.ID{"a", "b", "d"}, g.AllUpstream(ctx, "c"))
	assert.Equal(t, []cellid.ID{"b", "c"}, g.AllDownstream(ctx, "a"))
	assert.Empty(t, g.AllDownstream(ctx, "c"))
}

func TestSemanticUpstream(t *testing.T) {
	g := createTestGraph()
	ctx := testutil.Context(t)
	addComputedCells(t, g, "a", "c", "d")
	g.AddEdge(ctx, "a", "c")
	g.MarkWhole(ctx, "a", "c")
	g.AddEdge(ctx, "c", "d")
	g.MarkWhole(ctx, "c", "d")
	g.Narrow(ctx, "c", "d", "x")

	assert.Equal(t, map[cellid.ID][]string{"c": {"x"}}, g.SemanticUpstream(ctx, "d"))
	assert.Equal(t, map[cellid.ID][]string{"c": {"x"}, "a": nil}, g.AllSemanticUpstream(ctx, "d"))
	assert.Equal(t, map[cellid.ID][]string{"c": nil, "d": {"x"}}, g.AllSemanticDownstream(ctx, "a"))
}

func TestDetachAndRestoreIncoming(t *testing.T) {
	g := createTestGraph()
	ctx := testutil.Context(t)
	addComputedCells(t, g, "a", "b", "c")
	g.AddEdge(ctx, "a", "c")
	g.AddEdge(ctx, "b", "c")
	g.Narrow(ctx, "a", "c", "x")

	in := g.DetachIncoming(ctx, "c")
	assert.Equal(t, []cellid.ID{"a", "b"}, in.Parents)
	assert.Empty(t, g.Parents(ctx, "c"))
	assert.Empty(t, g.SemanticUpstream(ctx, "c"))

	g.RestoreIncoming(ctx, "c", in)
	assert.Equal(t, []cellid.ID{"a", "b"}, g.Parents(ctx, "c"))
	assert.Equal(t, map[cellid.ID][]string{"a": {"x"}}, g.SemanticUpstream(ctx, "c"))
}

func TestStoreOutputAndSequence(t *testing.T) {
	g := createTestGraph()
	ctx := testutil.Context(t)
	g.Create(ctx, "b")
	g.Create(ctx, "a")
	g.Create(ctx, "never")

	seqB, err := g.StoreOutput(ctx, "b", 1)
	require.NoError(t, err)
	seqA, err := g.StoreOutput(ctx, "a", 2)
	require.NoError(t, err)
	assert.Greater(t, seqA, seqB)

	assert.Equal(t, []cellid.ID{"b", "a"}, g.SortedBySequence(ctx))

	_, err = g.StoreOutput(ctx, "missing", 3)
	assert.ErrorIs(t, err, cellstore.ErrNotFound)
}

func TestDeleteRemovesEdges(t *testing.T) {
	g := createTestGraph()
	ctx := testutil.Context(t)
	addComputedCells(t, g, "a", "b", "c")
	g.AddEdge(ctx, "a", "b")
	g.AddEdge(ctx, "b", "c")

	require.NoError(t, g.Delete(ctx, "b"))
	_, ok := g.Record(ctx, "b")
	assert.False(t, ok)
	assert.Empty(t, g.Children(ctx, "a"))
	assert.Empty(t, g.Parents(ctx, "c"))
	assert.ErrorIs(t, g.Delete(ctx, "b"), cellstore.ErrNotFound)
}
