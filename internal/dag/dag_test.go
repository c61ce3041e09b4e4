package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// retailChain builds the stage chain with a two-model subgraph in the middle.
func retailChain(t *testing.T) *Graph[string] {
	t.Helper()
	g := New[string]()
	for _, id := range []string{"upload", "dataset", "load", "check_load", "transform.dim_customer", "transform.fct_invoices", "check_transform"} {
		g.AddNode(id, id)
	}
	edges := [][2]string{
		{"upload", "dataset"},
		{"dataset", "load"},
		{"load", "check_load"},
		{"check_load", "transform.dim_customer"},
		{"check_load", "transform.fct_invoices"},
		{"transform.dim_customer", "transform.fct_invoices"},
		{"transform.fct_invoices", "check_transform"},
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := New[int]()
	g.AddNode("a", 1)
	g.AddNode("b", 2)
	g.AddNode("a", 10)

	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "b"), "duplicate edges are ignored")

	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 1, g.EdgeCount())
	v, ok := g.Node("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, []string{"a", "b"}, g.IDs())
	assert.Equal(t, [][2]string{{"a", "b"}}, g.Edges())
}

func TestGraph_AddEdge_Errors(t *testing.T) {
	g := New[struct{}]()
	g.AddNode("a", struct{}{})

	tests := []struct {
		name          string
		parent, child string
		wantCycle     bool
	}{
		{name: "missing child", parent: "a", child: "nope"},
		{name: "missing parent", parent: "nope", child: "a"},
		{name: "self loop", parent: "a", child: "a", wantCycle: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.AddEdge(tt.parent, tt.child)
			require.Error(t, err)
			var cycle *CycleError
			assert.Equal(t, tt.wantCycle, errors.As(err, &cycle))
		})
	}
}

func TestGraph_FindCycle(t *testing.T) {
	g := New[string]()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddNode(id, id)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	assert.Nil(t, g.FindCycle())

	require.NoError(t, g.AddEdge("c", "a"))
	cycle := g.FindCycle()
	require.NotNil(t, cycle)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycle.Path)
	assert.Equal(t, "cycle detected: a -> b -> c -> a", cycle.Error())

	_, err := g.TopologicalSort()
	var ce *CycleError
	assert.True(t, errors.As(err, &ce))
}

func TestGraph_TopologicalSortAndLevels(t *testing.T) {
	g := retailChain(t)

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"upload", "dataset", "load", "check_load",
		"transform.dim_customer", "transform.fct_invoices", "check_transform",
	}, order)

	levels, err := g.Levels()
	require.NoError(t, err)
	assert.Len(t, levels, 7)
	assert.Equal(t, []string{"transform.dim_customer"}, levels[4])
}

func TestGraph_Levels_Parallel(t *testing.T) {
	g := New[string]()
	for _, id := range []string{"root", "x", "y", "join"} {
		g.AddNode(id, id)
	}
	require.NoError(t, g.AddEdge("root", "x"))
	require.NoError(t, g.AddEdge("root", "y"))
	require.NoError(t, g.AddEdge("x", "join"))
	require.NoError(t, g.AddEdge("y", "join"))

	levels, err := g.Levels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"root"}, {"x", "y"}, {"join"}}, levels)
}

func TestGraph_Walks(t *testing.T) {
	g := retailChain(t)

	assert.Equal(t, []string{"transform.fct_invoices", "check_transform"}, g.Downstream("transform.fct_invoices"))
	assert.Equal(t, []string{"upload", "dataset", "load", "check_load"}, g.Upstream("transform.dim_customer"))
	assert.Empty(t, g.Upstream("upload"))
	assert.Empty(t, g.Downstream("missing"))

	assert.Equal(t, []string{"upload"}, g.Roots())
	assert.Equal(t, []string{"check_transform"}, g.Leaves())
}

func TestGraph_Subgraph(t *testing.T) {
	g := retailChain(t)

	sub := g.Subgraph([]string{"transform.fct_invoices", "transform.dim_customer"})
	assert.Equal(t, []string{"transform.dim_customer", "transform.fct_invoices"}, sub.IDs())
	assert.Equal(t, 1, sub.EdgeCount())
	assert.Equal(t, []string{"transform.dim_customer"}, sub.Roots())
	assert.Equal(t, []string{"transform.fct_invoices"}, sub.Leaves())

	// The copy is independent of the original.
	sub.AddNode("extra", "extra")
	assert.False(t, g.Has("extra"))
}
