// Package dag provides a generic directed acyclic graph used for task
// topologies and model dependencies.
package dag

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle. Path starts and ends on the same node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}

// Graph is a directed graph of nodes carrying values of type T.
// Edges point from a dependency (parent) to its dependent (child).
type Graph[T any] struct {
	nodes   map[string]T
	order   []string            // insertion order
	edges   map[string][]string // parent -> children
	parents map[string][]string // child -> parents
}

// New creates an empty graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{
		nodes:   make(map[string]T),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node, replacing the value when the id already exists.
func (g *Graph[T]) AddNode(id string, value T) {
	if _, ok := g.nodes[id]; !ok {
		g.order = append(g.order, id)
	}
	g.nodes[id] = value
}

// AddEdge records that child depends on parent.
func (g *Graph[T]) AddEdge(parent, child string) error {
	if _, ok := g.nodes[parent]; !ok {
		return fmt.Errorf("parent node %q does not exist", parent)
	}
	if _, ok := g.nodes[child]; !ok {
		return fmt.Errorf("child node %q does not exist", child)
	}
	if parent == child {
		return &CycleError{Path: []string{parent, child}}
	}
	if !slices.Contains(g.edges[parent], child) {
		g.edges[parent] = append(g.edges[parent], child)
		g.parents[child] = append(g.parents[child], parent)
	}
	return nil
}

// Node returns the value stored for id.
func (g *Graph[T]) Node(id string) (T, bool) {
	v, ok := g.nodes[id]
	return v, ok
}

// Has reports whether id is a node.
func (g *Graph[T]) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Parents returns the direct dependencies of id.
func (g *Graph[T]) Parents(id string) []string {
	return slices.Clone(g.parents[id])
}

// Children returns the direct dependents of id.
func (g *Graph[T]) Children(id string) []string {
	return slices.Clone(g.edges[id])
}

// IDs returns node ids in insertion order.
func (g *Graph[T]) IDs() []string {
	return slices.Clone(g.order)
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph[T]) EdgeCount() int {
	n := 0
	for _, children := range g.edges {
		n += len(children)
	}
	return n
}

// Edges returns every edge as [parent, child], sorted.
func (g *Graph[T]) Edges() [][2]string {
	var out [][2]string
	for _, p := range g.order {
		for _, c := range g.edges[p] {
			out = append(out, [2]string{p, c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// FindCycle returns a cycle if the graph has one.
func (g *Graph[T]) FindCycle() *CycleError {
	const (
		unvisited = iota
		onStack
		done
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		color[id] = onStack
		stack = append(stack, id)
		for _, child := range g.edges[id] {
			switch color[child] {
			case onStack:
				start := slices.Index(stack, child)
				path := append(slices.Clone(stack[start:]), child)
				return &CycleError{Path: path}
			case unvisited:
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = done
		return nil
	}

	for _, id := range g.order {
		if color[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalSort returns ids with every dependency before its dependents.
// Ties are broken by insertion order, so a linear chain keeps its order.
func (g *Graph[T]) TopologicalSort() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(g.nodes))
	for _, level := range levels {
		out = append(out, level...)
	}
	return out, nil
}

// Levels groups nodes into execution levels: every node's dependencies sit
// in earlier levels, so the nodes of one level may run concurrently.
func (g *Graph[T]) Levels() ([][]string, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, cycle
	}

	level := make(map[string]int, len(g.nodes))
	var depth func(id string) int
	depth = func(id string) int {
		if l, ok := level[id]; ok {
			return l
		}
		l := 0
		for _, p := range g.parents[id] {
			if d := depth(p) + 1; d > l {
				l = d
			}
		}
		level[id] = l
		return l
	}

	var levels [][]string
	for _, id := range g.order {
		l := depth(id)
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	return levels, nil
}

// Downstream returns ids and everything that transitively depends on them,
// in insertion order.
func (g *Graph[T]) Downstream(ids ...string) []string {
	return g.walk(ids, g.edges, true)
}

// Upstream returns everything ids transitively depend on, excluding ids
// themselves, in insertion order.
func (g *Graph[T]) Upstream(ids ...string) []string {
	return g.walk(ids, g.parents, false)
}

func (g *Graph[T]) walk(start []string, next map[string][]string, includeStart bool) []string {
	seen := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		for _, n := range next[id] {
			if !seen[n] {
				seen[n] = true
				mark(n)
			}
		}
	}
	for _, id := range start {
		if !g.Has(id) {
			continue
		}
		if includeStart {
			seen[id] = true
		}
		mark(id)
	}
	if !includeStart {
		for _, id := range start {
			delete(seen, id)
		}
	}
	return g.filterOrdered(seen)
}

// Roots returns nodes without dependencies, in insertion order.
func (g *Graph[T]) Roots() []string {
	var out []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Leaves returns nodes without dependents, in insertion order.
func (g *Graph[T]) Leaves() []string {
	var out []string
	for _, id := range g.order {
		if len(g.edges[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Subgraph returns the induced subgraph on ids.
func (g *Graph[T]) Subgraph(ids []string) *Graph[T] {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	sub := New[T]()
	for _, id := range g.order {
		if keep[id] {
			sub.AddNode(id, g.nodes[id])
		}
	}
	for _, id := range sub.order {
		for _, child := range g.edges[id] {
			if keep[child] {
				_ = sub.AddEdge(id, child)
			}
		}
	}
	return sub
}

func (g *Graph[T]) filterOrdered(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, id := range g.order {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}
