// Package pipeline declares task graphs and runs them.
//
// A Pipeline holds tasks and the edges between them. Tasks are linked with
// Chain, either one by one or through a Group, which stands for all of its
// tasks: edges into a group attach to its entry tasks and edges out of it
// leave from its exit tasks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/leapstack-labs/leapflow/internal/dag"
)

// Task is one unit of work in a pipeline.
type Task interface {
	ID() string
	Execute(ctx context.Context, tc *TaskContext) error
}

// Describer is implemented by tasks that can summarize what they do.
type Describer interface {
	Describe() string
}

// Validator is implemented by tasks that can check their configuration
// without running.
type Validator interface {
	Validate(r *Resources) error
}

// Node is anything Chain can link: a Task or a *Group.
type Node interface {
	ID() string
}

// CycleError reports a dependency cycle between tasks.
type CycleError = dag.CycleError

// Defaults for Pipeline settings.
const (
	DefaultRetryDelay    = 5 * time.Minute
	DefaultMaxRetryDelay = time.Hour
)

// Pipeline is a named task graph.
type Pipeline struct {
	ID          string
	Description string
	Tags        []string
	// Schedule is nil for pipelines that only run when triggered.
	Schedule  *string
	Catchup   bool
	StartDate time.Time

	// Retry policy applied to every task. A failed attempt is retried
	// after RetryDelay, doubling per attempt up to MaxRetryDelay.
	Retries       int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	tasks   map[string]Task
	order   []string
	groupOf map[string]string
	groups  []*Group
	edges   [][2]string
}

// New returns an empty pipeline with default settings.
func New(id string) *Pipeline {
	return &Pipeline{
		ID:            id,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
		tasks:         make(map[string]Task),
		groupOf:       make(map[string]string),
	}
}

// Add registers tasks. Task ids must be unique.
func (p *Pipeline) Add(tasks ...Task) error {
	for _, t := range tasks {
		if err := p.add(t, ""); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) add(t Task, group string) error {
	id := t.ID()
	if id == "" {
		return fmt.Errorf("pipeline %s: task with empty id", p.ID)
	}
	if _, dup := p.tasks[id]; dup {
		return fmt.Errorf("pipeline %s: duplicate task id %q", p.ID, id)
	}
	p.tasks[id] = t
	p.order = append(p.order, id)
	if group != "" {
		p.groupOf[id] = group
	}
	return nil
}

// AddGroup registers a group's tasks and internal edges.
func (p *Pipeline) AddGroup(g *Group) error {
	for _, existing := range p.groups {
		if existing.id == g.id {
			return fmt.Errorf("pipeline %s: duplicate group id %q", p.ID, g.id)
		}
	}
	for _, t := range g.tasks {
		if err := p.add(t, g.id); err != nil {
			return err
		}
	}
	p.groups = append(p.groups, g)
	p.edges = append(p.edges, g.edges...)
	return nil
}

// SetUpstream adds the edge parent -> child.
func (p *Pipeline) SetUpstream(child, parent string) {
	p.edges = append(p.edges, [2]string{parent, child})
}

// Chain links consecutive nodes: every exit of nodes[i] becomes a parent of
// every entry of nodes[i+1]. Tasks and groups not yet added are added.
func (p *Pipeline) Chain(nodes ...Node) error {
	for _, n := range nodes {
		switch v := n.(type) {
		case *Group:
			if !p.hasGroup(v) {
				if err := p.AddGroup(v); err != nil {
					return err
				}
			}
		case Task:
			if _, known := p.tasks[v.ID()]; !known {
				if err := p.Add(v); err != nil {
					return err
				}
			}
		}
	}
	for i := 0; i+1 < len(nodes); i++ {
		exits, err := p.exits(nodes[i])
		if err != nil {
			return err
		}
		entries, err := p.entries(nodes[i+1])
		if err != nil {
			return err
		}
		for _, parent := range exits {
			for _, child := range entries {
				p.edges = append(p.edges, [2]string{parent, child})
			}
		}
	}
	return nil
}

func (p *Pipeline) hasGroup(g *Group) bool {
	for _, existing := range p.groups {
		if existing == g {
			return true
		}
	}
	return false
}

func (p *Pipeline) entries(n Node) ([]string, error) {
	switch v := n.(type) {
	case *Group:
		if len(v.tasks) == 0 {
			return nil, fmt.Errorf("pipeline %s: group %s has no tasks", p.ID, v.id)
		}
		return v.Entries(), nil
	case Task:
		return []string{v.ID()}, nil
	default:
		return nil, fmt.Errorf("pipeline %s: cannot chain %T", p.ID, n)
	}
}

func (p *Pipeline) exits(n Node) ([]string, error) {
	switch v := n.(type) {
	case *Group:
		if len(v.tasks) == 0 {
			return nil, fmt.Errorf("pipeline %s: group %s has no tasks", p.ID, v.id)
		}
		return v.Exits(), nil
	case Task:
		return []string{v.ID()}, nil
	default:
		return nil, fmt.Errorf("pipeline %s: cannot chain %T", p.ID, n)
	}
}

// Task returns a task by id.
func (p *Pipeline) Task(id string) (Task, bool) {
	t, ok := p.tasks[id]
	return t, ok
}

// TaskIDs returns task ids in registration order.
func (p *Pipeline) TaskIDs() []string {
	return append([]string(nil), p.order...)
}

// Len returns the number of tasks.
func (p *Pipeline) Len() int { return len(p.order) }

// GroupOf returns the group a task belongs to, or "".
func (p *Pipeline) GroupOf(taskID string) string {
	return p.groupOf[taskID]
}

// Groups returns the registered groups.
func (p *Pipeline) Groups() []*Group {
	return append([]*Group(nil), p.groups...)
}

// Graph builds the task graph, rejecting dangling edges and cycles.
func (p *Pipeline) Graph() (*dag.Graph[Task], error) {
	g := dag.New[Task]()
	for _, id := range p.order {
		g.AddNode(id, p.tasks[id])
	}
	for _, e := range p.edges {
		for _, end := range e {
			if !g.Has(end) {
				return nil, fmt.Errorf("pipeline %s: edge %s -> %s references unknown task %q", p.ID, e[0], e[1], end)
			}
		}
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", p.ID, err)
		}
	}
	if cycle := g.FindCycle(); cycle != nil {
		return nil, fmt.Errorf("pipeline %s: %w", p.ID, cycle)
	}
	return g, nil
}

// Validate checks that the task graph is well formed.
func (p *Pipeline) Validate() error {
	if len(p.order) == 0 {
		return fmt.Errorf("pipeline %s has no tasks", p.ID)
	}
	_, err := p.Graph()
	return err
}

// ValidateTasks runs Validate on every task that implements Validator and
// joins the failures.
func (p *Pipeline) ValidateTasks(r *Resources) error {
	if r == nil {
		r = &Resources{}
	}
	var errs []error
	for _, id := range p.order {
		if v, ok := p.tasks[id].(Validator); ok {
			if err := v.Validate(r); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Group is a set of tasks that chains as one node.
type Group struct {
	id    string
	tasks []Task
	ids   map[string]bool
	edges [][2]string
}

// NewGroup returns an empty group.
func NewGroup(id string) *Group {
	return &Group{id: id, ids: make(map[string]bool)}
}

// ID returns the group id.
func (g *Group) ID() string { return g.id }

// Add adds tasks to the group.
func (g *Group) Add(tasks ...Task) {
	for _, t := range tasks {
		g.tasks = append(g.tasks, t)
		g.ids[t.ID()] = true
	}
}

// AddEdge links two tasks of the group.
func (g *Group) AddEdge(parent, child string) error {
	for _, id := range []string{parent, child} {
		if !g.ids[id] {
			return fmt.Errorf("group %s: unknown task %q", g.id, id)
		}
	}
	g.edges = append(g.edges, [2]string{parent, child})
	return nil
}

// Tasks returns the group's tasks in insertion order.
func (g *Group) Tasks() []Task {
	return append([]Task(nil), g.tasks...)
}

// Entries returns the tasks with no parent inside the group.
func (g *Group) Entries() []string {
	hasParent := make(map[string]bool)
	for _, e := range g.edges {
		hasParent[e[1]] = true
	}
	return g.filter(hasParent)
}

// Exits returns the tasks with no child inside the group.
func (g *Group) Exits() []string {
	hasChild := make(map[string]bool)
	for _, e := range g.edges {
		hasChild[e[0]] = true
	}
	return g.filter(hasChild)
}

func (g *Group) filter(exclude map[string]bool) []string {
	var out []string
	for _, t := range g.tasks {
		if !exclude[t.ID()] {
			out = append(out, t.ID())
		}
	}
	sort.Strings(out)
	return out
}
