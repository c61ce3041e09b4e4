// Package dags registers the pipelines leapflow knows how to build.
//
// A DAG is registered by id with a builder that turns the dags.<id> section
// of leapflow.yaml into a pipeline. Builders run at definition time: model
// groups parse their transformation project while the pipeline is built.
package dags

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/leapflow/internal/operators"
	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Options carry what a builder needs besides its own overrides.
type Options struct {
	// Overrides is the dags.<id> section of leapflow.yaml.
	Overrides map[string]any
	// Runtime is the project-wide quality gate runtime.
	Runtime core.RuntimeConfig
	// Resources resolve project paths and connections at definition time.
	Resources *pipeline.Resources
}

// Builder turns configuration into a pipeline.
type Builder func(opts Options) (*pipeline.Pipeline, error)

// Definition describes a registered DAG.
type Definition struct {
	ID          string
	Description string
	// Stages are the top-level nodes (task or group ids) in chain order.
	Stages []string
	Build  Builder
	// ModelGroups returns the DAG's model groups for the models commands.
	// Optional.
	ModelGroups func(overrides map[string]any) ([]*operators.ModelGroup, error)
	// Sources lists the project paths whose changes should trigger a run
	// under watch. Optional.
	Sources func(overrides map[string]any) ([]string, error)
}

// UnknownDAGError is returned when a DAG id is not registered.
type UnknownDAGError struct {
	ID        string
	Available []string
}

func (e *UnknownDAGError) Error() string {
	return fmt.Sprintf("unknown dag %q (available: %s)", e.ID, strings.Join(e.Available, ", "))
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Definition)
)

// Register adds a DAG definition, replacing any with the same id.
func Register(def Definition) {
	if def.ID == "" || def.Build == nil {
		panic("dags: Register needs an id and a builder")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[def.ID] = def
}

// Get returns a registered definition.
func Get(id string) (Definition, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if def, ok := registry[id]; ok {
		return def, nil
	}
	return Definition{}, &UnknownDAGError{ID: id, Available: ids()}
}

// List returns all registered definitions sorted by id.
func List() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()
	defs := make([]Definition, 0, len(registry))
	for _, def := range registry {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// ids must be called with registryMu held.
func ids() []string {
	out := make([]string, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Build looks up a DAG and builds its pipeline.
func Build(id string, opts Options) (*pipeline.Pipeline, Definition, error) {
	def, err := Get(id)
	if err != nil {
		return nil, def, err
	}
	p, err := def.Build(opts)
	if err != nil {
		return nil, def, fmt.Errorf("dag %s: %w", id, err)
	}
	return p, def, nil
}

// Validate checks a built pipeline against its definition: the graph is
// acyclic, every task belongs to a declared stage, consecutive stages are
// fully linked, and every task's own configuration checks out.
func Validate(def Definition, p *pipeline.Pipeline, r *pipeline.Resources) error {
	var errs []error
	if err := p.Validate(); err != nil {
		errs = append(errs, err)
	} else if err := checkStages(def, p); err != nil {
		errs = append(errs, err)
	}
	if err := p.ValidateTasks(r); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// stage returns the task ids of a top-level node, entries and exits.
func stage(p *pipeline.Pipeline, id string) (tasks, entries, exits []string, ok bool) {
	for _, g := range p.Groups() {
		if g.ID() == id {
			for _, t := range g.Tasks() {
				tasks = append(tasks, t.ID())
			}
			return tasks, g.Entries(), g.Exits(), true
		}
	}
	if _, found := p.Task(id); found && p.GroupOf(id) == "" {
		one := []string{id}
		return one, one, one, true
	}
	return nil, nil, nil, false
}

func checkStages(def Definition, p *pipeline.Pipeline) error {
	if len(def.Stages) == 0 {
		return nil
	}
	graph, err := p.Graph()
	if err != nil {
		return err
	}

	var errs []error
	covered := make(map[string]bool, p.Len())
	var prevID string
	var prevExits []string
	for _, id := range def.Stages {
		tasks, entries, exits, ok := stage(p, id)
		if !ok {
			errs = append(errs, fmt.Errorf("stage %s: not in pipeline", id))
			prevID, prevExits = "", nil
			continue
		}
		for _, t := range tasks {
			covered[t] = true
		}
		if prevExits != nil {
			for _, entry := range entries {
				parents := make(map[string]bool)
				for _, parent := range graph.Parents(entry) {
					parents[parent] = true
				}
				for _, exit := range prevExits {
					if !parents[exit] {
						errs = append(errs, fmt.Errorf("stage %s: %s must run after %s (%s)", id, entry, exit, prevID))
					}
				}
			}
		}
		prevID, prevExits = id, exits
	}
	for _, id := range p.TaskIDs() {
		if !covered[id] {
			errs = append(errs, fmt.Errorf("task %s: not part of any stage", id))
		}
	}
	return errors.Join(errs...)
}

// Summary is a read-only view of a pipeline for listings and the API.
type Summary struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Tags        []string    `json:"tags,omitempty"`
	Schedule    *string     `json:"schedule"`
	Catchup     bool        `json:"catchup"`
	StartDate   time.Time   `json:"start_date"`
	Tasks       int         `json:"tasks"`
	Levels      [][]string  `json:"levels,omitempty"`
	Edges       [][2]string `json:"edges,omitempty"`
}

// Summarize describes a built pipeline with its execution levels.
func Summarize(p *pipeline.Pipeline) (*Summary, error) {
	graph, err := p.Graph()
	if err != nil {
		return nil, err
	}
	levels, err := graph.Levels()
	if err != nil {
		return nil, err
	}
	return &Summary{
		ID:          p.ID,
		Description: p.Description,
		Tags:        p.Tags,
		Schedule:    p.Schedule,
		Catchup:     p.Catchup,
		StartDate:   p.StartDate,
		Tasks:       p.Len(),
		Levels:      levels,
		Edges:       graph.Edges(),
	}, nil
}
