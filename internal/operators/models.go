package operators

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/internal/project"
	"github.com/leapstack-labs/leapflow/internal/transform"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// ModelGroup expands the selected models of a transformation project into
// one task per model, linked by their refs.
type ModelGroup struct {
	GroupID string
	Project core.ProjectConfig
	Profile core.ProfileConfig
	Render  core.RenderConfig
}

// Loaded is a model group resolved against its project.
type Loaded struct {
	Graph    *project.Graph
	Selected []*core.Model
}

// Load parses the project and profile and applies the group's selectors.
func (g *ModelGroup) Load(r *pipeline.Resources) (*Loaded, error) {
	dir := r.Path(g.Project.Dir)
	p, err := project.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", g.GroupID, err)
	}

	profile := g.Profile
	if profile.ProfilesPath == "" {
		profile.ProfilesPath = filepath.Join(dir, "profiles.yml")
	} else {
		profile.ProfilesPath = r.Path(profile.ProfilesPath)
	}
	if profile.ProfileName == "" {
		profile.ProfileName = p.Profile
	}
	target, err := project.LoadProfile(profile, r.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", g.GroupID, err)
	}

	graph, err := project.LoadGraph(p, target, g.Render.LoadMode)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", g.GroupID, err)
	}
	selected, err := graph.Select(g.Render.Select, g.Render.Exclude)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", g.GroupID, err)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("group %s: selectors %v match no models", g.GroupID, g.Render.Select)
	}
	return &Loaded{Graph: graph, Selected: selected}, nil
}

// Build loads the project and returns the group's tasks.
func (g *ModelGroup) Build(r *pipeline.Resources) (*pipeline.Group, error) {
	loaded, err := g.Load(r)
	if err != nil {
		return nil, err
	}

	group := pipeline.NewGroup(g.GroupID)
	inGroup := make(map[string]bool, len(loaded.Selected))
	for _, m := range loaded.Selected {
		inGroup[m.Name] = true
		group.Add(&ModelTask{TaskID: g.GroupID + "." + m.Name, Model: m.Name, loaded: loaded, group: g.GroupID})
	}
	for _, m := range loaded.Selected {
		for _, dep := range m.DependsOn {
			if !inGroup[dep] {
				continue
			}
			if err := group.AddEdge(g.GroupID+"."+dep, g.GroupID+"."+m.Name); err != nil {
				return nil, err
			}
		}
	}
	return group, nil
}

// ModelTask materializes one model.
type ModelTask struct {
	TaskID string
	Model  string

	loaded *Loaded
	group  string
}

// ID returns the task id.
func (t *ModelTask) ID() string { return t.TaskID }

// Describe summarizes the model.
func (t *ModelTask) Describe() string {
	m, ok := t.loaded.Graph.Model(t.Model)
	if !ok {
		return "model " + t.Model
	}
	return fmt.Sprintf("%s %s", m.Materialized, m.Relation())
}

// Execute renders and materializes the model. The tasks of one group share
// a runner for the run, so the profile's thread limit holds across them.
func (t *ModelTask) Execute(ctx context.Context, tc *pipeline.TaskContext) error {
	v, err := tc.Shared("models:"+t.group, func() (any, error) {
		return t.newRunner(ctx, tc.Resources, tc.Logger)
	})
	if err != nil {
		return err
	}
	res, err := v.(*transform.Runner).RunModel(ctx, t.Model)
	if err != nil {
		return fmt.Errorf("model %s: %w", t.Model, err)
	}
	if res.Materialized == core.MaterializationTable {
		tc.SetOutput("table %s (%d rows)", res.Relation, res.Rows)
	} else {
		tc.SetOutput("%s %s", res.Materialized, res.Relation)
	}
	return nil
}

func (t *ModelTask) newRunner(ctx context.Context, r *pipeline.Resources, logger *slog.Logger) (*transform.Runner, error) {
	if r.Adapters == nil {
		return nil, fmt.Errorf("no warehouse adapters available")
	}
	adp, err := r.Adapters.Adapter(ctx, t.loaded.Graph.Target.AdapterConfig())
	if err != nil {
		return nil, err
	}
	return transform.NewRunner(t.loaded.Graph, adp, logger), nil
}
