package engine

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/leapflow/internal/dags"
	"github.com/leapstack-labs/leapflow/internal/operators"
	"github.com/leapstack-labs/leapflow/internal/transform"
)

// ModelSet is the selected models of one model group.
type ModelSet struct {
	Group  *operators.ModelGroup
	Loaded *operators.Loaded
}

// ModelGroups loads the model groups of a DAG. A non-empty group limits
// the result to that group.
func (e *Engine) ModelGroups(dagID, group string) ([]*ModelSet, error) {
	def, err := dags.Get(dagID)
	if err != nil {
		return nil, err
	}
	if def.ModelGroups == nil {
		return nil, fmt.Errorf("dag %s has no model groups", dagID)
	}
	groups, err := def.ModelGroups(e.cfg.DAGOverrides(dagID))
	if err != nil {
		return nil, err
	}

	var sets []*ModelSet
	for _, g := range groups {
		if group != "" && g.GroupID != group {
			continue
		}
		loaded, err := g.Load(e.res)
		if err != nil {
			return nil, err
		}
		sets = append(sets, &ModelSet{Group: g, Loaded: loaded})
	}
	if group != "" && len(sets) == 0 {
		return nil, fmt.Errorf("dag %s has no model group %q", dagID, group)
	}
	return sets, nil
}

// CompiledModel is a model rendered to SQL.
type CompiledModel struct {
	Group    string `json:"group"`
	Model    string `json:"model"`
	Relation string `json:"relation"`
	SQL      string `json:"sql"`
}

// Compile renders the selected models and writes each project's manifest.
// It returns the compiled models and the manifest paths written.
func (e *Engine) Compile(dagID, group, generator string) ([]CompiledModel, []string, error) {
	sets, err := e.ModelGroups(dagID, group)
	if err != nil {
		return nil, nil, err
	}

	var compiled []CompiledModel
	written := make(map[string]bool)
	var manifests []string
	for _, set := range sets {
		runner := transform.NewRunner(set.Loaded.Graph, nil, e.logger)
		for _, m := range set.Loaded.Selected {
			sql, err := runner.Compile(m)
			if err != nil {
				return nil, nil, fmt.Errorf("group %s: model %s: %w", set.Group.GroupID, m.Name, err)
			}
			compiled = append(compiled, CompiledModel{
				Group: set.Group.GroupID, Model: m.Name, Relation: m.Relation(), SQL: sql,
			})
		}
		path, err := set.Loaded.Graph.WriteManifest(generator)
		if err != nil {
			return nil, nil, err
		}
		if !written[path] {
			written[path] = true
			manifests = append(manifests, path)
		}
	}
	return compiled, manifests, nil
}

// RunModels materializes the selected models of a DAG's groups outside a
// pipeline run, group by group.
func (e *Engine) RunModels(ctx context.Context, dagID, group string) ([]*transform.Result, error) {
	sets, err := e.ModelGroups(dagID, group)
	if err != nil {
		return nil, err
	}

	var results []*transform.Result
	for _, set := range sets {
		adp, err := e.pool.Adapter(ctx, set.Loaded.Graph.Target.AdapterConfig())
		if err != nil {
			return results, err
		}
		res, err := transform.NewRunner(set.Loaded.Graph, adp, e.logger).Run(ctx, set.Loaded.Selected)
		results = append(results, res...)
		if err != nil {
			return results, fmt.Errorf("group %s: %w", set.Group.GroupID, err)
		}
	}
	return results, nil
}

// Models flattens model sets for listings.
func Models(sets []*ModelSet) []ModelInfo {
	var out []ModelInfo
	for _, set := range sets {
		for _, m := range set.Loaded.Selected {
			out = append(out, ModelInfo{
				Group:        set.Group.GroupID,
				Name:         m.Name,
				Path:         m.Path,
				Materialized: m.Materialized,
				Relation:     m.Relation(),
				Tags:         m.Tags,
				DependsOn:    m.DependsOn,
			})
		}
	}
	return out
}

// ModelInfo describes one selected model.
type ModelInfo struct {
	Group        string   `json:"group"`
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	Materialized string   `json:"materialized"`
	Relation     string   `json:"relation"`
	Tags         []string `json:"tags,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
}
