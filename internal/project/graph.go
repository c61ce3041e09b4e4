package project

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapflow/internal/dag"
	starctx "github.com/leapstack-labs/leapflow/internal/starlark"
	"github.com/leapstack-labs/leapflow/internal/template"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Graph holds the models of a project linked by their ref() calls.
type Graph struct {
	Project *Project
	Target  *Target

	dag *dag.Graph[*core.Model]
}

// UnknownRefError is returned when a model refs a model the project does
// not define.
type UnknownRefError struct {
	Model string
	Ref   string
}

func (e *UnknownRefError) Error() string {
	return fmt.Sprintf("model %q references unknown model %q", e.Model, e.Ref)
}

// Discover parses every model under the project's model paths. Each model
// is rendered once with a recording ref() to extract its dependencies.
func Discover(p *Project, target *Target) (*Graph, error) {
	var models []*core.Model
	seen := make(map[string]string)

	for _, mp := range p.ModelPaths {
		root := filepath.Join(p.Dir, mp)
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("model path %q: %w", mp, err)
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") && path != root {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || filepath.Ext(path) != ".sql" {
				return nil
			}
			m, err := parseModel(p, target, path)
			if err != nil {
				return err
			}
			if prev, dup := seen[m.Name]; dup {
				return fmt.Errorf("duplicate model name %q in %s and %s", m.Name, prev, m.Path)
			}
			seen[m.Name] = m.Path
			models = append(models, m)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return newGraph(p, target, models)
}

func parseModel(p *Project, target *Target, path string) (*core.Model, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	rel, err := filepath.Rel(p.Dir, path)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)

	fm, body, err := SplitFrontmatter(rel, string(content))
	if err != nil {
		return nil, err
	}
	defaults := p.defaultsFor(rel)

	m := &core.Model{
		Name:         fm.Name,
		Path:         rel,
		FilePath:     path,
		Materialized: firstNonEmpty(fm.Materialized, defaults.Materialized, core.MaterializationTable),
		Schema:       fm.Schema,
		Description:  fm.Description,
		Meta:         fm.Meta,
		RawSQL:       body,
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), ".sql")
	}
	if !core.ValidIdentifier(m.Name) {
		return nil, fmt.Errorf("%s: invalid model name %q", rel, m.Name)
	}
	if m.Schema == "" {
		m.Schema = defaults.Schema
	}
	if m.Schema == "" && target != nil {
		m.Schema = target.Schema
	}
	m.UniqueID = "model." + p.Name + "." + m.Name
	for _, tag := range append(slices.Clone(defaults.Tags), fm.Tags...) {
		if !slices.Contains(m.Tags, tag) {
			m.Tags = append(m.Tags, tag)
		}
	}

	ctx, err := newRenderContext(p, target, m, nil)
	if err != nil {
		return nil, err
	}
	if _, err := template.RenderString(m.RawSQL, rel, ctx); err != nil {
		return nil, err
	}
	m.DependsOn = ctx.Refs()
	for _, s := range ctx.Sources() {
		m.Sources = append(m.Sources, core.SourceRef{Schema: s[0], Table: s[1]})
	}
	return m, nil
}

func newGraph(p *Project, target *Target, models []*core.Model) (*Graph, error) {
	g := &Graph{Project: p, Target: target, dag: dag.New[*core.Model]()}
	for _, m := range models {
		g.dag.AddNode(m.Name, m)
	}
	for _, m := range models {
		for _, dep := range m.DependsOn {
			if !g.dag.Has(dep) {
				return nil, &UnknownRefError{Model: m.Name, Ref: dep}
			}
			if err := g.dag.AddEdge(dep, m.Name); err != nil {
				return nil, err
			}
		}
	}
	if cycle := g.dag.FindCycle(); cycle != nil {
		return nil, fmt.Errorf("model dependencies: %w", cycle)
	}
	return g, nil
}

// Model returns the model called name.
func (g *Graph) Model(name string) (*core.Model, bool) {
	return g.dag.Node(name)
}

// Models returns all models in dependency order.
func (g *Graph) Models() []*core.Model {
	order, _ := g.dag.TopologicalSort()
	out := make([]*core.Model, 0, len(order))
	for _, name := range order {
		m, _ := g.dag.Node(name)
		out = append(out, m)
	}
	return out
}

// DAG exposes the underlying dependency graph.
func (g *Graph) DAG() *dag.Graph[*core.Model] {
	return g.dag
}

// Render renders m for execution, resolving ref() and source() through r.
func (g *Graph) Render(m *core.Model, r starctx.Resolver) (string, error) {
	ctx, err := newRenderContext(g.Project, g.Target, m, r)
	if err != nil {
		return "", err
	}
	return template.RenderString(m.RawSQL, m.Path, ctx)
}

func newRenderContext(p *Project, target *Target, m *core.Model, r starctx.Resolver) (*starctx.Context, error) {
	cfg := map[string]any{
		"materialized": m.Materialized,
		"schema":       m.Schema,
	}
	if len(m.Tags) > 0 {
		cfg["tags"] = slices.Clone(m.Tags)
	}
	if len(m.Meta) > 0 {
		cfg["meta"] = m.Meta
	}
	opts := []starctx.Option{
		starctx.WithConfig(cfg),
		starctx.WithThis(&starctx.ThisInfo{Name: m.Name, Schema: m.Schema}),
		starctx.WithVars(p.Vars),
		starctx.WithResolver(r),
	}
	if target != nil {
		opts = append(opts, starctx.WithTarget(&starctx.TargetInfo{
			Name:     target.Name,
			Type:     target.Type,
			Schema:   target.Schema,
			Database: firstNonEmpty(target.Database, target.Path),
			Threads:  target.Threads,
		}))
	}
	return starctx.NewContext(opts...)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
