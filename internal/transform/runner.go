// Package transform executes the models of a project against a warehouse.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/leapflow/internal/project"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"golang.org/x/sync/errgroup"
)

// Result describes one materialized model.
type Result struct {
	Model        string        `json:"model"`
	Relation     string        `json:"relation"`
	Materialized string        `json:"materialized"`
	Rows         int64         `json:"rows"`
	Duration     time.Duration `json:"duration"`
}

// Runner renders and materializes models. At most Threads models execute
// at once, whether they come through Run or concurrent RunModel calls.
type Runner struct {
	graph   *project.Graph
	adapter core.Adapter
	logger  *slog.Logger
	threads int
	sem     chan struct{}

	schemaMu sync.Mutex
	schemas  map[string]bool
}

// NewRunner creates a runner. Concurrency follows the target's threads.
func NewRunner(graph *project.Graph, adp core.Adapter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	threads := project.DefaultThreads
	if graph.Target != nil && graph.Target.Threads > 0 {
		threads = graph.Target.Threads
	}
	return &Runner{
		graph:   graph,
		adapter: adp,
		logger:  logger,
		threads: threads,
		sem:     make(chan struct{}, threads),
		schemas: make(map[string]bool),
	}
}

// Threads returns the concurrency limit.
func (r *Runner) Threads() int { return r.threads }

// Compile renders m to SQL with refs resolved to warehouse relations.
func (r *Runner) Compile(m *core.Model) (string, error) {
	return r.graph.Render(m, resolver{graph: r.graph})
}

// RunModel materializes a single model.
func (r *Runner) RunModel(ctx context.Context, name string) (*Result, error) {
	m, ok := r.graph.Model(name)
	if !ok {
		return nil, fmt.Errorf("model %q not found", name)
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	sql, err := r.Compile(m)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	r.logger.Debug("executing model", "model", name, "materialized", m.Materialized)

	if err := r.ensureSchema(ctx, m.Schema); err != nil {
		return nil, err
	}
	rows, err := materialize(ctx, r.adapter, m, strings.TrimSpace(sql))
	if err != nil {
		return nil, err
	}
	res := &Result{
		Model:        name,
		Relation:     m.Relation(),
		Materialized: m.Materialized,
		Rows:         rows,
		Duration:     time.Since(start),
	}
	r.logger.Info("model materialized", "model", name, "relation", res.Relation,
		"rows", rows, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// Run materializes models level by level; models in one level run
// concurrently. The first failure cancels the remaining work.
func (r *Runner) Run(ctx context.Context, models []*core.Model) ([]*Result, error) {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.Name
	}
	levels, err := r.graph.DAG().Subgraph(ids).Levels()
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []*Result
	)
	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.threads)
		for _, name := range level {
			g.Go(func() error {
				res, err := r.RunModel(gctx, name)
				if err != nil {
					return fmt.Errorf("model %s: %w", name, err)
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
	}
	return results, nil
}

// ensureSchema creates each schema once per runner; concurrent catalog
// writes to the same schema conflict on some warehouses.
func (r *Runner) ensureSchema(ctx context.Context, schema string) error {
	if schema == "" {
		return nil
	}
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if r.schemas[schema] {
		return nil
	}
	if err := r.adapter.CreateSchema(ctx, schema); err != nil {
		return err
	}
	r.schemas[schema] = true
	return nil
}

// resolver maps ref() to the relation of a project model and source() to
// schema.table.
type resolver struct {
	graph *project.Graph
}

func (r resolver) Ref(name string) (string, error) {
	m, ok := r.graph.Model(name)
	if !ok {
		return "", fmt.Errorf("ref(%q): model not found", name)
	}
	return m.Relation(), nil
}

func (r resolver) Source(schema, table string) (string, error) {
	if !core.ValidIdentifier(schema) || !core.ValidIdentifier(table) {
		return "", fmt.Errorf("source(%q, %q): invalid identifier", schema, table)
	}
	return schema + "." + table, nil
}
