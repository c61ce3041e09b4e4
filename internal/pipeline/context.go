package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/leapstack-labs/leapflow/internal/connections"
	"github.com/leapstack-labs/leapflow/internal/storage"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Resources are the shared services tasks reach through their context.
type Resources struct {
	Connections *connections.Registry
	Adapters    *connections.Pool
	// BaseDir anchors relative paths in task configuration.
	BaseDir string
	// ConfigFile is the project config file, if one was read. Child
	// processes load the same file.
	ConfigFile string
	// OpenStore opens the object store behind a connection. Defaults to
	// storage.Open.
	OpenStore func(conn *core.Connection, logger *slog.Logger) (core.ObjectStore, error)
}

// Path resolves p against BaseDir.
func (r *Resources) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || r.BaseDir == "" {
		return p
	}
	return filepath.Join(r.BaseDir, p)
}

// Connection returns a connection by id.
func (r *Resources) Connection(id string) (*core.Connection, error) {
	if r.Connections == nil {
		return nil, fmt.Errorf("no connections configured (looking up %q)", id)
	}
	return r.Connections.Get(id)
}

// ObjectStore opens the object store for a connection id.
func (r *Resources) ObjectStore(id string, logger *slog.Logger) (core.ObjectStore, *core.Connection, error) {
	conn, err := r.Connection(id)
	if err != nil {
		return nil, nil, err
	}
	open := r.OpenStore
	if open == nil {
		open = storage.Open
	}
	store, err := open(conn, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, conn, nil
}

// Warehouse returns a connected adapter for the warehouse behind a
// connection id.
func (r *Resources) Warehouse(ctx context.Context, id string) (core.Adapter, core.AdapterConfig, error) {
	if r.Connections == nil || r.Adapters == nil {
		return nil, core.AdapterConfig{}, fmt.Errorf("no warehouse connections configured (looking up %q)", id)
	}
	cfg, err := r.Connections.Warehouse(id)
	if err != nil {
		return nil, cfg, err
	}
	adp, err := r.Adapters.Adapter(ctx, cfg)
	return adp, cfg, err
}

// TaskContext is what a task sees while it runs.
type TaskContext struct {
	RunID     string
	DAGID     string
	TaskID    string
	Attempt   int
	Logger    *slog.Logger
	Resources *Resources

	store  core.Store
	scope  *runScope
	output string
}

// runScope holds values shared by the tasks of one run.
type runScope struct {
	mu     sync.Mutex
	values map[string]any
}

// Shared returns the run-scoped value stored under key, building it on
// first use. Tasks of one group use it to share state such as a model
// runner for the duration of a run.
func (tc *TaskContext) Shared(key string, build func() (any, error)) (any, error) {
	if tc.scope == nil {
		return build()
	}
	tc.scope.mu.Lock()
	defer tc.scope.mu.Unlock()
	if v, ok := tc.scope.values[key]; ok {
		return v, nil
	}
	v, err := build()
	if err != nil {
		return nil, err
	}
	if tc.scope.values == nil {
		tc.scope.values = make(map[string]any)
	}
	tc.scope.values[key] = v
	return v, nil
}

// SetOutput records a one-line summary of the task's result.
func (tc *TaskContext) SetOutput(format string, args ...any) {
	tc.output = fmt.Sprintf(format, args...)
}

// Output returns the recorded summary.
func (tc *TaskContext) Output() string { return tc.output }

// RecordChecks stores quality check results for the run.
func (tc *TaskContext) RecordChecks(ctx context.Context, results []core.CheckResult) error {
	if tc.store == nil || len(results) == 0 {
		return nil
	}
	return tc.store.SaveCheckResults(ctx, tc.RunID, results)
}
