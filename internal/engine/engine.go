// Package engine wires a loaded project configuration to the state store,
// connections and DAG registry. The CLI and the HTTP server both drive
// pipelines through it.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/leapstack-labs/leapflow/internal/config"
	"github.com/leapstack-labs/leapflow/internal/connections"
	"github.com/leapstack-labs/leapflow/internal/dags"
	"github.com/leapstack-labs/leapflow/internal/notifier"
	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/internal/state"

	// Warehouse adapters register themselves.
	_ "github.com/leapstack-labs/leapflow/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapflow/pkg/adapters/postgres"
)

// Engine owns the long-lived resources of a project.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	store  *state.SQLiteStore
	conns  *connections.Registry
	pool   *connections.Pool
	res    *pipeline.Resources
	events *notifier.Notifier

	mu      sync.Mutex
	running map[string]string // dag id -> run id
	wg      sync.WaitGroup
}

// Options tune engine construction.
type Options struct {
	Logger *slog.Logger
	// Environ is scanned for LEAPFLOW_CONN_* connections. Defaults to
	// os.Environ().
	Environ []string
}

// New opens the state store and prepares connections. Warehouses connect
// lazily on first use.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}

	conns := connections.New(cfg.Connections)
	if err := conns.LoadEnv(environ); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.StatePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	pool := connections.NewPool(logger)
	logger.Debug("engine ready", "project_root", cfg.ProjectRoot, "state_path", cfg.StatePath,
		"connections", conns.IDs())

	return &Engine{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		conns:   conns,
		pool:    pool,
		res:     &pipeline.Resources{Connections: conns, Adapters: pool, BaseDir: cfg.ProjectRoot, ConfigFile: cfg.File},
		events:  notifier.New(),
		running: make(map[string]string),
	}, nil
}

// Close waits for background runs, then releases connections and the
// state store.
func (e *Engine) Close() error {
	e.wg.Wait()
	return errors.Join(e.pool.Close(), e.store.Close())
}

// Config returns the project configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Store returns the run state store.
func (e *Engine) Store() *state.SQLiteStore { return e.store }

// Connections returns the connection registry.
func (e *Engine) Connections() *connections.Registry { return e.conns }

// Events returns the run event notifier.
func (e *Engine) Events() *notifier.Notifier { return e.events }

// Resources returns the resources handed to tasks.
func (e *Engine) Resources() *pipeline.Resources { return e.res }

// Build builds a registered DAG with its dags.<id> configuration.
func (e *Engine) Build(dagID string) (*pipeline.Pipeline, dags.Definition, error) {
	return dags.Build(dagID, dags.Options{
		Overrides: e.cfg.DAGOverrides(dagID),
		Runtime:   e.cfg.Runtime,
		Resources: e.res,
	})
}

// Validate builds a DAG and checks its topology and task configuration
// without running anything.
func (e *Engine) Validate(dagID string) (*pipeline.Pipeline, error) {
	p, def, err := e.Build(dagID)
	if err != nil {
		var unknown *dags.UnknownDAGError
		if errors.As(err, &unknown) {
			return nil, err
		}
		return nil, &InvalidDAGError{DAGID: dagID, Err: err}
	}
	if err := dags.Validate(def, p, e.res); err != nil {
		return p, &InvalidDAGError{DAGID: dagID, Err: err}
	}
	return p, nil
}

// InvalidDAGError reports a DAG that cannot be built or fails validation.
type InvalidDAGError struct {
	DAGID string
	Err   error
}

func (e *InvalidDAGError) Error() string {
	return fmt.Sprintf("dag %s is invalid:\n%v", e.DAGID, e.Err)
}

func (e *InvalidDAGError) Unwrap() error { return e.Err }

// Describe builds a DAG and summarizes its topology.
func (e *Engine) Describe(dagID string) (*dags.Summary, error) {
	p, _, err := e.Build(dagID)
	if err != nil {
		return nil, err
	}
	return dags.Summarize(p)
}

// WatchPaths resolves the source paths of a DAG against the project root.
func (e *Engine) WatchPaths(dagID string) ([]string, error) {
	def, err := dags.Get(dagID)
	if err != nil {
		return nil, err
	}
	if def.Sources == nil {
		return nil, fmt.Errorf("dag %s declares no sources to watch", dagID)
	}
	srcs, err := def.Sources(e.cfg.DAGOverrides(dagID))
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(srcs))
	for _, src := range srcs {
		paths = append(paths, e.res.Path(src))
	}
	return paths, nil
}
