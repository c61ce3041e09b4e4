package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/leapstack-labs/leapflow/internal/config"
	"github.com/leapstack-labs/leapflow/internal/connections"
	"github.com/leapstack-labs/leapflow/internal/quality"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Scan runs one quality scan in this process. Check failures are reported
// in the result, not as an error.
func (e *Engine) Scan(ctx context.Context, spec core.ScanSpec) (*quality.ScanResult, error) {
	s := &quality.Scanner{
		Adapters:    e.pool,
		Connections: e.conns,
		BaseDir:     e.cfg.ProjectRoot,
		Logger:      e.logger,
	}
	return s.Scan(ctx, spec)
}

// ScanProject runs one scan without opening the state store, so a scan
// subprocess never contends with the run that spawned it.
func ScanProject(ctx context.Context, cfg *config.Config, opts Options, spec core.ScanSpec) (res *quality.ScanResult, err error) {
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
	pool := connections.NewPool(logger)
	defer func() { err = errors.Join(err, pool.Close()) }()

	s := &quality.Scanner{
		Adapters:    pool,
		Connections: conns,
		BaseDir:     cfg.ProjectRoot,
		Logger:      logger,
	}
	return s.Scan(ctx, spec)
}
