package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/leapflow/pkg/adapter"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Pool hands out connected warehouse adapters, one per physical database.
// Adapters connect lazily on first use and stay open until Release or Close.
type Pool struct {
	mu       sync.Mutex
	adapters map[string]core.Adapter
	logger   *slog.Logger
}

// NewPool creates an empty pool.
func NewPool(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{adapters: make(map[string]core.Adapter), logger: logger}
}

// Adapter returns a connected adapter for cfg, connecting on first use.
func (p *Pool) Adapter(ctx context.Context, cfg core.AdapterConfig) (core.Adapter, error) {
	key := cfg.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	if a, ok := p.adapters[key]; ok {
		return a, nil
	}

	p.logger.Debug("connecting to warehouse", "adapter_type", cfg.Type, "path", cfg.Path, "host", cfg.Host)

	a, err := adapter.NewAdapter(cfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse adapter: %w", err)
	}
	if err := a.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	p.adapters[key] = a
	return a, nil
}

// Release closes the adapter for cfg, if open. The next Adapter call reconnects.
// Used before handing a file-backed database to another process.
func (p *Pool) Release(cfg core.AdapterConfig) error {
	key := cfg.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.adapters[key]
	if !ok {
		return nil
	}
	delete(p.adapters, key)
	p.logger.Debug("releasing warehouse connection", "adapter_type", cfg.Type, "path", cfg.Path)
	return a.Close()
}

// Close closes every open adapter.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, a := range p.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.adapters, key)
	}
	return errors.Join(errs...)
}
