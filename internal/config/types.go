// Package config provides project configuration for leapflow.
// This package is decoupled from CLI concerns so that the engine, the HTTP
// server and tests can load a project without cobra.
package config

import (
	"time"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Config is the merged content of leapflow.yaml, LEAPFLOW_* environment
// variables and command-line flags.
type Config struct {
	// ProjectRoot anchors every relative path in the configuration.
	ProjectRoot string `koanf:"-"`
	// File is the config file that was read, if any.
	File string `koanf:"-"`

	StatePath    string `koanf:"state_path"`
	DefaultDAG   string `koanf:"dag"`
	Parallelism  int    `koanf:"parallelism"`
	OutputFormat string `koanf:"output"`
	Verbose      bool   `koanf:"verbose"`
	LogLevel     string `koanf:"log_level"`
	LogFormat    string `koanf:"log_format"`

	Connections map[string]core.Connection `koanf:"connections"`
	Runtime     core.RuntimeConfig         `koanf:"runtime"`
	Server      ServerConfig               `koanf:"server"`
	Watch       WatchConfig                `koanf:"watch"`

	// DAGs holds per-DAG overrides, decoded by the DAG builder itself.
	DAGs map[string]map[string]any `koanf:"dags"`
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Addr string `koanf:"addr"`
	// RateLimit is the number of run triggers accepted per second.
	// Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// WatchConfig holds configuration for the file sensor.
type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

// DAGOverrides returns the overrides for a DAG, or nil.
func (c *Config) DAGOverrides(id string) map[string]any {
	if c == nil || c.DAGs == nil {
		return nil
	}
	return c.DAGs[id]
}
