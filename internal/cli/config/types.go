// Package config provides configuration management for the leapflow CLI.
//
// The configuration types live in internal/config so the engine and the
// HTTP server can load a project without cobra; this package layers the
// command-line flags on top and carries the process logger.
package config

import (
	intconfig "github.com/leapstack-labs/leapflow/internal/config"
)

// Config is an alias for the shared configuration.
type Config = intconfig.Config

// ValidationError is an alias for the shared validation error.
type ValidationError = intconfig.ValidationError

// Default configuration values - uses shared defaults from internal/config
const (
	DefaultStateFile = intconfig.DefaultStateFile
	DefaultDAG       = intconfig.DefaultDAG
	DefaultOutput    = intconfig.DefaultOutput
)
