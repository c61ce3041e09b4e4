package config

import (
	"time"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Default configuration values.
const (
	DefaultStateFile   = ".leapflow/state.db"
	DefaultDAG         = "retail"
	DefaultParallelism = 4
	DefaultOutput      = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultServerAddr  = "127.0.0.1:8080"
	DefaultRateLimit   = 1.0
	DefaultBurst       = 3
	DefaultDebounce    = 2 * time.Second
)

// Defaults returns the lowest configuration layer as a flat koanf map.
func Defaults() map[string]any {
	return map[string]any{
		"state_path":        DefaultStateFile,
		"dag":               DefaultDAG,
		"parallelism":       DefaultParallelism,
		"output":            DefaultOutput,
		"verbose":           false,
		"log_level":         DefaultLogLevel,
		"log_format":        DefaultLogFormat,
		"runtime.type":      core.RuntimeSubprocess,
		"server.addr":       DefaultServerAddr,
		"server.rate_limit": DefaultRateLimit,
		"server.burst":      DefaultBurst,
		"watch.debounce":    DefaultDebounce.String(),
	}
}
