package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapflow/internal/storage"
	"github.com/leapstack-labs/leapflow/pkg/adapter"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	File   string
	Issues []string
}

func (e *ValidationError) Error() string {
	where := "configuration"
	if e.File != "" {
		where = e.File
	}
	var b strings.Builder
	fmt.Fprintf(&b, "invalid %s:", where)
	for _, issue := range e.Issues {
		b.WriteString("\n  - ")
		b.WriteString(issue)
	}
	return b.String()
}

// OutputModes lists the accepted values of the output setting.
var OutputModes = []string{"auto", "text", "markdown", "json"}

// Validate checks settings that do not need the filesystem.
// It returns a *ValidationError, or nil.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if c.StatePath == "" {
		add("state_path is required")
	}
	if c.Parallelism < 1 {
		add("parallelism must be at least 1, got %d", c.Parallelism)
	}
	if !contains(OutputModes, c.OutputFormat) {
		add("output must be one of %s, got %q", strings.Join(OutputModes, "|"), c.OutputFormat)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		add("%v", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		add("log_format must be text or json, got %q", c.LogFormat)
	}

	switch c.Runtime.Type {
	case "", core.RuntimeInProcess, core.RuntimeSubprocess:
	default:
		add("runtime.type must be %s or %s, got %q", core.RuntimeInProcess, core.RuntimeSubprocess, c.Runtime.Type)
	}

	ids := make([]string, 0, len(c.Connections))
	for id := range c.Connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		conn := c.Connections[id]
		typ := strings.ToLower(conn.Type)
		switch {
		case typ == "":
			add("connections.%s: type is required", id)
		case !storage.IsStorageType(typ) && !adapter.IsRegistered(typ):
			add("connections.%s: unknown type %q (storage: %s; warehouses: %s)", id, conn.Type,
				strings.Join(storage.SupportedTypes(), ", "), strings.Join(adapter.ListAdapters(), ", "))
		}
		if conn.Warehouse != nil && !adapter.IsRegistered(strings.ToLower(conn.Warehouse.Type)) {
			add("connections.%s.warehouse: unknown adapter type %q (available: %s)", id, conn.Warehouse.Type,
				strings.Join(adapter.ListAdapters(), ", "))
		}
	}

	if c.Server.RateLimit < 0 {
		add("server.rate_limit must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.Burst < 1 {
		add("server.burst must be at least 1 when rate limiting")
	}
	if c.Watch.Debounce < 0 {
		add("watch.debounce must not be negative")
	}

	if len(issues) > 0 {
		return &ValidationError{File: c.File, Issues: issues}
	}
	return nil
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
