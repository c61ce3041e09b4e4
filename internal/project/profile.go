package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapflow/internal/connections"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"gopkg.in/yaml.v3"
)

// DefaultThreads is the model concurrency when a target sets none.
const DefaultThreads = 1

// Target is one output of a profile.
type Target struct {
	core.WarehouseConfig `yaml:",inline"`
	Threads              int `yaml:"threads"`

	// Name is the output key, e.g. "dev".
	Name string `yaml:"-"`
}

type profileEntry struct {
	Target  string            `yaml:"target"`
	Outputs map[string]Target `yaml:"outputs"`
}

// LoadProfile reads cfg.ProfilesPath and returns the selected target.
// An empty TargetName selects the profile's default target. Relative
// DuckDB paths are resolved against baseDir; ${VAR} references expand.
func LoadProfile(cfg core.ProfileConfig, baseDir string) (*Target, error) {
	data, err := os.ReadFile(cfg.ProfilesPath)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var profiles map[string]profileEntry
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfg.ProfilesPath, err)
	}

	entry, ok := profiles[cfg.ProfileName]
	if !ok {
		return nil, fmt.Errorf("profile %q not found in %s (available: %s)",
			cfg.ProfileName, cfg.ProfilesPath, strings.Join(sortedKeys(profiles), ", "))
	}
	name := cfg.TargetName
	if name == "" {
		name = entry.Target
	}
	if name == "" {
		return nil, fmt.Errorf("profile %q has no default target", cfg.ProfileName)
	}
	t, ok := entry.Outputs[name]
	if !ok {
		return nil, fmt.Errorf("target %q not found in profile %q (available: %s)",
			name, cfg.ProfileName, strings.Join(sortedKeys(entry.Outputs), ", "))
	}

	t.Name = name
	t.Type = strings.ToLower(t.Type)
	t.Path = connections.ExpandEnv(t.Path)
	t.Host = connections.ExpandEnv(t.Host)
	t.Database = connections.ExpandEnv(t.Database)
	t.User = connections.ExpandEnv(t.User)
	t.Password = connections.ExpandEnv(t.Password)
	if t.Type == "" {
		return nil, fmt.Errorf("target %q of profile %q: type is required", name, cfg.ProfileName)
	}
	if t.Type == "duckdb" && t.Path == "" && t.Database != "" {
		t.Path, t.Database = t.Database, ""
	}
	if t.Type == "duckdb" && t.Path != "" && t.Path != ":memory:" && !filepath.IsAbs(t.Path) {
		t.Path = filepath.Join(baseDir, t.Path)
	}
	if t.Threads <= 0 {
		t.Threads = DefaultThreads
	}
	return &t, nil
}

// AdapterConfig returns the adapter settings of the target.
func (t *Target) AdapterConfig() core.AdapterConfig {
	return t.WarehouseConfig.AdapterConfig()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
