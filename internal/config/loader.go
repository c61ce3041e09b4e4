package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/leapstack-labs/leapflow/internal/connections"
	"github.com/leapstack-labs/leapflow/internal/storage"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "leapflow.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "leapflow.yml"

// EnvPrefix prefixes configuration environment variables. A double
// underscore descends into a section: LEAPFLOW_SERVER__ADDR -> server.addr.
const EnvPrefix = "LEAPFLOW_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// LoadOptions controls Load.
type LoadOptions struct {
	// Root is the project root. When empty it is the directory of File,
	// or the nearest ancestor of the working directory holding a config
	// file, or the working directory.
	Root string
	// File is an explicit config file.
	File string
	// Overrides is loaded last, above environment variables.
	Overrides koanf.Provider
}

// Load merges defaults < config file < LEAPFLOW_* environment < overrides
// and resolves relative paths against the project root.
func Load(opts LoadOptions) (*Config, error) {
	root, err := projectRoot(opts)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	cfgFile := opts.File
	if cfgFile == "" {
		cfgFile = findConfigFile(root)
	} else if abs, err := filepath.Abs(cfgFile); err == nil {
		cfgFile = abs
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. Environment variables (connection URIs are handled by the registry)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Overrides, typically explicit flags
	if opts.Overrides != nil {
		if err := k.Load(opts.Overrides, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = root
	cfg.File = cfgFile
	cfg.resolvePaths()
	return &cfg, nil
}

// LoadFromDir loads the configuration of the project rooted at dir.
func LoadFromDir(dir string) (*Config, error) {
	return Load(LoadOptions{Root: dir})
}

// envKey maps LEAPFLOW_LOG_LEVEL to log_level and LEAPFLOW_SERVER__ADDR to
// server.addr. An empty key makes koanf skip the variable.
func envKey(s string) string {
	if strings.HasPrefix(s, connections.EnvPrefix) {
		return ""
	}
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func projectRoot(opts LoadOptions) (string, error) {
	switch {
	case opts.Root != "":
		return filepath.Abs(opts.Root)
	case opts.File != "":
		abs, err := filepath.Abs(opts.File)
		if err != nil {
			return "", err
		}
		return filepath.Dir(abs), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to determine working directory: %w", err)
	}
	if root := FindProjectRoot(cwd); root != "" {
		return root, nil
	}
	return cwd, nil
}

// findConfigFile finds the config file in the given directory.
// Returns empty string if not found.
func findConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FindProjectRoot walks up from the given directory to find a directory
// containing leapflow.yaml or leapflow.yml.
// Returns empty string if not found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if findConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// Path resolves p against the project root.
func (c *Config) Path(p string) string {
	return resolvePathRelativeTo(p, c.ProjectRoot)
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty, in-memory or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

func (c *Config) resolvePaths() {
	c.StatePath = c.Path(c.StatePath)
	for id, conn := range c.Connections {
		if conn.ID == "" {
			conn.ID = id
		}
		if storage.IsStorageType(conn.Type) && conn.ExtraString("root") != "" {
			extra := make(map[string]any, len(conn.Extra))
			for k, v := range conn.Extra {
				extra[k] = v
			}
			extra["root"] = c.Path(conn.ExtraString("root"))
			conn.Extra = extra
		}
		if conn.Warehouse != nil && conn.Warehouse.Path != "" {
			wh := *conn.Warehouse
			wh.Path = c.Path(wh.Path)
			conn.Warehouse = &wh
		}
		c.Connections[id] = conn
	}
	if c.Runtime.Executable != "" && strings.HasPrefix(c.Runtime.Executable, ".") {
		fields := strings.Fields(c.Runtime.Executable)
		fields[0] = c.Path(fields[0])
		c.Runtime.Executable = strings.Join(fields, " ")
	}
}
