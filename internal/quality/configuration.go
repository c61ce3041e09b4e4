package quality

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/leapflow/internal/connections"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"gopkg.in/yaml.v3"
)

const dataSourcePrefix = "data_source "

// DataSource is one "data_source <name>:" entry of a scan configuration.
// It names a connection id, an inline connection block, or both; inline
// values override the connection's warehouse.
type DataSource struct {
	Name         string
	Type         string               `mapstructure:"type"`
	ConnectionID string               `mapstructure:"connection_id"`
	Schema       string               `mapstructure:"schema"`
	Connection   core.WarehouseConfig `mapstructure:"connection"`
}

// Configuration is a parsed scan configuration file.
type Configuration struct {
	File        string
	DataSources map[string]*DataSource
}

// Names returns the data source names, sorted.
func (c *Configuration) Names() []string {
	names := make([]string, 0, len(c.DataSources))
	for n := range c.DataSources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DataSource returns the named data source. An empty name selects the only
// data source when exactly one is defined.
func (c *Configuration) DataSource(name string) (*DataSource, error) {
	if name == "" {
		if len(c.DataSources) == 1 {
			for _, ds := range c.DataSources {
				return ds, nil
			}
		}
		return nil, fmt.Errorf("%s defines %d data sources; pick one with --data-source (available: %v)", c.File, len(c.DataSources), c.Names())
	}
	ds, ok := c.DataSources[name]
	if !ok {
		return nil, fmt.Errorf("data source %q not defined in %s (available: %v)", name, c.File, c.Names())
	}
	return ds, nil
}

// LoadConfiguration reads a scan configuration file.
func LoadConfiguration(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan configuration: %w", err)
	}
	return ParseConfiguration(path, data)
}

// ParseConfiguration parses configuration content. ${VAR} references are
// expanded from the environment.
func ParseConfiguration(file string, data []byte) (*Configuration, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	cfg := &Configuration{File: file, DataSources: make(map[string]*DataSource)}
	for key, value := range raw {
		if !strings.HasPrefix(key, dataSourcePrefix) {
			return nil, fmt.Errorf("%s: unsupported key %q", file, key)
		}
		name := strings.TrimSpace(strings.TrimPrefix(key, dataSourcePrefix))
		if name == "" {
			return nil, fmt.Errorf("%s: data source without a name", file)
		}
		body, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: data source %s must be a mapping", file, name)
		}
		ds, err := decodeDataSource(name, body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		cfg.DataSources[name] = ds
	}
	if len(cfg.DataSources) == 0 {
		return nil, fmt.Errorf("%s: no data sources defined", file)
	}
	return cfg, nil
}

func decodeDataSource(name string, body map[string]any) (*DataSource, error) {
	if conn, ok := body["connection"].(map[string]any); ok {
		if u, ok := conn["username"]; ok {
			if _, set := conn["user"]; !set {
				conn["user"] = u
			}
			delete(conn, "username")
		}
		expandStrings(conn)
	}

	ds := &DataSource{Name: name}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           ds,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	// WarehouseConfig is tagged for koanf; decode its block with that tag.
	conn, _ := body["connection"].(map[string]any)
	top := make(map[string]any, len(body))
	for k, v := range body {
		if k != "connection" {
			top[k] = v
		}
	}
	if err := dec.Decode(top); err != nil {
		return nil, fmt.Errorf("data source %s: %w", name, err)
	}
	if conn != nil {
		cdec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &ds.Connection,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, err
		}
		if err := cdec.Decode(conn); err != nil {
			return nil, fmt.Errorf("data source %s connection: %w", name, err)
		}
	}
	ds.Type = strings.ToLower(ds.Type)
	if ds.ConnectionID == "" && ds.Type == "" && ds.Connection.Type == "" {
		return nil, fmt.Errorf("data source %s needs a type or a connection_id", name)
	}
	return ds, nil
}

func expandStrings(m map[string]any) {
	for k, v := range m {
		switch t := v.(type) {
		case string:
			m[k] = connections.ExpandEnv(t)
		case map[string]any:
			expandStrings(t)
		}
	}
}

// WarehouseResolver resolves connection ids to warehouse settings.
type WarehouseResolver interface {
	Warehouse(id string) (core.AdapterConfig, error)
}

// AdapterConfig resolves the data source to adapter settings. Relative
// DuckDB paths are taken relative to baseDir.
func (ds *DataSource) AdapterConfig(conns WarehouseResolver, baseDir string) (core.AdapterConfig, error) {
	var cfg core.AdapterConfig
	if ds.ConnectionID != "" {
		if conns == nil {
			return cfg, errors.New("no connections available to resolve connection_id " + ds.ConnectionID)
		}
		resolved, err := conns.Warehouse(ds.ConnectionID)
		if err != nil {
			return cfg, fmt.Errorf("data source %s: %w", ds.Name, err)
		}
		cfg = resolved
	}

	inline := ds.Connection.AdapterConfig()
	if ds.Type != "" {
		inline.Type = ds.Type
	}
	overlay(&cfg, inline)
	if ds.Schema != "" {
		cfg.Schema = ds.Schema
	}
	if cfg.Type == "" {
		return cfg, fmt.Errorf("data source %s: no warehouse type", ds.Name)
	}
	if cfg.Type == "duckdb" {
		if cfg.Path == "" && cfg.Database != "" {
			cfg.Path, cfg.Database = cfg.Database, ""
		}
		if cfg.Path != "" && cfg.Path != ":memory:" && !filepath.IsAbs(cfg.Path) && baseDir != "" {
			cfg.Path = filepath.Join(baseDir, cfg.Path)
		}
	}
	return cfg, nil
}

func overlay(dst *core.AdapterConfig, src core.AdapterConfig) {
	if src.Type != "" {
		dst.Type = src.Type
	}
	if src.Path != "" {
		dst.Path = src.Path
	}
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.Database != "" {
		dst.Database = src.Database
	}
	if src.Username != "" {
		dst.Username = src.Username
	}
	if src.Password != "" {
		dst.Password = src.Password
	}
	if src.Schema != "" {
		dst.Schema = src.Schema
	}
	if len(src.Options) > 0 {
		dst.Options = src.Options
	}
	if len(src.Params) > 0 {
		dst.Params = src.Params
	}
}
