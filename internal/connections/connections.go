// Package connections resolves connection ids to credentials, object stores
// and warehouse adapters.
package connections

import (
	"fmt"
	"maps"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapflow/pkg/adapter"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// EnvPrefix is the prefix of connection environment variables:
// LEAPFLOW_CONN_<ID>=<type>://[login:password@]host[:port][/path][?extra=value].
const EnvPrefix = "LEAPFLOW_CONN_"

// UnknownConnectionError is returned when a connection id is not defined.
type UnknownConnectionError struct {
	ID        string
	Available []string
}

func (e *UnknownConnectionError) Error() string {
	return fmt.Sprintf("unknown connection %q\nAvailable connections: %v\nHint: define it under connections in leapflow.yaml or set %s%s",
		e.ID, e.Available, EnvPrefix, strings.ToUpper(e.ID))
}

// Registry holds the connections known to a run.
type Registry struct {
	conns map[string]*core.Connection
}

// New builds a registry from configured connections, keyed by id.
// ${VAR} references in credentials are expanded from the environment.
func New(conns map[string]core.Connection) *Registry {
	r := &Registry{conns: make(map[string]*core.Connection, len(conns))}
	for id, c := range conns {
		c := c
		if c.ID == "" {
			c.ID = id
		}
		expandConnection(&c)
		r.conns[id] = &c
	}
	return r
}

// LoadEnv adds or overrides connections from LEAPFLOW_CONN_<ID> entries.
// The id is the lower-cased suffix. A warehouse block from the file is kept.
func (r *Registry) LoadEnv(environ []string) error {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) || value == "" {
			continue
		}
		id := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		conn, err := ParseURI(id, value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if existing, ok := r.conns[id]; ok && conn.Warehouse == nil {
			conn.Warehouse = existing.Warehouse
		}
		r.conns[id] = conn
	}
	return nil
}

// Get returns a connection by id.
func (r *Registry) Get(id string) (*core.Connection, error) {
	if c, ok := r.conns[id]; ok {
		return c, nil
	}
	return nil, &UnknownConnectionError{ID: id, Available: r.IDs()}
}

// IDs returns the defined connection ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Warehouse resolves the warehouse behind a connection: either its
// warehouse block or, for adapter-typed connections, the connection itself.
func (r *Registry) Warehouse(id string) (core.AdapterConfig, error) {
	conn, err := r.Get(id)
	if err != nil {
		return core.AdapterConfig{}, err
	}
	return WarehouseFor(conn)
}

// WarehouseFor derives adapter settings from a connection.
func WarehouseFor(conn *core.Connection) (core.AdapterConfig, error) {
	if conn.Warehouse != nil {
		return conn.Warehouse.AdapterConfig(), nil
	}
	typ := strings.ToLower(conn.Type)
	if !adapter.IsRegistered(typ) {
		return core.AdapterConfig{}, fmt.Errorf("connection %s (type %s) has no warehouse; add a warehouse block or use one of %v",
			conn.ID, conn.Type, adapter.ListAdapters())
	}
	cfg := core.AdapterConfig{
		Type:     typ,
		Path:     conn.ExtraString("path"),
		Host:     conn.Host,
		Port:     conn.Port,
		Database: conn.ExtraString("database"),
		Username: conn.Login,
		Password: conn.Password,
		Schema:   conn.Schema,
	}
	if mode := conn.ExtraString("sslmode"); mode != "" {
		cfg.Options = map[string]string{"sslmode": mode}
	}
	return cfg, nil
}

// ParseURI parses a connection URI. The scheme is the connection type.
// For file-backed types (local, file, duckdb) the URL path is the root or
// database path; otherwise it names the database.
func ParseURI(id, raw string) (*core.Connection, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid connection URI: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("invalid connection URI: missing type scheme")
	}

	conn := &core.Connection{ID: id, Type: u.Scheme, Host: u.Hostname(), Extra: map[string]any{}}
	if p := u.Port(); p != "" {
		conn.Port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid connection URI port %q", p)
		}
	}
	if u.User != nil {
		conn.Login = u.User.Username()
		conn.Password, _ = u.User.Password()
	}
	for k, v := range u.Query() {
		if len(v) == 0 {
			continue
		}
		if k == "schema" {
			conn.Schema = v[0]
			continue
		}
		conn.Extra[k] = v[0]
	}

	switch conn.Type {
	case "local", "file":
		conn.Extra["root"] = joinHostPath(conn.Host, u.Path)
		conn.Host = ""
	case "duckdb":
		conn.Extra["path"] = joinHostPath(conn.Host, u.Path)
		conn.Host = ""
	default:
		if db := strings.TrimPrefix(u.Path, "/"); db != "" {
			conn.Extra["database"] = db
		}
	}
	if len(conn.Extra) == 0 {
		conn.Extra = nil
	}
	return conn, nil
}

// joinHostPath rebuilds a path from URIs like local://./lake or local:///abs.
func joinHostPath(host, path string) string {
	if host == "" {
		return path
	}
	return host + path
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv expands ${VAR} references. Unset variables are left as-is.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// expandConnection rewrites c in place. Extra and Warehouse are cloned
// first so the caller's configuration keeps its ${VAR} references.
func expandConnection(c *core.Connection) {
	c.Host = ExpandEnv(c.Host)
	c.Login = ExpandEnv(c.Login)
	c.Password = ExpandEnv(c.Password)
	if c.Extra != nil {
		extra := make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			if s, ok := v.(string); ok {
				v = ExpandEnv(s)
			}
			extra[k] = v
		}
		c.Extra = extra
	}
	if c.Warehouse != nil {
		w := *c.Warehouse
		w.Options = maps.Clone(w.Options)
		w.Params = maps.Clone(w.Params)
		c.Warehouse = &w
		w.Path = ExpandEnv(w.Path)
		w.Host = ExpandEnv(w.Host)
		w.User = ExpandEnv(w.User)
		w.Password = ExpandEnv(w.Password)
		w.Database = ExpandEnv(w.Database)
	}
}
