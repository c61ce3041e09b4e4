package core

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
)

// ErrNativeUnsupported is returned by adapters that cannot read an object
// storage URI directly. Callers fall back to downloading the object first.
var ErrNativeUnsupported = errors.New("native object storage loading not supported by adapter")

// Adapter defines the interface that all warehouse adapters must implement.
type Adapter interface {
	// Connect establishes a connection to the database.
	Connect(ctx context.Context, cfg AdapterConfig) error

	// Close closes the database connection.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// GetTableMetadata retrieves metadata for a table.
	GetTableMetadata(ctx context.Context, table string) (*TableMetadata, error)

	// CreateSchema idempotently creates a schema (dataset).
	CreateSchema(ctx context.Context, schema string) error

	// SchemaExists reports whether a schema is present.
	SchemaExists(ctx context.Context, schema string) (bool, error)

	// LoadFile replaces table with the contents of a local file.
	LoadFile(ctx context.Context, table TableRef, filePath string, fileType FileType) (int64, error)

	// LoadObject replaces table by reading an object storage URI directly.
	// Returns ErrNativeUnsupported when the adapter cannot do so.
	LoadObject(ctx context.Context, table TableRef, uri ObjectURI, fileType FileType, conn *Connection) (int64, error)

	// DialectName returns the SQL dialect name (duckdb, postgres).
	DialectName() string
}

// AdapterConfig holds configuration for connecting to a database.
type AdapterConfig struct {
	Type     string
	Path     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Schema   string
	Options  map[string]string
	Params   map[string]any
}

// Key identifies the physical database the config points at.
// Two configs with the same key share one connection pool.
func (c AdapterConfig) Key() string {
	path := c.Path
	if c.Type == "duckdb" && path == "" {
		path = ":memory:"
	}
	return strings.Join([]string{
		strings.ToLower(c.Type), path, c.Host, strconv.Itoa(c.Port), c.Database, c.Username,
	}, "|")
}

// InMemory reports whether the config names a process-local database.
func (c AdapterConfig) InMemory() bool {
	return c.Type == "duckdb" && (c.Path == "" || c.Path == ":memory:")
}

// Column represents a column in a database table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// TableMetadata holds metadata about a database table.
type TableMetadata struct {
	Schema   string
	Name     string
	Columns  []Column
	RowCount int64
}

// Column returns the named column, matching case-insensitively.
func (m *TableMetadata) Column(name string) (Column, bool) {
	for _, c := range m.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Rows wraps sql.Rows to provide a consistent interface.
type Rows struct {
	*sql.Rows
}
