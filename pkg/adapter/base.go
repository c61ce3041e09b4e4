package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Placeholder formats the n-th (1-based) bind parameter for a dialect.
type Placeholder func(n int) string

// QuestionPlaceholder renders ? placeholders (DuckDB, SQLite).
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder renders $N placeholders (PostgreSQL).
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close, Exec, Query and schema management implementations.
type BaseSQLAdapter struct {
	DB            *sql.DB
	Cfg           core.AdapterConfig
	Logger        *slog.Logger
	DefaultSchema string
	Placeholder   Placeholder
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if _, err := b.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a SQL statement that returns rows.
func (b *BaseSQLAdapter) Query(ctx context.Context, sqlStr string) (*core.Rows, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &core.Rows{Rows: rows}, nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// CreateSchema runs CREATE SCHEMA IF NOT EXISTS.
func (b *BaseSQLAdapter) CreateSchema(ctx context.Context, schema string) error {
	if !core.ValidIdentifier(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	return b.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
}

// SchemaExists checks information_schema.schemata for the schema.
func (b *BaseSQLAdapter) SchemaExists(ctx context.Context, schema string) (bool, error) {
	if b.DB == nil {
		return false, fmt.Errorf("database connection not established")
	}
	//nolint:gosec // placeholder comes from the adapter, not user input
	query := fmt.Sprintf(`SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = %s`, b.placeholder(1))
	var n int
	if err := b.DB.QueryRowContext(ctx, query, schema).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query schemata: %w", err)
	}
	return n > 0, nil
}

// CountRows returns SELECT COUNT(*) for a table.
func (b *BaseSQLAdapter) CountRows(ctx context.Context, table string) (int64, error) {
	if b.DB == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	var n int64
	//nolint:gosec // table names are validated by callers
	if err := b.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return n, nil
}

// ParseQualifiedName splits a table reference into schema and name.
// Uses defaultSchema if not specified.
func ParseQualifiedName(table, defaultSchema string) (schema, name string) {
	if parts := strings.Split(table, "."); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return defaultSchema, table
}

// GetTableMetadata reads column metadata from information_schema.columns.
func (b *BaseSQLAdapter) GetTableMetadata(ctx context.Context, table string) (*core.TableMetadata, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	schema, tableName := ParseQualifiedName(table, b.DefaultSchema)

	//nolint:gosec // placeholders come from the adapter
	query := fmt.Sprintf(`
		SELECT
			column_name,
			data_type,
			is_nullable,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position
	`, b.placeholder(1), b.placeholder(2))

	rows, err := b.DB.QueryContext(ctx, query, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.Column
	for rows.Next() {
		var col core.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	rowCount, err := b.CountRows(ctx, schema+"."+tableName)
	if err != nil {
		rowCount = 0
	}

	return &core.TableMetadata{
		Schema:   schema,
		Name:     tableName,
		Columns:  columns,
		RowCount: rowCount,
	}, nil
}

func (b *BaseSQLAdapter) placeholder(n int) string {
	if b.Placeholder == nil {
		return QuestionPlaceholder(n)
	}
	return b.Placeholder(n)
}
