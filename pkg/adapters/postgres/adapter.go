package postgres

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/leapflow/pkg/adapter"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Adapter implements core.Adapter for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{
			Logger:        logger,
			DefaultSchema: "public",
			Placeholder:   adapter.DollarPlaceholder,
		},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "postgres"
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg core.AdapterConfig) error {
	dsn := buildPostgresDSN(cfg)

	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildPostgresDSN constructs a key=value PostgreSQL connection string.
func buildPostgresDSN(cfg core.AdapterConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", host, port, cfg.Database, sslmode)
	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	return dsn
}

// LoadFile replaces the table with a local file using COPY FROM STDIN.
// CSV columns are created as TEXT. NDJSON lands in a single JSONB column named data.
func (a *Adapter) LoadFile(ctx context.Context, table core.TableRef, filePath string, fileType core.FileType) (int64, error) {
	if a.DB == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	if err := validateTable(table); err != nil {
		return 0, err
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to get absolute path: %w", err)
	}
	file, err := os.Open(absPath) //nolint:gosec // path comes from pipeline configuration
	if err != nil {
		return 0, fmt.Errorf("failed to open %s file: %w", fileType, err)
	}
	defer func() { _ = file.Close() }()

	a.Logger.Debug("copying file into table",
		slog.String("table", table.Qualified()),
		slog.String("path", absPath),
		slog.String("file_type", string(fileType)))

	switch fileType {
	case core.FileTypeCSV:
		return a.loadCSV(ctx, table, file)
	case core.FileTypeNDJSON:
		return a.loadNDJSON(ctx, table, file)
	default:
		return 0, fmt.Errorf("postgres adapter cannot load %s files", fileType)
	}
}

// LoadObject is not supported; PostgreSQL cannot read object storage.
func (a *Adapter) LoadObject(context.Context, core.TableRef, core.ObjectURI, core.FileType, *core.Connection) (int64, error) {
	return 0, core.ErrNativeUnsupported
}

func (a *Adapter) loadCSV(ctx context.Context, table core.TableRef, file *os.File) (int64, error) {
	headers, err := csv.NewReader(file).Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make([]string, len(headers))
	for i, h := range headers {
		columns[i] = sanitizeColumn(h) + " TEXT"
	}
	if err := a.replaceTable(ctx, table, columns); err != nil {
		return 0, fmt.Errorf("failed to create table: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to reset file: %w", err)
	}

	var copied int64
	err = a.withConn(ctx, func(conn *pgx.Conn) error {
		copySQL := fmt.Sprintf("COPY %s FROM STDIN WITH (FORMAT csv, HEADER true)", table.Qualified())
		tag, err := conn.PgConn().CopyFrom(ctx, file, copySQL)
		copied = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to copy data: %w", err)
	}
	return copied, nil
}

func (a *Adapter) loadNDJSON(ctx context.Context, table core.TableRef, file *os.File) (int64, error) {
	var rows [][]any
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if !json.Valid([]byte(raw)) {
			return 0, fmt.Errorf("line %d is not valid JSON", line)
		}
		rows = append(rows, []any{raw})
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read NDJSON: %w", err)
	}

	if err := a.replaceTable(ctx, table, []string{"data JSONB"}); err != nil {
		return 0, fmt.Errorf("failed to create table: %w", err)
	}

	ident := pgx.Identifier{table.Name}
	if table.Schema != "" {
		ident = pgx.Identifier{table.Schema, table.Name}
	}
	var copied int64
	err := a.withConn(ctx, func(conn *pgx.Conn) error {
		n, err := conn.CopyFrom(ctx, ident, []string{"data"}, pgx.CopyFromRows(rows))
		copied = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to copy data: %w", err)
	}
	return copied, nil
}

// replaceTable drops and recreates the table with the given column definitions.
func (a *Adapter) replaceTable(ctx context.Context, table core.TableRef, columnDefs []string) error {
	if err := a.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table.Qualified())); err != nil {
		return err
	}
	return a.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table.Qualified(), strings.Join(columnDefs, ", ")))
}

// withConn runs fn on the raw pgx connection behind database/sql.
func (a *Adapter) withConn(ctx context.Context, fn func(conn *pgx.Conn) error) error {
	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		return fn(c.Conn())
	})
}

func validateTable(table core.TableRef) error {
	if !core.ValidIdentifier(table.Name) {
		return fmt.Errorf("invalid table name %q", table.Name)
	}
	if table.Schema != "" && !core.ValidIdentifier(table.Schema) {
		return fmt.Errorf("invalid schema name %q", table.Schema)
	}
	return nil
}

// sanitizeColumn folds a CSV header into an unquoted lower-case identifier,
// which is how PostgreSQL resolves unquoted names in model SQL.
func sanitizeColumn(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := b.String()
	if safe == "" || (safe[0] >= '0' && safe[0] <= '9') {
		safe = "_" + safe
	}
	if isReservedWord(safe) {
		return `"` + safe + `"`
	}
	return safe
}

func isReservedWord(name string) bool {
	switch strings.ToLower(name) {
	case "user", "order", "group", "table", "select", "from", "where", "index", "desc", "limit":
		return true
	}
	return false
}

var _ adapter.Adapter = (*Adapter)(nil)
