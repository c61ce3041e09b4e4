package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapflow/pkg/adapter"
	"github.com/leapstack-labs/leapflow/pkg/core"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter implements core.Adapter for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
	params *Params
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{
			Logger:        logger,
			DefaultSchema: "main",
			Placeholder:   adapter.QuestionPlaceholder,
		},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "duckdb"
}

// Connect opens the database at cfg.Path.
// Use ":memory:" (or an empty path) for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg core.AdapterConfig) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create duckdb directory: %w", err)
		}
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	a.params = params

	if err := a.applyParams(ctx, params); err != nil {
		_ = db.Close()
		a.DB = nil
		return err
	}
	return nil
}

func (a *Adapter) applyParams(ctx context.Context, p *Params) error {
	for _, ext := range p.Extensions {
		if err := a.loadExtension(ctx, ext); err != nil {
			return err
		}
	}
	for _, key := range sortedSettings(p.Settings) {
		stmt := fmt.Sprintf("SET %s = %s", key, quote(p.Settings[key]))
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", key, err)
		}
	}
	for i, secret := range p.Secrets {
		if err := a.Exec(ctx, buildCreateSecretSQL(secret)); err != nil {
			return fmt.Errorf("failed to create secret #%d (%s): %w", i+1, secret.Type, err)
		}
	}
	return nil
}

func (a *Adapter) loadExtension(ctx context.Context, ext string) error {
	if !core.ValidIdentifier(ext) {
		return fmt.Errorf("invalid extension name %q", ext)
	}
	if err := a.Exec(ctx, "INSTALL "+ext); err != nil {
		return fmt.Errorf("failed to install extension %s: %w", ext, err)
	}
	if err := a.Exec(ctx, "LOAD "+ext); err != nil {
		return fmt.Errorf("failed to load extension %s: %w", ext, err)
	}
	return nil
}

// LoadFile replaces the table with the contents of a local file.
// DuckDB infers the column types from the file.
func (a *Adapter) LoadFile(ctx context.Context, table core.TableRef, filePath string, fileType core.FileType) (int64, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return a.load(ctx, table, absPath, fileType)
}

// LoadObject reads a gs://, s3:// or file:// object directly.
// Remote schemes go through the httpfs extension with a secret derived
// from the connection.
func (a *Adapter) LoadObject(ctx context.Context, table core.TableRef, uri core.ObjectURI, fileType core.FileType, conn *core.Connection) (int64, error) {
	switch uri.Scheme {
	case core.SchemeFile:
		root := conn.LocalRoot()
		if root == "" {
			return 0, fmt.Errorf("connection for %s has no local root", uri)
		}
		return a.LoadFile(ctx, table, filepath.Join(root, uri.Bucket, filepath.FromSlash(uri.Key)), fileType)
	case core.SchemeGCS, core.SchemeS3:
	default:
		return 0, core.ErrNativeUnsupported
	}

	if a.DB == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	if err := a.loadExtension(ctx, "httpfs"); err != nil {
		return 0, err
	}
	if conn != nil {
		name, secret := secretForConnection(conn, uri)
		if err := a.Exec(ctx, buildNamedSecretSQL(name, secret)); err != nil {
			return 0, fmt.Errorf("failed to create secret for connection %s: %w", conn.ID, err)
		}
	}
	return a.load(ctx, table, uri.String(), fileType)
}

func (a *Adapter) load(ctx context.Context, table core.TableRef, source string, fileType core.FileType) (int64, error) {
	if a.DB == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	if err := validateTable(table); err != nil {
		return 0, err
	}
	reader, err := readerExpr(source, fileType)
	if err != nil {
		return 0, err
	}

	a.Logger.Debug("loading file into table",
		slog.String("table", table.Qualified()),
		slog.String("source", source),
		slog.String("file_type", string(fileType)))

	//nolint:gosec // table identifiers are validated above
	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s", table.Qualified(), reader)
	if err := a.Exec(ctx, query); err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", fileType, err)
	}
	return a.CountRows(ctx, table.Qualified())
}

func readerExpr(source string, fileType core.FileType) (string, error) {
	switch fileType {
	case core.FileTypeCSV:
		return fmt.Sprintf("read_csv_auto(%s, header=true)", quote(source)), nil
	case core.FileTypeJSON:
		return fmt.Sprintf("read_json_auto(%s)", quote(source)), nil
	case core.FileTypeNDJSON:
		return fmt.Sprintf("read_json_auto(%s, format='newline_delimited')", quote(source)), nil
	case core.FileTypeParquet:
		return fmt.Sprintf("read_parquet(%s)", quote(source)), nil
	default:
		return "", fmt.Errorf("unsupported file type %q", fileType)
	}
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

// secretForConnection maps connection credentials to a scoped DuckDB secret.
func secretForConnection(conn *core.Connection, uri core.ObjectURI) (string, SecretConfig) {
	s := SecretConfig{
		Type:   "s3",
		Region: conn.ExtraString("region"),
		Scope:  fmt.Sprintf("%s://%s", uri.Scheme, uri.Bucket),
	}
	if uri.Scheme == core.SchemeGCS {
		s.Type = "gcs"
	}
	if conn.Login != "" || conn.Password != "" {
		s.Provider = "config"
		s.KeyID = conn.Login
		s.Secret = conn.Password
	} else {
		s.Provider = "credential_chain"
	}

	endpoint := conn.ExtraString("endpoint")
	if endpoint == "" && conn.Host != "" && uri.Scheme == core.SchemeS3 {
		endpoint = conn.Host
		if conn.Port != 0 {
			endpoint = fmt.Sprintf("%s:%d", conn.Host, conn.Port)
		}
	}
	if endpoint != "" {
		s.Endpoint = endpoint
		s.URLStyle = "path"
		useSSL := conn.ExtraBool("secure", true)
		s.UseSSL = &useSSL
	}

	name := "leapflow_" + strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, conn.ID)
	return name, s
}

var _ adapter.Adapter = (*Adapter)(nil)
