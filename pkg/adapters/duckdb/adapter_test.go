package duckdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) *Adapter {
	t.Helper()
	adp := New(nil)
	require.NoError(t, adp.Connect(context.Background(), core.AdapterConfig{Path: ":memory:"}))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func countRows(t *testing.T, adp *Adapter, table string) int {
	t.Helper()
	rows, err := adp.Query(context.Background(), "SELECT COUNT(*) FROM "+table)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var count int
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&count))
	return count
}

func TestAdapter_Connect(t *testing.T) {
	tests := []struct {
		name      string
		setupPath func(t *testing.T) string
		verify    func(t *testing.T, path string)
	}{
		{
			name:      "in-memory",
			setupPath: func(_ *testing.T) string { return ":memory:" },
		},
		{
			name:      "empty path defaults to in-memory",
			setupPath: func(_ *testing.T) string { return "" },
		},
		{
			name: "file-based",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "warehouse.duckdb")
			},
			verify: func(t *testing.T, path string) {
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "database file was not created")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adp := New(nil)

			dbPath := tt.setupPath(t)
			require.NoError(t, adp.Connect(ctx, core.AdapterConfig{Path: dbPath}))
			defer func() { _ = adp.Close() }()

			assert.Equal(t, "duckdb", adp.DialectName())
			if tt.verify != nil {
				tt.verify(t, dbPath)
			}
		})
	}
}

func TestAdapter_NotConnected(t *testing.T) {
	tests := []struct {
		name      string
		operation func(ctx context.Context, adp *Adapter) error
	}{
		{
			name: "exec without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				return adp.Exec(ctx, "SELECT 1")
			},
		},
		{
			name: "query without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				_, err := adp.Query(ctx, "SELECT 1")
				return err
			},
		},
		{
			name: "load without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				_, err := adp.LoadFile(ctx, core.TableRef{Name: "t"}, "x.csv", core.FileTypeCSV)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.operation(context.Background(), New(nil))
			assert.Error(t, err, "expected error when operating without connection")
		})
	}
}

func TestAdapter_Close(t *testing.T) {
	tests := []struct {
		name    string
		connect bool
	}{
		{"close without connect", false},
		{"close after connect", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adp := New(nil)
			if tt.connect {
				require.NoError(t, adp.Connect(context.Background(), core.AdapterConfig{Path: ":memory:"}))
			}
			assert.NoError(t, adp.Close())
		})
	}
}

func TestAdapter_Schemas(t *testing.T) {
	ctx := context.Background()
	adp := connect(t)

	exists, err := adp.SchemaExists(ctx, "retail")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, adp.CreateSchema(ctx, "retail"))
	require.NoError(t, adp.CreateSchema(ctx, "retail"), "creating an existing schema is a no-op")

	exists, err = adp.SchemaExists(ctx, "retail")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAdapter_GetTableMetadata(t *testing.T) {
	tests := []struct {
		name        string
		setupTable  func(t *testing.T, ctx context.Context, adp *Adapter)
		tableName   string
		wantErr     bool
		wantColumns int
		wantRows    int64
		checkFunc   func(t *testing.T, meta *core.TableMetadata)
	}{
		{
			name: "existing table with data",
			setupTable: func(t *testing.T, ctx context.Context, adp *Adapter) {
				require.NoError(t, adp.Exec(ctx, `
					CREATE TABLE invoices (
						invoice_no VARCHAR NOT NULL,
						quantity INTEGER,
						unit_price DOUBLE,
						cancelled BOOLEAN
					)
				`))
				require.NoError(t, adp.Exec(ctx, `
					INSERT INTO invoices VALUES
						('536365', 6, 2.55, false),
						('C536379', -1, 27.50, true)
				`))
			},
			tableName:   "invoices",
			wantColumns: 4,
			wantRows:    2,
			checkFunc: func(t *testing.T, meta *core.TableMetadata) {
				assert.Equal(t, "invoices", meta.Name)
				assert.Equal(t, "main", meta.Schema)

				expected := map[string]string{
					"invoice_no": "VARCHAR",
					"quantity":   "INTEGER",
					"unit_price": "DOUBLE",
					"cancelled":  "BOOLEAN",
				}
				for _, col := range meta.Columns {
					want, ok := expected[col.Name]
					if !ok {
						t.Errorf("unexpected column: %s", col.Name)
						continue
					}
					assert.Equal(t, want, col.Type, "column %s", col.Name)
				}
			},
		},
		{
			name:      "nonexistent table",
			tableName: "nonexistent_table",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adp := connect(t)

			if tt.setupTable != nil {
				tt.setupTable(t, ctx, adp)
			}

			meta, err := adp.GetTableMetadata(ctx, tt.tableName)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Len(t, meta.Columns, tt.wantColumns)
			assert.Equal(t, tt.wantRows, meta.RowCount)
			if tt.checkFunc != nil {
				tt.checkFunc(t, meta)
			}
		})
	}
}

func TestAdapter_LoadFile(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		fileType core.FileType
		want     int64
	}{
		{
			name:     "csv with header",
			file:     "online_Retail.csv",
			content:  "InvoiceNo,StockCode,Quantity\n536365,85123A,6\n536366,22633,6\n536367,84879,32\n",
			fileType: core.FileTypeCSV,
			want:     3,
		},
		{
			name:     "newline delimited json",
			file:     "events.ndjson",
			content:  "{\"id\": 1, \"kind\": \"a\"}\n{\"id\": 2, \"kind\": \"b\"}\n",
			fileType: core.FileTypeNDJSON,
			want:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adp := connect(t)
			require.NoError(t, adp.CreateSchema(ctx, "retail"))

			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			table := core.TableRef{Schema: "retail", Name: "raw_invoices"}
			n, err := adp.LoadFile(ctx, table, path, tt.fileType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)

			// Reloading replaces rather than appends.
			n, err = adp.LoadFile(ctx, table, path, tt.fileType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Equal(t, int(tt.want), countRows(t, adp, "retail.raw_invoices"))
		})
	}
}

func TestAdapter_LoadFile_InvalidTable(t *testing.T) {
	adp := connect(t)
	_, err := adp.LoadFile(context.Background(), core.TableRef{Name: "bad name"}, "x.csv", core.FileTypeCSV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")
}

func TestAdapter_LoadObject(t *testing.T) {
	ctx := context.Background()
	adp := connect(t)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "datalake", "raw"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "datalake", "raw", "online_Retail.csv"),
		[]byte("InvoiceNo,Quantity\n536365,6\n536366,2\n"), 0o600))

	conn := &core.Connection{ID: "local_lake", Type: "local", Extra: map[string]any{"root": root}}

	t.Run("file scheme reads from the connection root", func(t *testing.T) {
		uri := core.ObjectURI{Scheme: core.SchemeFile, Bucket: "datalake", Key: "raw/online_Retail.csv"}
		n, err := adp.LoadObject(ctx, core.TableRef{Name: "raw_invoices"}, uri, core.FileTypeCSV, conn)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("unknown scheme is not supported natively", func(t *testing.T) {
		uri := core.ObjectURI{Scheme: "az", Bucket: "datalake", Key: "raw/online_Retail.csv"}
		_, err := adp.LoadObject(ctx, core.TableRef{Name: "raw_invoices"}, uri, core.FileTypeCSV, conn)
		assert.True(t, errors.Is(err, core.ErrNativeUnsupported))
	})
}

func TestConnect_WithParams(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)

	cfg := core.AdapterConfig{
		Path: ":memory:",
		Params: map[string]any{
			"extensions": []any{"json"},
			"settings":   map[string]any{"threads": "2"},
		},
	}
	require.NoError(t, adp.Connect(ctx, cfg))
	defer func() { _ = adp.Close() }()

	rows, err := adp.Query(ctx, "SELECT extension_name FROM duckdb_extensions() WHERE loaded = true AND extension_name = 'json'")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	require.True(t, rows.Next(), "json extension should be loaded")

	var extName string
	require.NoError(t, rows.Scan(&extName))
	assert.Equal(t, "json", extName)
}

func TestConnect_InvalidParams(t *testing.T) {
	adp := New(nil)
	err := adp.Connect(context.Background(), core.AdapterConfig{
		Path:   ":memory:",
		Params: map[string]any{"extentions": []any{"json"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duckdb params")
}

func TestSecretForConnection(t *testing.T) {
	tests := []struct {
		name     string
		conn     *core.Connection
		uri      core.ObjectURI
		wantName string
		want     SecretConfig
	}{
		{
			name:     "gcs hmac credentials",
			conn:     &core.Connection{ID: "gcp", Type: "gcs", Login: "GOOG1EXAMPLE", Password: "s3cr3t"},
			uri:      core.ObjectURI{Scheme: core.SchemeGCS, Bucket: "datapineline_storage", Key: "raw/online_Retail.csv"},
			wantName: "leapflow_gcp",
			want: SecretConfig{
				Type:     "gcs",
				Provider: "config",
				Scope:    "gs://datapineline_storage",
				KeyID:    "GOOG1EXAMPLE",
				Secret:   "s3cr3t",
			},
		},
		{
			name: "minio endpoint uses path style",
			conn: &core.Connection{
				ID: "minio-local", Type: "minio", Host: "localhost", Port: 9000,
				Login: "minioadmin", Password: "minioadmin",
				Extra: map[string]any{"secure": false, "region": "us-east-1"},
			},
			uri:      core.ObjectURI{Scheme: core.SchemeS3, Bucket: "lake", Key: "a.csv"},
			wantName: "leapflow_minio_local",
			want: SecretConfig{
				Type:     "s3",
				Provider: "config",
				Region:   "us-east-1",
				Scope:    "s3://lake",
				KeyID:    "minioadmin",
				Secret:   "minioadmin",
				Endpoint: "localhost:9000",
				URLStyle: "path",
				UseSSL:   boolPtr(false),
			},
		},
		{
			name:     "no credentials falls back to credential chain",
			conn:     &core.Connection{ID: "aws"},
			uri:      core.ObjectURI{Scheme: core.SchemeS3, Bucket: "lake", Key: "a.csv"},
			wantName: "leapflow_aws",
			want:     SecretConfig{Type: "s3", Provider: "credential_chain", Scope: "s3://lake"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, got := secretForConnection(tt.conn, tt.uri)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReaderExpr(t *testing.T) {
	tests := []struct {
		fileType core.FileType
		want     string
		wantErr  bool
	}{
		{core.FileTypeCSV, "read_csv_auto('/data/it''s.csv', header=true)", false},
		{core.FileTypeJSON, "read_json_auto('/data/it''s.csv')", false},
		{core.FileTypeParquet, "read_parquet('/data/it''s.csv')", false},
		{core.FileType("xlsx"), "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.fileType), func(t *testing.T) {
			got, err := readerExpr("/data/it's.csv", tt.fileType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
