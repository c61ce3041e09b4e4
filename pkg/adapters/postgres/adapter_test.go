package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/leapflow/pkg/adapter"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		config   core.AdapterConfig
		expected string
	}{
		{
			name: "basic connection",
			config: core.AdapterConfig{
				Host: "localhost", Port: 5432, Database: "retail", Username: "user", Password: "pass",
			},
			expected: "host=localhost port=5432 dbname=retail sslmode=disable user=user password=pass",
		},
		{
			name: "with custom sslmode",
			config: core.AdapterConfig{
				Host: "prod.example.com", Port: 5432, Database: "warehouse", Username: "admin",
				Options: map[string]string{"sslmode": "require"},
			},
			expected: "host=prod.example.com port=5432 dbname=warehouse sslmode=require user=admin",
		},
		{
			name:     "defaults",
			config:   core.AdapterConfig{Database: "retail"},
			expected: "host=localhost port=5432 dbname=retail sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildPostgresDSN(tt.config))
		})
	}
}

func TestSanitizeColumn(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"InvoiceNo", "invoiceno"},
		{"Unit Price", "unit_price"},
		{"customer-id", "customer_id"},
		{"1st_seen", "_1st_seen"},
		{"Order", `"order"`},
		{"user", `"user"`},
		{"", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeColumn(tt.input))
		})
	}
}

func TestNew(t *testing.T) {
	adp := New(nil)

	assert.Nil(t, adp.DB, "DB should be nil before Connect")
	assert.False(t, adp.IsConnected())
	assert.Equal(t, "postgres", adp.DialectName())
	assert.Equal(t, "public", adp.DefaultSchema)
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
			name: "get metadata without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				_, err := adp.GetTableMetadata(ctx, "raw_invoices")
				return err
			},
		},
		{
			name: "load file without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				_, err := adp.LoadFile(ctx, core.TableRef{Name: "raw_invoices"}, "/tmp/x.csv", core.FileTypeCSV)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.operation(context.Background(), New(nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not established")
		})
	}
}

func TestAdapter_LoadObjectUnsupported(t *testing.T) {
	uri, err := core.ParseObjectURI("gs://datapineline_storage/raw/online_Retail.csv")
	require.NoError(t, err)

	_, err = New(nil).LoadObject(context.Background(), core.TableRef{Name: "raw_invoices"}, uri, core.FileTypeCSV, nil)
	assert.True(t, errors.Is(err, core.ErrNativeUnsupported))
}

func TestAdapter_LoadFileRejectsUnsupportedType(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	adp := New(nil)
	adp.DB = db

	path := filepath.Join(t.TempDir(), "data.parquet")
	require.NoError(t, os.WriteFile(path, []byte("PAR1"), 0o600))

	_, err = adp.LoadFile(context.Background(), core.TableRef{Schema: "retail", Name: "raw_invoices"}, path, core.FileTypeParquet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot load parquet")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_ReplaceTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	adp := New(nil)
	adp.DB = db

	mock.ExpectExec(`DROP TABLE IF EXISTS retail\.raw_invoices`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE retail\.raw_invoices \(invoiceno TEXT, quantity TEXT\)`).WillReturnResult(sqlmock.NewResult(0, 0))

	table := core.TableRef{Schema: "retail", Name: "raw_invoices"}
	require.NoError(t, adp.replaceTable(context.Background(), table, []string{"invoiceno TEXT", "quantity TEXT"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Registry(t *testing.T) {
	assert.True(t, adapter.IsRegistered("postgres"))

	factory, ok := adapter.Get("postgres")
	require.True(t, ok)

	pg, ok := factory(nil).(*Adapter)
	require.True(t, ok, "factory should return *Adapter")
	assert.Equal(t, "postgres", pg.DialectName())
}
