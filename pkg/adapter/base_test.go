package adapter

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockBase(t *testing.T, placeholder Placeholder) (*BaseSQLAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &BaseSQLAdapter{DB: db, DefaultSchema: "main", Placeholder: placeholder}, mock
}

func TestBaseSQLAdapter_Close(t *testing.T) {
	tests := []struct {
		name    string
		setupDB bool
	}{
		{name: "close with nil DB", setupDB: false},
		{name: "close with open DB", setupDB: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &BaseSQLAdapter{}
			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				mock.ExpectClose()
				base.DB = db
			}
			assert.NoError(t, base.Close())
		})
	}
}

func TestBaseSQLAdapter_Exec(t *testing.T) {
	tests := []struct {
		name      string
		setupDB   bool
		setupMock func(mock sqlmock.Sqlmock)
		sql       string
		errMsg    string
	}{
		{
			name:    "exec without connection",
			setupDB: false,
			sql:     "SELECT 1",
			errMsg:  "database connection not established",
		},
		{
			name:    "exec success",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("CREATE TABLE invoices").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			sql: "CREATE TABLE invoices (id INT)",
		},
		{
			name:    "exec with error",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INVALID SQL").WillReturnError(assert.AnError)
			},
			sql:    "INVALID SQL",
			errMsg: "failed to execute SQL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &BaseSQLAdapter{}
			var mock sqlmock.Sqlmock
			if tt.setupDB {
				base, mock = newMockBase(t, nil)
				tt.setupMock(mock)
			}

			err := base.Exec(context.Background(), tt.sql)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
			if mock != nil {
				assert.NoError(t, mock.ExpectationsWereMet())
			}
		})
	}
}

func TestBaseSQLAdapter_CreateSchema(t *testing.T) {
	t.Run("valid name", func(t *testing.T) {
		base, mock := newMockBase(t, nil)
		mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS retail`).WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, base.CreateSchema(context.Background(), "retail"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid name is rejected before reaching the database", func(t *testing.T) {
		base, mock := newMockBase(t, nil)

		err := base.CreateSchema(context.Background(), "retail; DROP TABLE x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid schema name")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBaseSQLAdapter_SchemaExists(t *testing.T) {
	tests := []struct {
		name        string
		placeholder Placeholder
		pattern     string
		count       int
		want        bool
	}{
		{name: "question placeholder, present", placeholder: QuestionPlaceholder, pattern: `schema_name = \?`, count: 1, want: true},
		{name: "dollar placeholder, absent", placeholder: DollarPlaceholder, pattern: `schema_name = \$1`, count: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, mock := newMockBase(t, tt.placeholder)
			mock.ExpectQuery(tt.pattern).
				WithArgs("retail").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.count))

			got, err := base.SchemaExists(context.Background(), "retail")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBaseSQLAdapter_GetTableMetadata(t *testing.T) {
	base, mock := newMockBase(t, QuestionPlaceholder)

	mock.ExpectQuery(`information_schema\.columns`).
		WithArgs("retail", "raw_invoices").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}).
			AddRow("InvoiceNo", "VARCHAR", "NO", 1).
			AddRow("Quantity", "BIGINT", "YES", 2))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM retail\.raw_invoices`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	meta, err := base.GetTableMetadata(context.Background(), "retail.raw_invoices")
	require.NoError(t, err)

	assert.Equal(t, "retail", meta.Schema)
	assert.Equal(t, "raw_invoices", meta.Name)
	assert.Equal(t, int64(42), meta.RowCount)
	require.Len(t, meta.Columns, 2)
	assert.False(t, meta.Columns[0].Nullable)
	assert.True(t, meta.Columns[1].Nullable)

	col, ok := meta.Column("quantity")
	assert.True(t, ok)
	assert.Equal(t, "BIGINT", col.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseSQLAdapter_GetTableMetadata_NotFound(t *testing.T) {
	base, mock := newMockBase(t, QuestionPlaceholder)
	mock.ExpectQuery(`information_schema\.columns`).
		WithArgs("main", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}))

	_, err := base.GetTableMetadata(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table missing not found")
}

func TestParseQualifiedName(t *testing.T) {
	tests := []struct {
		in         string
		wantSchema string
		wantName   string
	}{
		{"retail.raw_invoices", "retail", "raw_invoices"},
		{"raw_invoices", "main", "raw_invoices"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			schema, name := ParseQualifiedName(tt.in, "main")
			assert.Equal(t, tt.wantSchema, schema)
			assert.Equal(t, tt.wantName, name)
		})
	}
}
