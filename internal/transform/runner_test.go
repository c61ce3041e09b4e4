package transform

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leapstack-labs/leapflow/internal/project"
	"github.com/leapstack-labs/leapflow/internal/testutil"
	"github.com/leapstack-labs/leapflow/pkg/adapters/duckdb"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadGraph(t *testing.T, threads string, models map[string]string) *project.Graph {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"project.yml": "name: retail\nmodels:\n  models/report:\n    materialized: view\n",
		"profiles.yml": `retail:
  target: dev
  outputs:
    dev:
      type: duckdb
      schema: retail
      threads: ` + threads + "\n",
	}
	for k, v := range models {
		files[k] = v
	}
	testutil.WriteFiles(t, dir, files)

	p, err := project.Load(dir)
	require.NoError(t, err)
	target, err := project.LoadProfile(core.ProfileConfig{ProfileName: "retail", ProfilesPath: filepath.Join(dir, "profiles.yml")}, dir)
	require.NoError(t, err)
	g, err := project.Discover(p, target)
	require.NoError(t, err)
	return g
}

func connectDuckDB(t *testing.T) core.Adapter {
	t.Helper()
	ctx := context.Background()
	adp := duckdb.New(testutil.NewTestLogger(t))
	require.NoError(t, adp.Connect(ctx, core.AdapterConfig{Type: "duckdb"}))
	t.Cleanup(func() { _ = adp.Close() })

	require.NoError(t, adp.CreateSchema(ctx, "retail"))
	require.NoError(t, adp.Exec(ctx, `CREATE TABLE retail.raw_invoices AS
		SELECT * FROM (VALUES
			('536365', '85123A', 6, 2.55, 17850, 'United Kingdom'),
			('536366', '22633', 6, 1.85, 17850, 'United Kingdom'),
			('536367', '84879', 32, 1.69, 13047, 'France'),
			('536368', '22960', 6, 4.25, NULL, 'France')
		) t(InvoiceNo, StockCode, Quantity, UnitPrice, CustomerID, Country)`))
	return adp
}

var retailModels = map[string]string{
	"models/transform/dim_customer.sql": `SELECT DISTINCT CustomerID AS customer_id, Country AS country
FROM {{ source('retail', 'raw_invoices') }}
WHERE CustomerID IS NOT NULL`,
	"models/transform/fct_invoices.sql": `SELECT InvoiceNo AS invoice_id, CustomerID AS customer_id, Quantity * UnitPrice AS total
FROM {{ source('retail', 'raw_invoices') }}
WHERE CustomerID IS NOT NULL`,
	"models/report/report_customer_invoices.sql": `SELECT c.country, SUM(f.total) AS total
FROM {{ ref('fct_invoices') }} f JOIN {{ ref('dim_customer') }} c USING (customer_id)
GROUP BY c.country`,
}

func TestRunner_Run(t *testing.T) {
	ctx := context.Background()
	g := loadGraph(t, "1", retailModels)
	adp := connectDuckDB(t)
	r := NewRunner(g, adp, testutil.NewTestLogger(t))
	assert.Equal(t, 1, r.Threads())

	selected, err := g.Select(nil, nil)
	require.NoError(t, err)
	results, err := r.Run(ctx, selected)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byModel := make(map[string]*Result)
	for _, res := range results {
		byModel[res.Model] = res
	}
	assert.Equal(t, int64(2), byModel["dim_customer"].Rows)
	assert.Equal(t, int64(3), byModel["fct_invoices"].Rows)
	assert.Equal(t, "retail.report_customer_invoices", byModel["report_customer_invoices"].Relation)
	assert.Equal(t, core.MaterializationView, byModel["report_customer_invoices"].Materialized)
	assert.Equal(t, "report_customer_invoices", results[2].Model, "report runs after its parents")

	rows, err := adp.Query(ctx, "SELECT COUNT(*) FROM retail.report_customer_invoices")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	var n int
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&n))
	assert.Equal(t, 2, n)
}

func TestRunner_RunIsRepeatable(t *testing.T) {
	ctx := context.Background()
	g := loadGraph(t, "1", retailModels)
	adp := connectDuckDB(t)
	r := NewRunner(g, adp, nil)

	for i := 0; i < 2; i++ {
		res, err := r.RunModel(ctx, "dim_customer")
		require.NoError(t, err, "run %d", i)
		assert.Equal(t, int64(2), res.Rows)
	}
}

func TestRunner_FailureStopsDownstream(t *testing.T) {
	ctx := context.Background()
	models := map[string]string{
		"models/a.sql": "SELECT * FROM retail.does_not_exist",
		"models/b.sql": "SELECT * FROM {{ ref('a') }}",
	}
	g := loadGraph(t, "1", models)
	adp := connectDuckDB(t)

	selected, err := g.Select(nil, nil)
	require.NoError(t, err)
	results, err := NewRunner(g, adp, nil).Run(ctx, selected)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model a")
	assert.Empty(t, results)
}

func TestRunner_Compile(t *testing.T) {
	g := loadGraph(t, "1", retailModels)
	r := NewRunner(g, nil, nil)

	m, ok := g.Model("report_customer_invoices")
	require.True(t, ok)
	sql, err := r.Compile(m)
	require.NoError(t, err)
	assert.Contains(t, sql, "FROM retail.fct_invoices f JOIN retail.dim_customer c")

	_, err = r.RunModel(context.Background(), "missing")
	assert.ErrorContains(t, err, `model "missing" not found`)
}

func TestStatements(t *testing.T) {
	tests := []struct {
		dialect, materialized string
		want                  []string
	}{
		{"duckdb", "table", []string{"CREATE OR REPLACE TABLE s.m AS SELECT 1"}},
		{"duckdb", "view", []string{"CREATE OR REPLACE VIEW s.m AS SELECT 1"}},
		{"postgres", "table", []string{"DROP TABLE IF EXISTS s.m CASCADE", "CREATE TABLE s.m AS SELECT 1"}},
		{"postgres", "view", []string{"DROP VIEW IF EXISTS s.m CASCADE", "CREATE VIEW s.m AS SELECT 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.dialect+"/"+tt.materialized, func(t *testing.T) {
			assert.Equal(t, tt.want, statements(tt.dialect, tt.materialized, "s.m", "SELECT 1"))
		})
	}
}

// recordingAdapter tracks how many Exec calls overlap.
type recordingAdapter struct {
	core.Adapter
	active, peak atomic.Int32
	mu           sync.Mutex
	stmts        []string
	schemas      atomic.Int32
}

func (a *recordingAdapter) DialectName() string { return "duckdb" }

func (a *recordingAdapter) CreateSchema(context.Context, string) error {
	a.schemas.Add(1)
	return nil
}

func (a *recordingAdapter) Exec(_ context.Context, sql string) error {
	n := a.active.Add(1)
	defer a.active.Add(-1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	a.mu.Lock()
	a.stmts = append(a.stmts, sql)
	a.mu.Unlock()
	if strings.Contains(sql, "broken") {
		return errors.New("boom")
	}
	return nil
}

func TestRunner_ThreadsBoundConcurrency(t *testing.T) {
	models := map[string]string{}
	for _, name := range []string{"r1", "r2", "r3", "r4", "r5"} {
		models["models/report/"+name+".sql"] = "SELECT 1"
	}
	g := loadGraph(t, "2", models)
	adp := &recordingAdapter{}
	r := NewRunner(g, adp, nil)

	selected, err := g.Select(nil, nil)
	require.NoError(t, err)
	results, err := r.Run(context.Background(), selected)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.Equal(t, int32(2), adp.peak.Load())
	assert.Equal(t, int32(1), adp.schemas.Load(), "schema is created once")
}
