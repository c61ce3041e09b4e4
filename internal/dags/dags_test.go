package dags

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leapstack-labs/leapflow/internal/config"
	"github.com/leapstack-labs/leapflow/internal/connections"
	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/internal/testutil"
	_ "github.com/leapstack-labs/leapflow/pkg/adapters/duckdb"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var inProcess = core.RuntimeConfig{Type: core.RuntimeInProcess}

func retailResources(t *testing.T, dir string) (*pipeline.Resources, *config.Config) {
	t.Helper()
	cfg, err := config.LoadFromDir(dir)
	require.NoError(t, err)
	pool := connections.NewPool(testutil.NewTestLogger(t))
	t.Cleanup(func() { _ = pool.Close() })
	return &pipeline.Resources{
		Connections: connections.New(cfg.Connections),
		Adapters:    pool,
		BaseDir:     cfg.ProjectRoot,
	}, cfg
}

func TestRegistry(t *testing.T) {
	def, err := Get(RetailID)
	require.NoError(t, err)
	assert.Equal(t, RetailID, def.ID)
	assert.Len(t, def.Stages, 8)

	var ids []string
	for _, d := range List() {
		ids = append(ids, d.ID)
	}
	assert.Contains(t, ids, RetailID)

	_, err = Get("wholesale")
	var unknown *UnknownDAGError
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, unknown.Available, RetailID)
	assert.Contains(t, err.Error(), `unknown dag "wholesale"`)

	_, _, err = Build("wholesale", Options{})
	require.ErrorAs(t, err, &unknown)
}

func TestRegister_PanicsWithoutBuilder(t *testing.T) {
	assert.Panics(t, func() { Register(Definition{ID: "empty"}) })
}

func TestDecodeRetailConfig(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		check     func(t *testing.T, cfg *RetailConfig)
		wantErr   string
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg *RetailConfig) {
				assert.Equal(t, "include/dataset/online_Retail.csv", cfg.Upload.Src)
				assert.Equal(t, "datapineline_storage", cfg.Upload.Bucket)
				assert.Equal(t, "retail", cfg.Dataset.ID)
				assert.True(t, cfg.Dataset.ExistsOK)
				assert.Equal(t, "gs://datapineline_storage/raw/online_Retail.csv", cfg.Load.Path)
				assert.Equal(t, "raw_invoices", cfg.Load.Table)
				assert.Equal(t, []string{"path:models/transform"}, cfg.Transform.Select)
				assert.Equal(t, core.LoadModeDiscover, cfg.Report.LoadMode)
				assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), cfg.StartDate)
				assert.Equal(t, pipeline.DefaultRetryDelay, cfg.RetryDelay)
				assert.Zero(t, cfg.Retries)
			},
		},
		{
			name: "overrides",
			overrides: map[string]any{
				"retries":     "2",
				"retry_delay": "30s",
				"upload":      map[string]any{"bucket": "lake"},
				"transform":   map[string]any{"select": "path:models/transform,tag:fact"},
				"checks":      map[string]any{"runtime": map[string]any{"type": "inprocess"}},
			},
			check: func(t *testing.T, cfg *RetailConfig) {
				assert.Equal(t, 2, cfg.Retries)
				assert.Equal(t, 30*time.Second, cfg.RetryDelay)
				assert.Equal(t, "lake", cfg.Upload.Bucket)
				assert.Equal(t, "raw/online_Retail.csv", cfg.Upload.Dst)
				assert.Equal(t, []string{"path:models/transform", "tag:fact"}, cfg.Transform.Select)
				assert.Equal(t, core.RuntimeInProcess, cfg.Checks.Runtime.Type)
			},
		},
		{
			name:      "unknown key",
			overrides: map[string]any{"uplaod": map[string]any{"bucket": "lake"}},
			wantErr:   "dags.retail",
		},
		{
			name:      "bad duration",
			overrides: map[string]any{"retry_delay": "soon"},
			wantErr:   "retry_delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DecodeRetailConfig(tt.overrides)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestRetailSources(t *testing.T) {
	srcs, err := RetailSources(map[string]any{"upload": map[string]any{"src": "data/in.csv"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"data/in.csv", "include/dbt", "include/soda/checks"}, srcs)
}

func TestGateRuntime(t *testing.T) {
	project := core.RuntimeConfig{Type: core.RuntimeSubprocess, Env: []string{"TZ=UTC"}}

	cfg := &RetailConfig{}
	assert.Equal(t, project, cfg.gateRuntime(project))

	cfg.Checks.Runtime = inProcess
	rt := cfg.gateRuntime(project)
	assert.Equal(t, core.RuntimeInProcess, rt.Type)
	assert.Equal(t, project.Env, rt.Env)
}

func TestBuildRetail(t *testing.T) {
	dir := testutil.RetailProject(t, nil)
	res, _ := retailResources(t, dir)

	p, def, err := Build(RetailID, Options{Runtime: inProcess, Resources: res})
	require.NoError(t, err)
	require.NoError(t, Validate(def, p, res))

	summary, err := Summarize(p)
	require.NoError(t, err)
	assert.Equal(t, RetailID, summary.ID)
	assert.Nil(t, summary.Schedule)
	assert.False(t, summary.Catchup)
	assert.Equal(t, []string{"retail"}, summary.Tags)
	assert.Equal(t, 11, summary.Tasks)
	require.Len(t, summary.Levels, 8)
	for i, want := range [][]string{
		{TaskUpload},
		{TaskCreateDataset},
		{TaskLoad},
		{TaskCheckLoad},
		{"transform.dim_customer", "transform.dim_product", "transform.fct_invoices"},
		{TaskCheckTransform},
		{"report.report_customer_invoices", "report.report_product_invoices"},
		{TaskCheckReport},
	} {
		assert.ElementsMatch(t, want, summary.Levels[i], "level %d", i)
	}

	assert.Equal(t, GroupTransform, p.GroupOf("transform.fct_invoices"))
	assert.Equal(t, "", p.GroupOf(TaskCheckLoad))
}

func TestBuildRetail_Overrides(t *testing.T) {
	dir := testutil.RetailProject(t, nil)
	res, _ := retailResources(t, dir)

	p, err := BuildRetail(Options{
		Overrides: map[string]any{
			"retries":   3,
			"transform": map[string]any{"select": []any{"tag:fact"}},
		},
		Resources: res,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Retries)

	graph, err := p.Graph()
	require.NoError(t, err)
	assert.Equal(t, []string{TaskCheckLoad}, graph.Parents("transform.fct_invoices"))
	_, ok := p.Task("transform.dim_customer")
	assert.False(t, ok)
}

func TestBuildRetail_NoMatchingModels(t *testing.T) {
	dir := testutil.RetailProject(t, nil)
	res, _ := retailResources(t, dir)

	_, err := BuildRetail(Options{
		Overrides: map[string]any{"report": map[string]any{"select": []any{"tag:nothing"}}},
		Resources: res,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "match no models")
}

func TestValidate_Stages(t *testing.T) {
	dir := testutil.RetailProject(t, nil)
	res, _ := retailResources(t, dir)
	p, def, err := Build(RetailID, Options{Runtime: inProcess, Resources: res})
	require.NoError(t, err)

	t.Run("missing stage", func(t *testing.T) {
		bad := def
		bad.Stages = append([]string{"extract"}, def.Stages...)
		err := Validate(bad, p, res)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stage extract: not in pipeline")
	})

	t.Run("out of order", func(t *testing.T) {
		bad := def
		bad.Stages = []string{TaskUpload, TaskLoad, TaskCreateDataset, TaskCheckLoad,
			GroupTransform, TaskCheckTransform, GroupReport, TaskCheckReport}
		err := Validate(bad, p, res)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stage gcs_to_raw: gcs_to_raw must run after upload_csv_to_gcs (upload_csv_to_gcs)")
	})

	t.Run("uncovered task", func(t *testing.T) {
		bad := def
		bad.Stages = def.Stages[:len(def.Stages)-1]
		err := Validate(bad, p, res)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task check_report: not part of any stage")
	})
}

func TestValidate_TaskConfiguration(t *testing.T) {
	dir := testutil.RetailProject(t, nil)
	res, _ := retailResources(t, dir)

	p, def, err := Build(RetailID, Options{
		Overrides: map[string]any{"checks": map[string]any{"report": "missing"}},
		Runtime:   inProcess,
		Resources: res,
	})
	require.NoError(t, err)
	err = Validate(def, p, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checks directory")
}

func TestRetail_Run(t *testing.T) {
	dir := testutil.RetailProject(t, nil)
	res, _ := retailResources(t, dir)

	p, def, err := Build(RetailID, Options{Runtime: inProcess, Resources: res})
	require.NoError(t, err)
	require.NoError(t, Validate(def, p, res))

	s := &pipeline.Scheduler{Resources: res, Parallelism: 2, Logger: testutil.NewTestLogger(t)}
	result, err := s.Run(context.Background(), p, core.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusSuccess, result.Run.Status)
	for _, tr := range result.Tasks {
		assert.Equal(t, core.TaskStateSuccess, tr.State, tr.TaskID)
	}
	assert.Equal(t, "table retail.fct_invoices (12 rows)", result.Task("transform.fct_invoices").Output)

	adp, _, err := res.Warehouse(context.Background(), "gcp")
	require.NoError(t, err)
	rows, err := adp.Query(context.Background(), "SELECT COUNT(*) FROM retail.report_product_invoices")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	assert.Equal(t, 10, n)
}

func TestRetail_RunStopsAtFailedGate(t *testing.T) {
	dir := testutil.RetailProject(t, map[string]string{
		"include/soda/checks/sources/volume.yml": "checks for raw_invoices:\n  - row_count > 1000\n",
	})
	res, _ := retailResources(t, dir)

	p, _, err := Build(RetailID, Options{Runtime: inProcess, Resources: res})
	require.NoError(t, err)

	s := &pipeline.Scheduler{Resources: res, Logger: testutil.NewTestLogger(t)}
	result, err := s.Run(context.Background(), p, core.TriggerManual)
	require.Error(t, err)
	var taskErr *pipeline.TaskError
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, TaskCheckLoad, taskErr.TaskID)

	assert.Equal(t, core.RunStatusFailed, result.Run.Status)
	assert.Equal(t, core.TaskStateSuccess, result.Task(TaskLoad).State)
	assert.Equal(t, core.TaskStateFailed, result.Task(TaskCheckLoad).State)
	for _, id := range []string{"transform.fct_invoices", TaskCheckTransform, "report.report_product_invoices", TaskCheckReport} {
		assert.Equal(t, core.TaskStateUpstreamFailed, result.Task(id).State, id)
	}
}
