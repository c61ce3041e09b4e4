package commands

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leapstack-labs/leapflow/internal/cli/testutil"
	"github.com/leapstack-labs/leapflow/internal/engine"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDetail() *engine.RunDetail {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(1500 * time.Millisecond)
	value := 0.0
	return &engine.RunDetail{
		Run: &core.Run{
			ID:          "run-1",
			DAGID:       "retail",
			Trigger:     core.TriggerManual,
			Status:      core.RunStatusFailed,
			StartedAt:   started,
			CompletedAt: &completed,
			Error:       "task check_load failed",
		},
		Tasks: []*core.TaskRun{
			{TaskID: "upload_csv_to_gcs", State: core.TaskStateSuccess, DurationMS: 250, Output: "raw/online_retail.csv"},
			{TaskID: "check_load", State: core.TaskStateFailed, Error: "1 check failed"},
			{TaskID: "transform", State: core.TaskStateUpstreamFailed},
		},
		Checks: []core.CheckResult{
			{ScanName: "check_load", Table: "raw_invoices", Check: "row_count > 0", Outcome: core.CheckFail, Value: &value},
		},
	}
}

func TestRenderRunDetail_Markdown(t *testing.T) {
	tr := testutil.NewTestRendererMarkdown()
	require.NoError(t, renderRunDetail(tr.Renderer, sampleDetail()))

	out := tr.Output()
	testutil.AssertNoANSI(t, out)
	testutil.AssertValidMarkdown(t, out)
	assert.Contains(t, out, "# Run run-1")
	assert.Contains(t, out, "- **Status:** Failed")
	assert.Contains(t, out, "- **Duration:** 1.5s")
	assert.Contains(t, out, "- **Error:** task check_load failed")
	assert.Contains(t, out, "- `upload_csv_to_gcs` success (raw/online_retail.csv)")
	assert.Contains(t, out, "- `check_load` failed (1 check failed)")
	assert.Contains(t, out, "- `transform` upstream_failed\n")
	assert.Contains(t, out, "## Checks")
	assert.Contains(t, out, "| check_load | raw_invoices | row_count > 0 | fail | 0 |")
}

func TestRenderRunDetail_JSON(t *testing.T) {
	tr := testutil.NewTestRendererJSON()
	require.NoError(t, renderRunDetail(tr.Renderer, sampleDetail()))

	var got engine.RunDetail
	require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &got))
	assert.Equal(t, "run-1", got.Run.ID)
	assert.Len(t, got.Tasks, 3)
	assert.Len(t, got.Checks, 1)
}

func TestTaskDetail(t *testing.T) {
	tests := []struct {
		name string
		tr   *core.TaskRun
		want string
	}{
		{"error wins", &core.TaskRun{State: core.TaskStateFailed, Error: "boom", Output: "x"}, "boom"},
		{"output", &core.TaskRun{State: core.TaskStateSuccess, Output: "3 rows"}, "3 rows"},
		{"duration", &core.TaskRun{State: core.TaskStateSuccess, DurationMS: 1200}, "1.2s"},
		{"pending", &core.TaskRun{State: core.TaskStatePending}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, taskDetail(tt.tr))
		})
	}
}

func TestRenderRuns(t *testing.T) {
	t.Run("empty json is an array", func(t *testing.T) {
		tr := testutil.NewTestRendererJSON()
		require.NoError(t, renderRuns(tr.Renderer, nil))
		assert.JSONEq(t, "[]", tr.Output())
	})

	t.Run("empty markdown", func(t *testing.T) {
		tr := testutil.NewTestRendererMarkdown()
		require.NoError(t, renderRuns(tr.Renderer, nil))
		assert.Contains(t, tr.Output(), "_No runs recorded_")
	})

	t.Run("table", func(t *testing.T) {
		tr := testutil.NewTestRendererMarkdown()
		require.NoError(t, renderRuns(tr.Renderer, []*core.Run{sampleDetail().Run}))
		out := tr.Output()
		assert.Contains(t, out, "| Run | DAG | Trigger | Status | Started | Duration |")
		assert.Contains(t, out, "| run-1 | retail | manual | failed |")
		assert.Contains(t, out, "| 1.5s |")
	})
}

func TestRenderDoctor(t *testing.T) {
	report := &engine.DoctorReport{
		Checks: []engine.HealthCheck{
			{Name: "config", Group: "project", Status: engine.HealthPass, Detail: "leapflow.yaml"},
			{Name: "gcp", Group: "connections", Status: engine.HealthFail, Detail: "connection refused"},
		},
		Failed: 1,
	}

	t.Run("markdown", func(t *testing.T) {
		tr := testutil.NewTestRendererMarkdown()
		require.NoError(t, renderDoctor(tr.Renderer, report))

		out := tr.Output()
		testutil.AssertValidMarkdown(t, out)
		assert.Contains(t, out, "# Project Health")
		assert.Contains(t, out, "## Project")
		assert.Contains(t, out, "## Connections")
		assert.Contains(t, out, "- `gcp` fail (connection refused)")
		assert.Contains(t, tr.ErrorOutput(), "1 failed, 0 warnings")
	})

	t.Run("json", func(t *testing.T) {
		tr := testutil.NewTestRendererJSON()
		require.NoError(t, renderDoctor(tr.Renderer, report))

		var got engine.DoctorReport
		require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &got))
		assert.Equal(t, 1, got.Failed)
		assert.Len(t, got.Checks, 2)
	})

	t.Run("all passing", func(t *testing.T) {
		tr := testutil.NewTestRendererMarkdown()
		require.NoError(t, renderDoctor(tr.Renderer, &engine.DoctorReport{
			Checks: report.Checks[:1],
		}))
		assert.Contains(t, tr.Output(), "**ok:** all checks passed")
		assert.NotContains(t, tr.Output(), "fail")
	})
}
