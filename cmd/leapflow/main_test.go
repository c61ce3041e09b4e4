// Package main provides end-to-end tests for the leapflow CLI.
package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapflow/internal/cli"
	clitestutil "github.com/leapstack-labs/leapflow/internal/cli/testutil"
	"github.com/leapstack-labs/leapflow/internal/engine"
	"github.com/leapstack-labs/leapflow/internal/quality"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leapflow runs the root command against the project in dir.
func leapflow(t *testing.T, dir string, args ...string) (string, string, error) {
	t.Helper()
	return clitestutil.ExecuteCommand(t, cli.NewRootCmd(), append([]string{"--project-dir", dir}, args...)...)
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := clitestutil.ExecuteCommand(t, cli.NewRootCmd(), "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "leapflow v")
}

func TestHelpCommand(t *testing.T) {
	stdout, _, err := clitestutil.ExecuteCommand(t, cli.NewRootCmd(), "--help")
	require.NoError(t, err)

	for _, want := range []string{"run", "runs", "dag", "dags", "validate", "scan", "models", "serve", "watch", "doctor", "init"} {
		assert.Contains(t, stdout, want)
	}
}

func TestCompletionCommand(t *testing.T) {
	stdout, _, err := clitestutil.ExecuteCommand(t, cli.NewRootCmd(), "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, stdout, "leapflow")

	_, _, err = clitestutil.ExecuteCommand(t, cli.NewRootCmd(), "completion", "tcsh")
	require.Error(t, err)
}

func TestValidateAndDescribe(t *testing.T) {
	dir := clitestutil.SetupTestProject(t, nil)

	stdout, _, err := leapflow(t, dir, "validate", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"dag":"retail","valid":true,"tasks":11}`, stdout)

	stdout, _, err = leapflow(t, dir, "dag", "-o", "json")
	require.NoError(t, err)
	var summary struct {
		ID     string      `json:"id"`
		Tasks  int         `json:"tasks"`
		Levels [][]string  `json:"levels"`
		Edges  [][2]string `json:"edges"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, "retail", summary.ID)
	assert.Equal(t, 11, summary.Tasks)
	assert.Equal(t, []string{"upload_csv_to_gcs"}, summary.Levels[0])

	stdout, _, err = leapflow(t, dir, "dags", "-o", "markdown")
	require.NoError(t, err)
	assert.Contains(t, stdout, "retail (default)")
}

func TestValidate_UnknownDAG(t *testing.T) {
	dir := clitestutil.SetupTestProject(t, nil)

	_, _, err := leapflow(t, dir, "validate", "wholesale")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wholesale")
}

func TestRunCommand(t *testing.T) {
	dir := clitestutil.SetupTestProject(t, nil)

	stdout, _, err := leapflow(t, dir, "run", "-o", "json")
	require.NoError(t, err)

	var detail engine.RunDetail
	require.NoError(t, json.Unmarshal([]byte(stdout), &detail))
	require.NotNil(t, detail.Run)
	assert.Equal(t, core.RunStatusSuccess, detail.Run.Status)
	assert.Equal(t, core.TriggerManual, detail.Run.Trigger)
	assert.Len(t, detail.Tasks, 11)
	for _, tr := range detail.Tasks {
		assert.Equal(t, core.TaskStateSuccess, tr.State, tr.TaskID)
	}
	assert.NotEmpty(t, detail.Checks)

	// The run is recorded
	stdout, _, err = leapflow(t, dir, "runs", "list", "-o", "json")
	require.NoError(t, err)
	var runs []*core.Run
	require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, detail.Run.ID, runs[0].ID)

	stdout, _, err = leapflow(t, dir, "runs", "show", detail.Run.ID, "-o", "markdown")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Run "+detail.Run.ID)
	assert.Contains(t, stdout, "- `check_report` success")

	_, _, err = leapflow(t, dir, "runs", "show", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run missing not found")

	// The warehouse is populated, so a standalone scan passes
	stdout, _, err = leapflow(t, dir, "scan",
		"--scan-name", "check_transform",
		"--checks-subpath", "transform",
		"--json")
	require.NoError(t, err)
	var res quality.ScanResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, "check_transform", res.ScanName)
	assert.NotEmpty(t, res.Results)
	assert.False(t, res.HasFailures())
}

func TestRunCommand_FailedGate(t *testing.T) {
	dir := clitestutil.SetupTestProject(t, map[string]string{
		"include/soda/checks/sources/raw_invoices.yml": "checks for raw_invoices:\n  - row_count = 0\n",
	})

	stdout, _, err := leapflow(t, dir, "run", "-o", "json")
	require.Error(t, err)

	var detail engine.RunDetail
	require.NoError(t, json.Unmarshal([]byte(stdout), &detail))
	assert.True(t, strings.HasPrefix(err.Error(), "run "+detail.Run.ID+" of retail failed: "), err.Error())
	assert.Equal(t, 1, strings.Count(err.Error(), detail.Run.ID))
	assert.Equal(t, core.RunStatusFailed, detail.Run.Status)

	states := map[string]core.TaskState{}
	for _, tr := range detail.Tasks {
		states[tr.TaskID] = tr.State
	}
	assert.Equal(t, core.TaskStateSuccess, states["gcs_to_raw"])
	assert.Equal(t, core.TaskStateFailed, states["check_load"])
	assert.Equal(t, core.TaskStateUpstreamFailed, states["check_report"])
}

func TestModelsCommands(t *testing.T) {
	dir := clitestutil.SetupTestProject(t, nil)

	stdout, _, err := leapflow(t, dir, "models", "list", "-o", "json")
	require.NoError(t, err)
	var models []engine.ModelInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &models))
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []string{
		"dim_customer", "dim_product", "fct_invoices",
		"report_customer_invoices", "report_product_invoices",
	}, names)

	stdout, _, err = leapflow(t, dir, "models", "compile", "-g", "transform", "--sql", "-o", "markdown")
	require.NoError(t, err)
	assert.Contains(t, stdout, "```sql")
	assert.Contains(t, stdout, "transform.fct_invoices")
	assert.FileExists(t, filepath.Join(dir, "target", "manifest.json"))

	// Transform models read the raw table, which only a pipeline run loads
	_, _, err = leapflow(t, dir, "models", "run", "-g", "transform")
	require.Error(t, err)
}

func TestDoctorCommand(t *testing.T) {
	dir := clitestutil.SetupTestProject(t, nil)

	stdout, _, err := leapflow(t, dir, "doctor", "-o", "markdown")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Project Health")
	assert.Contains(t, stdout, "`retail` pass")
	assert.True(t, strings.Contains(stdout, "object store (local)"), stdout)
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shop")
	clitestutil.SetupTestProject(t, nil)

	stdout, _, err := clitestutil.ExecuteCommand(t, cli.NewRootCmd(), "init", dir, "-o", "json")
	require.NoError(t, err)

	var res struct {
		Files []string `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Contains(t, res.Files, "leapflow.yaml")

	stdout, _, err = leapflow(t, dir, "validate", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"valid": true`)
}
