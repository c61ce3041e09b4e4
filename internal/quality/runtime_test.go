package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapflow/internal/testutil"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess stands in for "leapflow scan" when a test runs the
// subprocess runtime against the test binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "scan" {
		args = args[1:]
	}
	flags := map[string]string{}
	for i := 1; i+1 < len(args); i++ {
		if strings.HasPrefix(args[i], "--") && !strings.HasPrefix(args[i+1], "--") {
			flags[args[i]] = args[i+1]
		}
	}

	if os.Getenv("LEAKED_SECRET") != "" {
		fmt.Fprintln(os.Stderr, "environment leaked")
		os.Exit(3)
	}

	res := ScanResult{ScanName: flags["--scan-name"], DataSource: "retail"}
	if cfg, ok := flags["--config"]; ok {
		if _, err := os.Stat(cfg); err != nil {
			fmt.Fprintln(os.Stderr, "config file not found:", cfg)
			os.Exit(4)
		}
		res.DataSource = filepath.Base(cfg)
	}
	switch flags["--checks-subpath"] {
	case "sources":
		res.Counts = Counts{Pass: 2}
	case "transform":
		res.Counts = Counts{Pass: 1, Fail: 1}
		res.Results = []core.CheckResult{{Check: "row_count > 0", Table: "dim_customer", Outcome: core.CheckFail}}
	case "garbage":
		fmt.Print("not json")
		return
	default:
		fmt.Fprintln(os.Stderr, "scan error: no checks found")
		os.Exit(2)
	}
	_ = json.NewEncoder(os.Stdout).Encode(res)
}

func helperRuntime(t *testing.T) *Subprocess {
	t.Helper()
	return &Subprocess{
		Executable: os.Args[0],
		Args:       []string{"-test.run=TestHelperProcess", "--"},
		Env:        []string{"GO_WANT_HELPER_PROCESS=1"},
		Logger:     testutil.NewTestLogger(t),
	}
}

func TestSubprocess_Scan(t *testing.T) {
	t.Setenv("LEAKED_SECRET", "should-not-pass")
	rt := helperRuntime(t)
	ctx := context.Background()

	res, err := rt.Scan(ctx, core.ScanSpec{ScanName: "check_load", ChecksSubpath: "sources"})
	require.NoError(t, err)
	assert.Equal(t, "check_load", res.ScanName)
	assert.Equal(t, Counts{Pass: 2}, res.Counts)
	assert.NoError(t, Gate(res))

	res, err = rt.Scan(ctx, core.ScanSpec{ScanName: "check_transform", ChecksSubpath: "transform"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	var gate *GateFailedError
	assert.ErrorAs(t, Gate(res), &gate)

	_, err = rt.Scan(ctx, core.ScanSpec{ScanName: "check_report", ChecksSubpath: "report"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 2")
	assert.Contains(t, err.Error(), "no checks found")

	_, err = rt.Scan(ctx, core.ScanSpec{ScanName: "check_report", ChecksSubpath: "garbage"})
	assert.ErrorContains(t, err, "invalid subprocess result")
}

func TestSubprocess_ScanWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{"alt.yaml": "connections: {}\n"})

	rt := helperRuntime(t)
	rt.ConfigFile = filepath.Join(dir, "alt.yaml")
	res, err := rt.Scan(context.Background(), core.ScanSpec{ScanName: "check_load", ChecksSubpath: "sources"})
	require.NoError(t, err)
	assert.Equal(t, "alt.yaml", res.DataSource)

	rt.ConfigFile = filepath.Join(dir, "missing.yaml")
	_, err = rt.Scan(context.Background(), core.ScanSpec{ScanName: "check_load", ChecksSubpath: "sources"})
	assert.ErrorContains(t, err, "exited with code 4")
}

func TestSubprocess_Command(t *testing.T) {
	rt := &Subprocess{Args: []string{"--verbose"}, Dir: "/srv/retail"}
	got := rt.Command(core.ScanSpec{
		ScanName:      "check_load",
		ChecksSubpath: "sources",
		ChecksRoot:    "include/soda/checks",
		Configuration: "include/soda/configuration.yml",
	})
	assert.Equal(t, []string{
		"--verbose", "scan",
		"--scan-name", "check_load",
		"--checks-subpath", "sources",
		"--checks-root", "include/soda/checks",
		"--configuration", "include/soda/configuration.yml",
		"--project-dir", "/srv/retail",
		"--json",
	}, got)
}

func TestSubprocess_CommandPassesConfigFile(t *testing.T) {
	rt := &Subprocess{Dir: "/srv/retail", ConfigFile: "/srv/retail/alt.yaml"}
	got := rt.Command(core.ScanSpec{ScanName: "check_load", ChecksSubpath: "sources"})
	assert.Equal(t, []string{
		"scan",
		"--scan-name", "check_load",
		"--checks-subpath", "sources",
		"--project-dir", "/srv/retail",
		"--config", "/srv/retail/alt.yaml",
		"--json",
	}, got)
}

func TestSubprocess_Environment(t *testing.T) {
	rt := &Subprocess{
		Env: []string{"GOOGLE_APPLICATION_CREDENTIALS", "MODE=ci", "UNSET_VAR"},
		environ: func() []string {
			return []string{
				"PATH=/usr/bin",
				"HOME=/home/etl",
				"AWS_SECRET_ACCESS_KEY=secret",
				"LEAPFLOW_CONN_GCP=minio://k:s@localhost:9000",
				"GOOGLE_APPLICATION_CREDENTIALS=/keys/sa.json",
			}
		},
	}
	assert.Equal(t, []string{
		"GOOGLE_APPLICATION_CREDENTIALS=/keys/sa.json",
		"HOME=/home/etl",
		"LEAPFLOW_CONN_GCP=minio://k:s@localhost:9000",
		"MODE=ci",
		"PATH=/usr/bin",
	}, rt.Environment())
}

func TestNewRuntime(t *testing.T) {
	scanner := &Scanner{}

	rt, err := NewRuntime(core.RuntimeConfig{}, scanner, "", nil)
	require.NoError(t, err)
	assert.Same(t, scanner, rt)

	rt, err = NewRuntime(core.RuntimeConfig{Type: core.RuntimeSubprocess, Executable: "/opt/leapflow/bin/leapflow --quiet", Env: []string{"A"}}, scanner, "/srv", nil)
	require.NoError(t, err)
	sub, ok := rt.(*Subprocess)
	require.True(t, ok)
	assert.Equal(t, "/opt/leapflow/bin/leapflow", sub.Executable)
	assert.Equal(t, []string{"--quiet"}, sub.Args)
	assert.Equal(t, "/srv", sub.Dir)

	_, err = NewRuntime(core.RuntimeConfig{Type: "docker"}, scanner, "", nil)
	assert.ErrorContains(t, err, "unknown scan runtime")

	_, err = NewRuntime(core.RuntimeConfig{Type: core.RuntimeInProcess}, nil, "", nil)
	assert.Error(t, err)
}
