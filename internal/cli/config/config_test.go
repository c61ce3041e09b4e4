package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "config file")
	flags.String("project-dir", "", "project directory")
	flags.String("state", "", "state database")
	flags.StringP("output", "o", "", "output format")
	flags.BoolP("verbose", "v", false, "verbose")
	flags.String("log-level", "", "log level")
	flags.String("log-format", "", "log format")
	flags.Int("parallelism", 0, "parallelism")
	return flags
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "leapflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// TestLoadConfig_FlagPrecedence tests that flags override env vars and config file.
func TestLoadConfig_FlagPrecedence(t *testing.T) {
	ResetConfig()
	cfgPath := writeConfig(t, t.TempDir(), "parallelism: 2\nlog_level: debug\n")
	t.Setenv("LEAPFLOW_PARALLELISM", "3")

	flags := newFlags()
	require.NoError(t, flags.Set("parallelism", "5"))

	cfg, err := LoadConfig(cfgPath, flags)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Parallelism, "flag value should override config file and env var")
	assert.Equal(t, "debug", cfg.LogLevel, "file value should survive unset flags")
	assert.Same(t, cfg, GetCurrentConfig())
	assert.Equal(t, cfgPath, GetConfigFileUsed())
}

// TestLoadConfig_EnvPrecedenceOverFile tests that env vars override config file.
func TestLoadConfig_EnvPrecedenceOverFile(t *testing.T) {
	ResetConfig()
	cfgPath := writeConfig(t, t.TempDir(), "parallelism: 2\n")
	t.Setenv("LEAPFLOW_PARALLELISM", "3")

	cfg, err := LoadConfig(cfgPath, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Parallelism, "env var should override config file")
}

// TestLoadConfig_FlagNotSetUsesEnv tests that unset flags fall back to env vars.
func TestLoadConfig_FlagNotSetUsesEnv(t *testing.T) {
	ResetConfig()
	cfgPath := writeConfig(t, t.TempDir(), "output: markdown\n")
	t.Setenv("LEAPFLOW_OUTPUT", "json")

	cfg, err := LoadConfig(cfgPath, newFlags())
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.OutputFormat, "env var should be used when flag is not set")
}

func TestLoadConfig_ProjectDirAndState(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	writeConfig(t, dir, "state_path: .leapflow/custom.db\n")

	flags := newFlags()
	require.NoError(t, flags.Set("project-dir", dir))
	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, ".leapflow", "custom.db"), cfg.StatePath)

	// --state is relative to the working directory.
	wd := t.TempDir()
	t.Chdir(wd)
	require.NoError(t, flags.Set("state", "run.db"))
	cfg, err = LoadConfig("", flags)
	require.NoError(t, err)
	want, err := filepath.Abs("run.db")
	require.NoError(t, err)
	assert.Equal(t, want, cfg.StatePath)
}

func TestLoadConfig_Invalid(t *testing.T) {
	ResetConfig()
	cfgPath := writeConfig(t, t.TempDir(), "parallelism: 0\nruntime:\n  type: venv\n")

	_, err := LoadConfig(cfgPath, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Issues, 2)
	assert.Nil(t, GetCurrentConfig())
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantDebug bool
		wantJSON  bool
		wantErr   bool
	}{
		{name: "text info", cfg: Config{LogLevel: "info", LogFormat: "text"}},
		{name: "verbose lowers level", cfg: Config{LogLevel: "warn", LogFormat: "text", Verbose: true}, wantDebug: true},
		{name: "json debug", cfg: Config{LogLevel: "debug", LogFormat: "json"}, wantDebug: true, wantJSON: true},
		{name: "bad level", cfg: Config{LogLevel: "loud"}, wantErr: true},
		{name: "bad format", cfg: Config{LogLevel: "info", LogFormat: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(&tt.cfg, &buf)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			logger.Debug("probe", "task_id", "upload_csv_to_gcs")
			if !tt.wantDebug {
				assert.Empty(t, buf.String())
				return
			}
			if tt.wantJSON {
				assert.Contains(t, buf.String(), `"task_id":"upload_csv_to_gcs"`)
			} else {
				assert.Contains(t, buf.String(), "task_id=upload_csv_to_gcs")
			}
		})
	}
}

func TestGetLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&Config{LogLevel: "info"}, &buf)
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))
	assert.NotNil(t, GetLogger(context.Background()))
	assert.Equal(t, loggerKey{}, LoggerKey())
}
