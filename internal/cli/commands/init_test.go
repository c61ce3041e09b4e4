package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapflow/internal/cli/config"
	"github.com/leapstack-labs/leapflow/internal/cli/testutil"
	intconfig "github.com/leapstack-labs/leapflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  func(t *testing.T, dir string) // setup before running
		args      []string
		wantErr   string
		wantFiles []string
	}{
		{
			name: "init empty directory",
			args: []string{},
			wantFiles: []string{
				"leapflow.yaml",
				".gitignore",
				"include/dataset/online_Retail.csv",
				"include/dbt/project.yml",
				"include/soda/configuration.yml",
			},
		},
		{
			name: "init into a new directory",
			args: []string{"retail-project"},
			wantFiles: []string{
				"retail-project/leapflow.yaml",
				"retail-project/include/dbt/profiles.yml",
			},
		},
		{
			name: "init existing config without force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "leapflow.yaml"), []byte("existing"), 0600)
			},
			args:    []string{},
			wantErr: "leapflow.yaml already exists",
		},
		{
			name: "init existing config with force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "leapflow.yaml"), []byte("existing"), 0600)
			},
			args:      []string{"--force"},
			wantFiles: []string{"leapflow.yaml", "include/soda/checks/sources/raw_invoices.yml"},
		},
		{
			name:    "unknown template",
			args:    []string{"--template", "wholesale"},
			wantErr: `unknown template "wholesale"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Chdir(tmpDir)
			config.ResetConfig()

			if tt.setupDir != nil {
				tt.setupDir(t, tmpDir)
			}

			_, _, err := testutil.ExecuteCommand(t, NewInitCommand(), tt.args...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			for _, f := range tt.wantFiles {
				assert.FileExists(t, filepath.Join(tmpDir, filepath.FromSlash(f)))
			}
		})
	}
}

func TestInitCommand_Output(t *testing.T) {
	t.Chdir(t.TempDir())
	config.ResetConfig()
	t.Setenv("LEAPFLOW_OUTPUT", "markdown")

	stdout, _, err := testutil.ExecuteCommand(t, NewInitCommand())
	require.NoError(t, err)

	testutil.AssertNoANSI(t, stdout)
	testutil.AssertValidMarkdown(t, stdout)
	assert.Contains(t, stdout, "## Dataset")
	assert.Contains(t, stdout, "- `include/dataset/online_Retail.csv` success")
	assert.Contains(t, stdout, "leapflow project initialized!")
}

func TestInitCreatesValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	config.ResetConfig()

	_, _, err := testutil.ExecuteCommand(t, NewInitCommand())
	require.NoError(t, err)

	cfg, err := intconfig.LoadFromDir(tmpDir)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.Connections, "gcp")
	assert.Contains(t, cfg.DAGs, "retail")
}
