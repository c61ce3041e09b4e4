package commands

import (
	"testing"

	"github.com/leapstack-labs/leapflow/internal/cli/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVersionCommand(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"0.1.0", "leapflow v0.1.0\n"},
		{"1.2.3", "leapflow v1.2.3\n"},
		{"dev", "leapflow vdev\n"},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			stdout, _, err := testutil.ExecuteCommand(t, NewVersionCommand(tt.version))
			require.NoError(t, err)
			assert.Contains(t, stdout, tt.want)
			assert.Contains(t, stdout, "DuckDB")
		})
	}
}

func TestVersionCommand_RejectsArgs(t *testing.T) {
	cmd := NewVersionCommand("dev")
	assert.Equal(t, "version", cmd.Use)

	_, _, err := testutil.ExecuteCommand(t, cmd, "extra")
	require.Error(t, err)
}
