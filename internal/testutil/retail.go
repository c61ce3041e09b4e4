package testutil

import (
	"testing"

	"github.com/leapstack-labs/leapflow/internal/scaffold"
)

// RetailProject writes the retail project template into a temp dir and
// returns the dir. Extra files are written on top.
func RetailProject(t testing.TB, extra map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := scaffold.Copy(scaffold.DefaultTemplate, dir, false); err != nil {
		t.Fatalf("write retail project: %v", err)
	}
	WriteFiles(t, dir, extra)
	return dir
}
