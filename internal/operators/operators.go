// Package operators provides the task types pipelines are declared with:
// object storage upload, dataset provisioning, file loads, quality gates
// and model groups.
package operators

import (
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

var (
	_ pipeline.Task      = (*LocalToObjectStoreTask)(nil)
	_ pipeline.Task      = (*CreateEmptyDatasetTask)(nil)
	_ pipeline.Task      = (*LoadFileTask)(nil)
	_ pipeline.Task      = (*QualityGateTask)(nil)
	_ pipeline.Task      = (*ModelTask)(nil)
	_ pipeline.Validator = (*LocalToObjectStoreTask)(nil)
	_ pipeline.Validator = (*CreateEmptyDatasetTask)(nil)
	_ pipeline.Validator = (*LoadFileTask)(nil)
	_ pipeline.Validator = (*QualityGateTask)(nil)
)

// ValidBucket reports whether name is a usable bucket name: 3 to 63
// lowercase letters, digits, dots, dashes or underscores, starting and
// ending with a letter or digit.
func ValidBucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case (r == '.' || r == '-' || r == '_') && i > 0 && i < len(name)-1:
		default:
			return false
		}
	}
	return true
}

// ValidObjectKey reports whether key is a relative object path.
func ValidObjectKey(key string) bool {
	return key != "" && !strings.HasPrefix(key, "/") && !strings.Contains(key, "..")
}

func requireFile(r *pipeline.Resources, path, what string) error {
	if path == "" {
		return fmt.Errorf("%s is not set", what)
	}
	info, err := os.Stat(r.Path(path))
	if err != nil {
		return fmt.Errorf("%s %s: %w", what, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s %s is a directory", what, path)
	}
	return nil
}

func requireDir(r *pipeline.Resources, path, what string) error {
	info, err := os.Stat(r.Path(path))
	if err != nil {
		return fmt.Errorf("%s %s: %w", what, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %s is not a directory", what, path)
	}
	return nil
}

func validateTable(t core.TableRef) error {
	if !core.ValidIdentifier(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if t.Schema != "" && !core.ValidIdentifier(t.Schema) {
		return fmt.Errorf("invalid schema name %q", t.Schema)
	}
	if t.ConnID == "" {
		return fmt.Errorf("table %s has no connection", t.Qualified())
	}
	return nil
}
