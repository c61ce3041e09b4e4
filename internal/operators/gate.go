package operators

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/internal/quality"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// QualityGateTask runs a quality scan and fails when any check fails or
// errors.
type QualityGateTask struct {
	TaskID string
	Scan   core.ScanSpec
}

// ID returns the task id.
func (t *QualityGateTask) ID() string { return t.TaskID }

// Describe summarizes the gate.
func (t *QualityGateTask) Describe() string {
	rt := t.Scan.Runtime.Type
	if rt == "" {
		rt = core.RuntimeInProcess
	}
	return fmt.Sprintf("scan %s over %s (%s)", t.Scan.ScanName, t.Scan.ChecksSubpath, rt)
}

func (t *QualityGateTask) scanner(r *pipeline.Resources, tc *pipeline.TaskContext) *quality.Scanner {
	s := &quality.Scanner{BaseDir: r.BaseDir}
	if r.Adapters != nil {
		s.Adapters = r.Adapters
	}
	if r.Connections != nil {
		s.Connections = r.Connections
	}
	if tc != nil {
		s.Logger = tc.Logger
	}
	return s
}

// Validate checks that the checks directory and configuration exist and
// that the check files parse.
func (t *QualityGateTask) Validate(r *pipeline.Resources) error {
	var errs []error
	if t.Scan.ScanName == "" {
		errs = append(errs, errors.New("scan name is not set"))
	}
	if t.Scan.ChecksSubpath == "" {
		errs = append(errs, errors.New("checks subpath is not set"))
	}
	s := t.scanner(r, nil)
	dir := s.ChecksDir(t.Scan)
	if err := requireDir(r, dir, "checks directory"); err != nil {
		errs = append(errs, err)
	} else if _, err := quality.LoadChecks(dir); err != nil {
		errs = append(errs, err)
	}
	if err := requireFile(r, t.Scan.Configuration, "scan configuration"); err != nil {
		errs = append(errs, err)
	} else if _, _, err := s.Warehouse(t.Scan); err != nil {
		errs = append(errs, err)
	}
	switch t.Scan.Runtime.Type {
	case "", core.RuntimeInProcess, core.RuntimeSubprocess:
	default:
		errs = append(errs, fmt.Errorf("unknown scan runtime %q", t.Scan.Runtime.Type))
	}
	return errors.Join(errs...)
}

// Execute runs the scan through the configured runtime and records the
// check results.
func (t *QualityGateTask) Execute(ctx context.Context, tc *pipeline.TaskContext) error {
	r := tc.Resources
	scanner := t.scanner(r, tc)
	rt, err := quality.NewRuntime(t.Scan.Runtime, scanner, r.BaseDir, tc.Logger)
	if err != nil {
		return err
	}

	if sub, child := rt.(*quality.Subprocess); child {
		sub.ConfigFile = r.ConfigFile

		// The child opens the warehouse itself; a file-backed DuckDB
		// database admits one writer process at a time.
		_, cfg, err := scanner.Warehouse(t.Scan)
		if err != nil {
			return err
		}
		if cfg.InMemory() {
			return fmt.Errorf("scan %s: an in-memory warehouse cannot be scanned from a subprocess; use runtime %s",
				t.Scan.ScanName, core.RuntimeInProcess)
		}
		if r.Adapters != nil {
			if err := r.Adapters.Release(cfg); err != nil {
				tc.Logger.Warn("failed to release warehouse connection", "error", err)
			}
		}
	}

	res, err := rt.Scan(ctx, t.Scan)
	if err != nil {
		return err
	}
	for i := range res.Results {
		if res.Results[i].ScanName == "" {
			res.Results[i].ScanName = res.ScanName
		}
	}
	if err := tc.RecordChecks(ctx, res.Results); err != nil {
		tc.Logger.Error("failed to record check results", "error", err)
	}
	tc.SetOutput("%d passed, %d warned, %d failed, %d errored",
		res.Counts.Pass, res.Counts.Warn, res.Counts.Fail, res.Counts.Error)
	return quality.Gate(res)
}
