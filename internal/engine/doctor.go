package engine

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/leapstack-labs/leapflow/internal/dags"
	"github.com/leapstack-labs/leapflow/internal/storage"
	"github.com/leapstack-labs/leapflow/pkg/adapter"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Health check statuses.
const (
	HealthPass = "pass"
	HealthWarn = "warn"
	HealthFail = "fail"
)

// HealthCheck is one line of a doctor report.
type HealthCheck struct {
	Name   string `json:"name"`
	Group  string `json:"group"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// DoctorReport is the result of Doctor.
type DoctorReport struct {
	Checks []HealthCheck `json:"checks"`
	Failed int           `json:"failed"`
	Warned int           `json:"warned"`
}

func (r *DoctorReport) add(group, name, status, detail string) {
	r.Checks = append(r.Checks, HealthCheck{Name: name, Group: group, Status: status, Detail: detail})
	switch status {
	case HealthFail:
		r.Failed++
	case HealthWarn:
		r.Warned++
	}
}

// Doctor checks the configuration, every connection, the scan runtime and
// each registered DAG. Nothing is run; warehouses are opened and pinged.
func (e *Engine) Doctor(ctx context.Context) *DoctorReport {
	report := &DoctorReport{}

	file := e.cfg.File
	if file == "" {
		file = "no config file, using defaults"
	}
	report.add("project", "config", HealthPass, file)
	report.add("project", "state", HealthPass, e.cfg.StatePath)

	for _, id := range e.conns.IDs() {
		e.checkConnection(ctx, report, id)
	}

	e.checkRuntime(report)

	for _, def := range dags.List() {
		p, err := e.Validate(def.ID)
		if err != nil {
			report.add("dags", def.ID, HealthFail, err.Error())
			continue
		}
		report.add("dags", def.ID, HealthPass, fmt.Sprintf("%d tasks", p.Len()))
	}
	return report
}

func (e *Engine) checkConnection(ctx context.Context, report *DoctorReport, id string) {
	conn, err := e.conns.Get(id)
	if err != nil {
		report.add("connections", id, HealthFail, err.Error())
		return
	}

	var roles []string
	if storage.IsStorageType(conn.Type) {
		if _, err := storage.Open(conn, e.logger); err != nil {
			report.add("connections", id, HealthFail, err.Error())
			return
		}
		roles = append(roles, "object store ("+conn.Type+")")
	}
	if conn.Warehouse != nil || adapter.IsRegistered(strings.ToLower(conn.Type)) {
		adp, cfg, err := e.res.Warehouse(ctx, id)
		if err != nil {
			report.add("connections", id, HealthFail, err.Error())
			return
		}
		rows, err := adp.Query(ctx, "SELECT 1")
		if err != nil {
			report.add("connections", id, HealthFail, fmt.Sprintf("warehouse %s: %v", cfg.Type, err))
			return
		}
		_ = rows.Close()
		roles = append(roles, "warehouse ("+cfg.Type+")")
	}

	if len(roles) == 0 {
		report.add("connections", id, HealthWarn, fmt.Sprintf("type %s is neither an object store nor a warehouse", conn.Type))
		return
	}
	report.add("connections", id, HealthPass, strings.Join(roles, ", "))
}

func (e *Engine) checkRuntime(report *DoctorReport) {
	rt := e.cfg.Runtime
	switch rt.Type {
	case "", core.RuntimeInProcess:
		report.add("project", "runtime", HealthPass, core.RuntimeInProcess)
	case core.RuntimeSubprocess:
		fields := strings.Fields(rt.Executable)
		if len(fields) == 0 {
			report.add("project", "runtime", HealthPass, "subprocess (this executable)")
			return
		}
		path, err := exec.LookPath(fields[0])
		if err != nil {
			report.add("project", "runtime", HealthFail, fmt.Sprintf("subprocess executable %q not found", fields[0]))
			return
		}
		report.add("project", "runtime", HealthPass, "subprocess ("+path+")")
	default:
		report.add("project", "runtime", HealthFail, fmt.Sprintf("unknown runtime %q", rt.Type))
	}
}
