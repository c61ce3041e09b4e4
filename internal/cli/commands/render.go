package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/leapflow/internal/cli/output"
	"github.com/leapstack-labs/leapflow/internal/engine"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// renderRunDetail writes a run with its tasks and check results.
func renderRunDetail(r *output.Renderer, detail *engine.RunDetail) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(detail)
	}

	run := detail.Run
	r.Header(1, fmt.Sprintf("Run %s", run.ID))
	r.KeyValue("DAG", run.DAGID)
	r.KeyValue("Trigger", run.Trigger)
	r.KeyValue("Status", output.Title(string(run.Status)))
	r.KeyValue("Started", run.StartedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		r.KeyValue("Duration", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		r.KeyValue("Error", run.Error)
	}
	r.Println()

	r.Header(2, "Tasks")
	for _, tr := range detail.Tasks {
		r.StatusLine(tr.TaskID, string(tr.State), taskDetail(tr))
	}
	r.Println()

	if len(detail.Checks) > 0 {
		r.Header(2, "Checks")
		renderChecks(r, detail.Checks)
	}
	return nil
}

func taskDetail(tr *core.TaskRun) string {
	switch {
	case tr.Error != "":
		return tr.Error
	case tr.Output != "":
		return tr.Output
	case tr.State == core.TaskStateSuccess || tr.State == core.TaskStateFailed:
		return (time.Duration(tr.DurationMS) * time.Millisecond).String()
	}
	return ""
}

// renderChecks writes check results as a table.
func renderChecks(r *output.Renderer, checks []core.CheckResult) {
	rows := make([][]any, 0, len(checks))
	for _, c := range checks {
		value := ""
		if c.Value != nil {
			value = fmt.Sprintf("%g", *c.Value)
		}
		rows = append(rows, []any{c.ScanName, c.Table, c.Check, string(c.Outcome), value, c.Message})
	}
	r.Table([]string{"Scan", "Table", "Check", "Outcome", "Value", "Message"}, rows)
}

// renderRuns writes a list of runs as a table.
func renderRuns(r *output.Renderer, runs []*core.Run) error {
	if r.EffectiveMode() == output.ModeJSON {
		if runs == nil {
			runs = []*core.Run{}
		}
		return r.JSON(runs)
	}
	if len(runs) == 0 {
		r.Muted("No runs recorded")
		return nil
	}
	rows := make([][]any, 0, len(runs))
	for _, run := range runs {
		duration := ""
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		rows = append(rows, []any{run.ID, run.DAGID, string(run.Trigger), string(run.Status),
			run.StartedAt.Local().Format(time.DateTime), duration})
	}
	r.Table([]string{"Run", "DAG", "Trigger", "Status", "Started", "Duration"}, rows)
	return nil
}
