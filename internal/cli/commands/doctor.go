package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapflow/internal/cli/output"
	"github.com/leapstack-labs/leapflow/internal/engine"
	"github.com/spf13/cobra"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the project, its connections and pipelines",
		Long: `Check that the configuration loads, every connection opens, warehouses
answer a query, the scan runtime is available and every pipeline validates.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			report := cmdCtx.Engine.Doctor(cmd.Context())
			if err := renderDoctor(cmdCtx.Renderer, report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d health checks failed", report.Failed)
			}
			return nil
		},
	}
}

func renderDoctor(r *output.Renderer, report *engine.DoctorReport) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(report)
	}

	r.Header(1, "Project Health")
	group := ""
	for _, c := range report.Checks {
		if c.Group != group {
			if group != "" {
				r.Println("")
			}
			group = c.Group
			r.Header(2, output.Title(group))
		}
		r.StatusLine(c.Name, c.Status, c.Detail)
	}
	r.Println("")

	switch {
	case report.Failed > 0:
		r.Error(fmt.Sprintf("%d failed, %d warnings", report.Failed, report.Warned))
	case report.Warned > 0:
		r.Warning(fmt.Sprintf("%d warnings", report.Warned))
	default:
		r.Success("all checks passed")
	}
	return nil
}
