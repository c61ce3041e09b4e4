package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapflow/internal/cli/output"
	"github.com/leapstack-labs/leapflow/internal/engine"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [dag]",
		Short: "Run a pipeline",
		Long: `Validate and run a pipeline once, recording the run in the state store.

Tasks run level by level. A failed task or quality gate stops everything
downstream of it; those tasks are marked upstream_failed. The command exits
non-zero when the run fails.`,
		Example: `  # Run the default pipeline
  leapflow run

  # Run a pipeline by id, printing the run as JSON
  leapflow run retail -o json

  # Use more workers
  leapflow run retail --parallelism 8`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeDAGs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
	}
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	eng := cmdCtx.Engine
	dagID := dagArg(cmdCtx.Cfg, args)

	result, runErr := eng.Run(ctx, dagID, core.TriggerManual)
	if result == nil || result.Run == nil {
		return runErr
	}

	detail, err := eng.RunDetail(ctx, result.Run.ID)
	if err != nil {
		detail = &engine.RunDetail{Run: result.Run, Tasks: result.Tasks}
	}
	if err := renderRunDetail(cmdCtx.Renderer, detail); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if cmdCtx.Renderer.EffectiveMode() != output.ModeJSON {
		cmdCtx.Renderer.Success(fmt.Sprintf("dag %s finished in run %s", dagID, result.Run.ID))
	}
	return nil
}
