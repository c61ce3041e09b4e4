package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapflow/internal/engine"
	"github.com/spf13/cobra"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newRunsListCommand(), newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		dagID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Example: `  leapflow runs list
  leapflow runs list --dag retail --limit 5 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive")
			}
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := cmdCtx.Engine.Runs(cmd.Context(), dagID, limit)
			if err != nil {
				return err
			}
			return renderRuns(cmdCtx.Renderer, runs)
		},
	}
	cmd.Flags().StringVar(&dagID, "dag", "", "Only list runs of this DAG")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs")
	_ = cmd.RegisterFlagCompletionFunc("dag", completeDAGs)
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its tasks and check results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			detail, err := cmdCtx.Engine.RunDetail(cmd.Context(), args[0])
			if engine.IsNotFound(err) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return renderRunDetail(cmdCtx.Renderer, detail)
		},
	}
}
