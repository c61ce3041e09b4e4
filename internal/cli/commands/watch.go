package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/internal/watch"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/spf13/cobra"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	var (
		debounce time.Duration
		runFirst bool
	)

	cmd := &cobra.Command{
		Use:   "watch [dag]",
		Short: "Run a pipeline whenever its sources change",
		Long: `Watch the dataset file, the transformation project and the checks of a
pipeline and run it after they change. Changes within the debounce window
trigger one run; changes during a run queue one more.`,
		Example: `  leapflow watch
  leapflow watch retail --debounce 500ms --run-first`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeDAGs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			dagID := dagArg(cmdCtx.Cfg, args)
			w, err := newWatcher(cmdCtx, dagID, debounce)
			if err != nil {
				return err
			}

			if runFirst {
				result, err := cmdCtx.Engine.Run(cmd.Context(), dagID, core.TriggerWatch)
				reportWatchRun(cmdCtx, result, err)
			}
			return w.Watch(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Quiet period before a run (default: watch.debounce)")
	cmd.Flags().BoolVar(&runFirst, "run-first", false, "Run once before watching")
	return cmd
}

func newWatcher(cmdCtx *CommandContext, dagID string, debounce time.Duration) (*watch.Watcher, error) {
	paths, err := cmdCtx.Engine.WatchPaths(dagID)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = cmdCtx.Cfg.Watch.Debounce
	}
	return &watch.Watcher{
		Runner:   cmdCtx.Engine,
		DAGID:    dagID,
		Paths:    paths,
		Debounce: debounce,
		Logger:   cmdCtx.Logger,
		OnRun: func(result *pipeline.RunResult, err error) {
			reportWatchRun(cmdCtx, result, err)
		},
	}, nil
}

func reportWatchRun(cmdCtx *CommandContext, result *pipeline.RunResult, err error) {
	r := cmdCtx.Renderer
	switch {
	case result == nil || result.Run == nil:
		r.Error(fmt.Sprintf("run not started: %v", err))
	case err != nil:
		r.Error(fmt.Sprintf("run %s failed: %v", result.Run.ID, err))
	default:
		r.Success(fmt.Sprintf("run %s succeeded", result.Run.ID))
	}
}
