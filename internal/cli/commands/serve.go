package commands

import (
	"github.com/leapstack-labs/leapflow/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var (
		addr      string
		watchDAGs bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Start the HTTP API for listing pipelines, triggering runs and reading
run history. Runs triggered over HTTP are rate limited by server.rate_limit
and server.burst.

Endpoints:
  GET  /healthz
  GET  /api/v1/dags
  GET  /api/v1/dags/{dag}
  GET  /api/v1/dags/{dag}/runs
  POST /api/v1/dags/{dag}/runs
  GET  /api/v1/runs
  GET  /api/v1/runs/{run}
  GET  /api/v1/events`,
		Example: `  leapflow serve
  leapflow serve --addr :9090 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := server.New(server.Config{Engine: cmdCtx.Engine, Addr: addr, Logger: cmdCtx.Logger})

			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.Go(func() error { return srv.Serve(ctx) })
			if watchDAGs {
				w, err := newWatcher(cmdCtx, dagArg(cmdCtx.Cfg, nil), 0)
				if err != nil {
					return err
				}
				eg.Go(func() error { return w.Watch(ctx) })
			}
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")
	cmd.Flags().BoolVar(&watchDAGs, "watch", false, "Also run the default dag when its sources change")
	return cmd
}
