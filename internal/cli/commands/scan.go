package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapflow/internal/cli/output"
	"github.com/leapstack-labs/leapflow/internal/engine"
	"github.com/leapstack-labs/leapflow/internal/quality"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/spf13/cobra"
)

// ScanOptions holds options for the scan command.
type ScanOptions struct {
	Spec       core.ScanSpec
	JSONOutput bool
}

// NewScanCommand creates the scan command.
func NewScanCommand() *cobra.Command {
	opts := &ScanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one quality scan",
		Long: `Evaluate the checks under <checks-root>/<checks-subpath> against a data
source from the scan configuration.

Quality gates run this command as a subprocess with --json; the result is
printed to stdout and the exit code is zero whenever a result was produced.
Without --json a scan with failed or errored checks exits non-zero.`,
		Example: `  # Scan the transformed tables
  leapflow scan --scan-name check_transform --checks-subpath transform

  # Machine-readable result
  leapflow scan --scan-name adhoc --checks-subpath report --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Spec.ScanName, "scan-name", "", "Name recorded with the results")
	f.StringVar(&opts.Spec.ChecksSubpath, "checks-subpath", "", "Directory of checks under the checks root")
	f.StringVar(&opts.Spec.ChecksRoot, "checks-root", "include/soda/checks", "Root directory of the checks")
	f.StringVar(&opts.Spec.Configuration, "configuration", "include/soda/configuration.yml", "Scan configuration file")
	f.StringVar(&opts.Spec.DataSource, "data-source", "", "Data source name (default: the only one configured)")
	f.BoolVar(&opts.JSONOutput, "json", false, "Print the scan result as JSON")
	_ = cmd.MarkFlagRequired("checks-subpath")

	return cmd
}

func runScan(cmd *cobra.Command, opts *ScanOptions) error {
	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return err
	}
	spec := opts.Spec
	if spec.ScanName == "" {
		spec.ScanName = spec.ChecksSubpath
	}

	res, err := engine.ScanProject(cmd.Context(), cmdCtx.Cfg, engine.Options{Logger: cmdCtx.Logger}, spec)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if opts.JSONOutput || r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(res); err != nil {
			return err
		}
		if opts.JSONOutput {
			return nil
		}
		return quality.Gate(res)
	}

	r.Header(1, "Scan "+res.ScanName)
	r.KeyValue("Data source", res.DataSource)
	r.KeyValue("Checks", fmt.Sprintf("%d pass, %d warn, %d fail, %d error",
		res.Counts.Pass, res.Counts.Warn, res.Counts.Fail, res.Counts.Error))
	r.Println()
	if len(res.Results) > 0 {
		renderChecks(r, res.Results)
	}

	if err := quality.Gate(res); err != nil {
		return err
	}
	r.Success(fmt.Sprintf("scan %s passed", res.ScanName))
	return nil
}
