package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapflow/internal/cli/output"
	"github.com/leapstack-labs/leapflow/internal/config"
	"github.com/leapstack-labs/leapflow/internal/scaffold"
	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var (
		force    bool
		template string
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new leapflow project",
		Long: `Initialize a new leapflow project from a template.

The retail template creates:
  - leapflow.yaml with a local object store and a DuckDB warehouse
  - include/dataset/ with the online retail CSV
  - include/dbt/ with the transform and report models
  - include/soda/ with the scan configuration and checks`,
		Example: `  # Initialize in current directory
  leapflow init

  # Initialize in a new directory
  leapflow init my-project

  # Force overwrite existing files
  leapflow init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			mode := output.ModeAuto
			if cfg, err := getConfig(); err == nil {
				mode = output.Mode(cfg.OutputFormat)
			}
			// init runs before any project exists, so flags are read directly
			if f := cmd.Flags().Lookup("output"); f != nil && f.Changed {
				mode = output.Mode(f.Value.String())
			}
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

			return runInit(r, dir, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	cmd.Flags().StringVar(&template, "template", scaffold.DefaultTemplate, "Project template")
	_ = cmd.RegisterFlagCompletionFunc("template", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return scaffold.Templates(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runInit(r *output.Renderer, dir, template string, force bool) error {
	// Create directory if specified and doesn't exist
	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// Check if config already exists
	configPath := filepath.Join(dir, config.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", config.ConfigFileName)
	}

	files, err := scaffold.Copy(template, dir, force)
	if err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"dir": dir, "template": template, "files": files})
	}

	// List created files by category
	groups := scaffold.Group(files)
	for _, section := range []struct{ key, title string }{
		{"config", "Configuration"},
		{"dataset", "Dataset"},
		{"models", "Models"},
		{"checks", "Checks"},
	} {
		if len(groups[section.key]) == 0 {
			continue
		}
		r.Header(2, section.title)
		for _, f := range groups[section.key] {
			r.StatusLine(f, "success", "")
		}
		r.Println("")
	}

	r.Success("leapflow project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  leapflow validate   Check the pipeline without running it")
	r.Println("  leapflow dag        Show the task graph")
	r.Println("  leapflow run        Run the pipeline")
	r.Println("  leapflow serve      Trigger runs over HTTP")

	return nil
}
