package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/leapflow/internal/cli/output"
	"github.com/leapstack-labs/leapflow/internal/engine"
	"github.com/spf13/cobra"
)

// ModelsOptions selects the model groups the models subcommands act on.
type ModelsOptions struct {
	DAG   string
	Group string
}

func (o *ModelsOptions) dag(cmdCtx *CommandContext) string {
	if o.DAG != "" {
		return o.DAG
	}
	return dagArg(cmdCtx.Cfg, nil)
}

// NewModelsCommand creates the models command.
func NewModelsCommand(version string) *cobra.Command {
	opts := &ModelsOptions{}
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Work with a pipeline's transformation models",
		Long: `List, compile or run the models selected by a pipeline's model groups
without running the rest of the pipeline.`,
	}
	cmd.PersistentFlags().StringVar(&opts.DAG, "dag", "", "Pipeline whose model groups to use (default: the configured dag)")
	cmd.PersistentFlags().StringVarP(&opts.Group, "group", "g", "", "Only this model group")
	_ = cmd.RegisterFlagCompletionFunc("dag", completeDAGs)

	cmd.AddCommand(
		newModelsListCommand(opts),
		newModelsCompileCommand(opts, version),
		newModelsRunCommand(opts),
	)
	return cmd
}

func newModelsListCommand(opts *ModelsOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List selected models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sets, err := cmdCtx.Engine.ModelGroups(opts.dag(cmdCtx), opts.Group)
			if err != nil {
				return err
			}
			models := engine.Models(sets)

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(models)
			}
			rows := make([][]any, 0, len(models))
			for _, m := range models {
				rows = append(rows, []any{m.Group, m.Name, m.Materialized, m.Relation,
					strings.Join(m.Tags, ","), strings.Join(m.DependsOn, ",")})
			}
			r.Table([]string{"Group", "Model", "Materialized", "Relation", "Tags", "Depends On"}, rows)
			return nil
		},
	}
}

func newModelsCompileCommand(opts *ModelsOptions, version string) *cobra.Command {
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Render selected models to SQL and write the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			compiled, manifests, err := cmdCtx.Engine.Compile(opts.dag(cmdCtx), opts.Group, "leapflow/"+version)
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(map[string]any{"models": compiled, "manifests": manifests})
			}
			for _, c := range compiled {
				r.StatusLine(c.Group+"."+c.Model, "compiled", c.Relation)
				if showSQL {
					if r.EffectiveMode() == output.ModeMarkdown {
						r.Printf("\n```sql\n%s\n```\n\n", strings.TrimSpace(c.SQL))
					} else {
						r.Println(r.Styles().Muted.Render(strings.TrimSpace(c.SQL)))
					}
				}
			}
			for _, m := range manifests {
				r.Success("wrote " + m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSQL, "sql", false, "Print the compiled SQL")
	return cmd
}

func newModelsRunCommand(opts *ModelsOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Materialize selected models without the rest of the pipeline",
		Long: `Materialize the selected models in dependency order. Quality gates and
the upload and load steps are not run, and nothing is recorded in the
state store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			results, runErr := cmdCtx.Engine.RunModels(cmd.Context(), opts.dag(cmdCtx), opts.Group)

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				if err := r.JSON(results); err != nil {
					return err
				}
				return runErr
			}
			for _, res := range results {
				r.StatusLine(res.Model, "success",
					fmt.Sprintf("%s %s, %d rows, %s", res.Materialized, res.Relation, res.Rows, res.Duration.Round(time.Millisecond)))
			}
			if runErr != nil {
				return runErr
			}
			r.Success(fmt.Sprintf("%d models materialized", len(results)))
			return nil
		},
	}
}
