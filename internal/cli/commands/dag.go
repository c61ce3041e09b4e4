package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/leapflow/internal/cli/output"
	"github.com/leapstack-labs/leapflow/internal/dags"
	"github.com/spf13/cobra"
)

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag [dag]",
		Short: "Show a pipeline's task graph",
		Long: `Display the task graph of a pipeline.

Tasks are grouped by execution level, showing which tasks can run
in parallel and their dependency relationships.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the default DAG
  leapflow dag

  # Output as JSON
  leapflow dag retail --output json

  # Output as Markdown
  leapflow dag --output markdown`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeDAGs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDAG(cmd, args)
		},
	}

	return cmd
}

func runDAG(cmd *cobra.Command, args []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := cmdCtx.Engine.Describe(dagArg(cmdCtx.Cfg, args))
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(summary)
	case output.ModeMarkdown:
		return dagMarkdown(r, summary)
	default:
		return dagText(r, summary)
	}
}

// edgesOf indexes a summary's edges by task.
func edgesOf(s *dags.Summary) (parents, children map[string][]string) {
	parents = make(map[string][]string)
	children = make(map[string][]string)
	for _, e := range s.Edges {
		children[e[0]] = append(children[e[0]], e[1])
		parents[e[1]] = append(parents[e[1]], e[0])
	}
	return parents, children
}

func schedule(s *dags.Summary) string {
	if s.Schedule == nil {
		return "none (manual, api or watch triggers)"
	}
	return *s.Schedule
}

// dagText outputs DAG in styled text format.
func dagText(r *output.Renderer, s *dags.Summary) error {
	styles := r.Styles()
	parents, children := edgesOf(s)

	r.Header(1, "DAG "+s.ID)
	if s.Description != "" {
		r.Println(styles.Muted.Render(s.Description))
	}
	r.KeyValue("Schedule", schedule(s))
	r.KeyValue("Start date", s.StartDate.Format(time.DateOnly))
	r.KeyValue("Catchup", s.Catchup)
	if len(s.Tags) > 0 {
		r.KeyValue("Tags", strings.Join(s.Tags, ", "))
	}
	r.Println("")

	for i, level := range s.Levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, task := range level {
			r.Printf("  %s\n", styles.ModelPath.Render(task))
			if deps := parents[task]; len(deps) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(deps, ", "))
			}
			if next := children[task]; len(next) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("feeds:"), strings.Join(next, ", "))
			}
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d tasks, %d dependencies", s.Tasks, len(s.Edges))))

	return nil
}

// dagMarkdown outputs DAG in markdown format.
func dagMarkdown(r *output.Renderer, s *dags.Summary) error {
	parents, children := edgesOf(s)

	r.Println(output.FormatHeader(1, "DAG "+s.ID))
	r.Println("")
	if s.Description != "" {
		r.Println(s.Description)
		r.Println("")
	}

	for i, level := range s.Levels {
		levelName := fmt.Sprintf("Level %d", i)
		if i == 0 {
			levelName = "Level 0 (Entry)"
		}
		r.Println(output.FormatHeader(2, levelName))

		for _, task := range level {
			r.Printf("- %s\n", task)
			if deps := parents[task]; len(deps) > 0 {
				r.Printf("  - depends on: %s\n", strings.Join(deps, ", "))
			}
			if next := children[task]; len(next) > 0 {
				r.Printf("  - feeds: %s\n", strings.Join(next, ", "))
			}
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Schedule", schedule(s)))
	r.Println(output.FormatKeyValue("Total Tasks", fmt.Sprintf("%d", s.Tasks)))
	r.Println(output.FormatKeyValue("Total Dependencies", fmt.Sprintf("%d", len(s.Edges))))

	return nil
}

// NewDAGsCommand creates the dags command.
func NewDAGsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dags",
		Short: "List registered pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContextWithoutEngine(cmd)
			if err != nil {
				return err
			}
			r := cmdCtx.Renderer

			type dagInfo struct {
				ID          string   `json:"id"`
				Description string   `json:"description"`
				Stages      []string `json:"stages"`
				Default     bool     `json:"default"`
			}
			defs := dags.List()
			infos := make([]dagInfo, 0, len(defs))
			for _, d := range defs {
				infos = append(infos, dagInfo{d.ID, d.Description, d.Stages, d.ID == dagArg(cmdCtx.Cfg, nil)})
			}

			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(infos)
			}
			rows := make([][]any, 0, len(infos))
			for _, d := range infos {
				id := d.ID
				if d.Default {
					id += " (default)"
				}
				rows = append(rows, []any{id, len(d.Stages), d.Description})
			}
			r.Table([]string{"DAG", "Stages", "Description"}, rows)
			return nil
		},
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dag]",
		Short: "Check a pipeline without running it",
		Long: `Build a pipeline and check its topology and task configuration:
stage order, source files, check directories, model selections and
connections. Nothing is executed.`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeDAGs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			dagID := dagArg(cmdCtx.Cfg, args)
			p, err := cmdCtx.Engine.Validate(dagID)
			if err != nil {
				return err
			}
			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(map[string]any{"dag": dagID, "valid": true, "tasks": p.Len()})
			}
			r.Success(fmt.Sprintf("dag %s is valid (%d tasks)", dagID, p.Len()))
			return nil
		},
	}
}
