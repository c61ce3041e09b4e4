package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Styles are the lipgloss styles used by the renderer.
type Styles struct {
	Header1   lipgloss.Style
	Header2   lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Info      lipgloss.Style
	ModelPath lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusPending lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Header1:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginBottom(1),
		Header2:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Bold:      r.NewStyle().Bold(true),
		Muted:     r.NewStyle().Foreground(lipgloss.Color("8")),
		Success:   r.NewStyle().Foreground(lipgloss.Color("10")),
		Error:     r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Warning:   r.NewStyle().Foreground(lipgloss.Color("11")),
		Info:      r.NewStyle().Foreground(lipgloss.Color("12")),
		ModelPath: r.NewStyle().Foreground(lipgloss.Color("13")),

		StatusSuccess: r.NewStyle().Foreground(lipgloss.Color("10")),
		StatusFailed:  r.NewStyle().Foreground(lipgloss.Color("9")),
		StatusPending: r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Status picks the style for a run, task or check state.
func (s *Styles) Status(status string) lipgloss.Style {
	switch status {
	case string(core.TaskStateSuccess), string(core.CheckPass), "ok":
		return s.StatusSuccess
	case string(core.TaskStateFailed), string(core.TaskStateUpstreamFailed), string(core.CheckFail), string(core.CheckError):
		return s.StatusFailed
	case string(core.CheckWarn):
		return s.Warning
	default:
		return s.StatusPending
	}
}

// Title turns a snake_case state into display text: "upstream_failed"
// becomes "Upstream Failed".
func Title(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}

// FormatHeader renders a markdown heading.
func FormatHeader(level int, text string) string {
	if level < 1 {
		level = 1
	}
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue joins a key and value for plain output.
func FormatKeyValue(key string, value any) string {
	return fmt.Sprintf("%s %v", key, value)
}
