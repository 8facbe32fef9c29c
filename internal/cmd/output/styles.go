package output

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/planstore/internal/plan"
)

var (
	// Colors meet WCAG AA contrast on dark terminals.
	PrimaryColor = lipgloss.Color("#A78BFA") // Purple
	SuccessColor = lipgloss.Color("#10B981") // Green
	WarningColor = lipgloss.Color("#F59E0B") // Amber
	ErrorColor   = lipgloss.Color("#F87171") // Red
	MutedColor   = lipgloss.Color("#9CA3AF") // Gray
	InfoColor    = lipgloss.Color("#60A5FA") // Blue

	Title   = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
	Success = lipgloss.NewStyle().Foreground(SuccessColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Error   = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Info    = lipgloss.NewStyle().Foreground(InfoColor)

	Section = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(MutedColor)
)

// StatusStyle returns the style used to render a plan status.
func StatusStyle(s plan.Status) lipgloss.Style {
	switch s {
	case plan.StatusCompleted:
		return Success
	case plan.StatusInProgress:
		return Info
	case plan.StatusFailed:
		return Error
	default:
		return Muted
	}
}

// StatusIcon returns a one-character marker for a plan status.
func StatusIcon(s plan.Status) string {
	switch s {
	case plan.StatusCompleted:
		return "✓"
	case plan.StatusInProgress:
		return "●"
	case plan.StatusFailed:
		return "✗"
	default:
		return "○"
	}
}
