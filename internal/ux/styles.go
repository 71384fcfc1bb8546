package ux

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
)

var (
	primaryColor   = lipgloss.Color("86")
	secondaryColor = lipgloss.Color("8")
	successColor   = lipgloss.Color("2")
	warningColor   = lipgloss.Color("3")
	errorColor     = lipgloss.Color("1")
	activeColor    = lipgloss.Color("12")

	// TitleStyle for command headings
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// HeaderStyle for section headings within a report
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(activeColor)

	// MutedStyle for labels and hints
	MutedStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	// SuccessStyle for success messages
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for things that need attention but are not failures
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for error messages
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// BoxStyle for summary panels
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
)

// StatusSymbol returns the one-character marker used for a task status.
func StatusSymbol(s domain.TaskStatus) string {
	switch s {
	case domain.StatusCompleted:
		return "✓"
	case domain.StatusFailed:
		return "✗"
	case domain.StatusInProgress:
		return "▶"
	case domain.StatusSkipped:
		return "⊘"
	default:
		return "○"
	}
}

// StatusStyle returns the color a task status is rendered in.
func StatusStyle(s domain.TaskStatus) lipgloss.Style {
	switch s {
	case domain.StatusCompleted:
		return SuccessStyle
	case domain.StatusFailed:
		return ErrorStyle
	case domain.StatusInProgress:
		return lipgloss.NewStyle().Foreground(activeColor)
	case domain.StatusSkipped:
		return MutedStyle
	default:
		return lipgloss.NewStyle()
	}
}

// RenderStatus renders a status with its symbol and color.
func RenderStatus(s domain.TaskStatus) string {
	return StatusStyle(s).Render(StatusSymbol(s) + " " + string(s))
}
