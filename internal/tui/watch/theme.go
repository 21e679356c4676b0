// Package watch implements the herald live dispatch TUI: conversation
// phase, interrupt generation, and the event stream, fed by the control
// API's websocket.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
// Even with a single default theme, this keeps all colors in one place
// and makes future theme support trivial.
type Theme struct {
	// Phase colors
	PhaseIdle     lipgloss.Style
	PhaseActive   lipgloss.Style
	PhaseSpeaking lipgloss.Style
	PhaseFollowup lipgloss.Style

	// Event colors
	EventOK     lipgloss.Style
	EventError  lipgloss.Style
	EventNotice lipgloss.Style

	// UI elements
	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		PhaseIdle:     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		PhaseActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		PhaseSpeaking: lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PhaseFollowup: lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),

		EventOK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		EventError:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		EventNotice: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}
