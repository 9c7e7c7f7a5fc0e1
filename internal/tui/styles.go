package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used by live views.
type Styles struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Text    lipgloss.Style
	Muted   lipgloss.Style
	Accent  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

// DefaultStyles returns the default palette.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F9FAFB")).Bold(true),
		Header:  lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).Bold(true),
		Text:    lipgloss.NewStyle().Foreground(lipgloss.Color("#F9FAFB")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
	}
}
