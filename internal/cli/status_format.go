package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/opencode-ai/memengine/internal/models"
	"github.com/opencode-ai/memengine/internal/sequencing"
)

var (
	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	styleBusy = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func formatRunState(state models.RunState) string {
	label, style := statusLabelForRun(state)
	return colorize(formatStatusLabel(label, string(state)), style)
}

func formatSequenceState(state sequencing.State) string {
	label, style := statusLabelForSequence(state)
	return colorize(formatStatusLabel(label, strings.ToLower(state.String())), style)
}

func statusLabelForRun(state models.RunState) (string, lipgloss.Style) {
	switch state {
	case models.RunStateCompleted:
		return "OK", styleOK
	case models.RunStateRunning:
		return "BUSY", styleBusy
	case models.RunStateCancelled:
		return "WARN", styleWarn
	case models.RunStateFaulted:
		return "ERR", styleErr
	default:
		return "WARN", styleWarn
	}
}

func statusLabelForSequence(state sequencing.State) (string, lipgloss.Style) {
	switch state {
	case sequencing.StateCompleted:
		return "OK", styleOK
	case sequencing.StateRunning:
		return "BUSY", styleBusy
	case sequencing.StateCancelled:
		return "WARN", styleWarn
	case sequencing.StateFaulted:
		return "ERR", styleErr
	default:
		return "-", styleDim
	}
}

func formatStatusLabel(label, status string) string {
	normalized := strings.TrimSpace(status)
	if normalized != "" {
		normalized = strings.ReplaceAll(normalized, "_", " ")
	}
	if normalized == "" {
		return label
	}
	return fmt.Sprintf("%s %s", label, normalized)
}

func colorize(text string, style lipgloss.Style) string {
	if !colorEnabled() {
		return text
	}
	return style.Render(text)
}

func colorEnabled() bool {
	if noColor || IsJSONOutput() || IsJSONLOutput() {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return hasTTY()
}
