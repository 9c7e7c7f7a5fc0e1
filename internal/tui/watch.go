// Package tui implements live terminal views for memengine.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/opencode-ai/memengine/internal/engine"
)

const (
	labelWidth    = 28
	resolvedWidth = 10
	valueWidth    = 24
	staleAfter    = 5 * time.Second
)

// RefreshMsg carries one refresher pass into the program.
type RefreshMsg engine.RefreshEvent

type tickMsg time.Time

// WatchModel shows the refresher's watch table and redraws on every pass.
type WatchModel struct {
	refresher *engine.Refresher
	title     string
	styles    Styles

	entries     []engine.WatchEntry
	lastUpdated time.Time
	now         time.Time
	failed      int
	skipped     int
	paused      bool
	width       int
	height      int
}

// NewWatchModel builds a model over a started refresher.
func NewWatchModel(refresher *engine.Refresher, title string) WatchModel {
	return WatchModel{
		refresher: refresher,
		title:     title,
		styles:    DefaultStyles(),
		entries:   refresher.Entries(),
		now:       time.Now(),
	}
}

// RunWatch runs the live view until the user quits or ctx is done.
func RunWatch(ctx context.Context, refresher *engine.Refresher, title string) error {
	program := tea.NewProgram(NewWatchModel(refresher, title), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(waitForRefresh(m.refresher.Events()), tickCmd())
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "p":
			if m.paused {
				if err := m.refresher.Resume(); err == nil {
					m.paused = false
				}
			} else if err := m.refresher.Pause(); err == nil {
				m.paused = true
			}
		case "r":
			_ = m.refresher.RefreshNow()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case RefreshMsg:
		if msg.Skipped {
			m.skipped++
		} else {
			m.entries = m.refresher.Entries()
			m.lastUpdated = msg.Timestamp
			m.failed = msg.Failed
		}
		return m, waitForRefresh(m.refresher.Events())
	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()
	}
	return m, nil
}

func (m WatchModel) View() string {
	lines := []string{m.styles.Title.Render(m.title), ""}

	lines = append(lines, m.styles.Header.Render(m.row("ADDRESS", "RESOLVED", "VALUE")))
	for _, e := range m.entries {
		lines = append(lines, m.entryLine(e))
	}

	lines = append(lines, "", m.styles.Muted.Render(m.statusLine()))
	lines = append(lines, m.styles.Muted.Render("p pause | r refresh | q quit"))
	return strings.Join(lines, "\n") + "\n"
}

func (m WatchModel) row(label, resolved, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(labelWidth).Render(truncate(label, labelWidth-1)),
		lipgloss.NewStyle().Width(resolvedWidth).Render(resolved),
		lipgloss.NewStyle().Width(valueWidth).Render(truncate(value, valueWidth-1)),
	)
}

func (m WatchModel) entryLine(e engine.WatchEntry) string {
	switch {
	case e.Err != "":
		return m.row(e.Label, "", "") + m.styles.Error.Render(e.Err)
	case e.Unresolved:
		return m.styles.Warning.Render(m.row(e.Label, "", "??"))
	case e.Value == nil:
		return m.styles.Muted.Render(m.row(e.Label, "", "-"))
	default:
		return m.styles.Text.Render(m.row(e.Label, fmt.Sprintf("%08X", e.Resolved), e.FormattedValue()))
	}
}

func (m WatchModel) statusLine() string {
	parts := []string{m.lastUpdatedLine()}
	if m.failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", m.failed))
	}
	if m.skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d busy skips", m.skipped))
	}
	if m.paused {
		parts = append(parts, "paused")
	}
	return strings.Join(parts, " | ")
}

func (m WatchModel) lastUpdatedLine() string {
	if m.lastUpdated.IsZero() {
		return "Last updated: --"
	}
	label := m.lastUpdated.Local().Format("15:04:05")
	if !m.now.IsZero() && m.now.Sub(m.lastUpdated) > staleAfter {
		label += " (stale)"
	}
	return "Last updated: " + label
}

func waitForRefresh(events <-chan engine.RefreshEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return RefreshMsg(ev)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
