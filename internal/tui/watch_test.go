package tui

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/datavalue"
	"github.com/opencode-ai/memengine/internal/engine"
	"github.com/opencode-ai/memengine/internal/logging"
)

const testBase = 0x82000000

func TestMain(m *testing.M) {
	logging.SetLogger(zerolog.Nop())
	os.Exit(m.Run())
}

func newTestRefresher(t *testing.T) *engine.Refresher {
	t.Helper()
	device := connection.NewMemoryConnection(connection.WithRegion(testBase, 0x100))
	require.NoError(t, device.Poke(testBase+0x10, []byte{0, 0, 0, 7}))

	eng := engine.New(engine.DefaultConfig())
	ctx := context.Background()
	token, err := eng.BusyLock().Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, eng.SetConnection(ctx, token, device))
	token.Release()

	r := engine.NewRefresher(engine.RefresherConfig{Interval: time.Hour}, eng)
	r.Watch("score", address.MustParse("82000010"), datavalue.Int32(0), datavalue.DisplayNormal)
	r.Watch("lives", address.MustParse("82000000->4"), datavalue.Int32(0), datavalue.DisplayNormal)
	return r
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestWatchModelRendersRefresh(t *testing.T) {
	r := newTestRefresher(t)
	m := NewWatchModel(r, "watch")
	assert.Contains(t, m.View(), "Last updated: --")

	ev := r.Tick(context.Background())
	updated, cmd := m.Update(RefreshMsg(ev))
	require.NotNil(t, cmd)

	view := updated.View()
	assert.Contains(t, view, "score")
	assert.Contains(t, view, "82000010")
	assert.Contains(t, view, "7")
	assert.Contains(t, view, "??")
	assert.NotContains(t, view, "Last updated: --")
}

func TestWatchModelCountsBusySkips(t *testing.T) {
	r := newTestRefresher(t)
	m := NewWatchModel(r, "watch")

	updated, _ := m.Update(RefreshMsg(engine.RefreshEvent{Skipped: true, Timestamp: time.Now()}))
	assert.Contains(t, updated.View(), "1 busy skips")
	assert.Contains(t, updated.View(), "Last updated: --")
}

func TestWatchModelQuitKeys(t *testing.T) {
	m := NewWatchModel(newTestRefresher(t), "watch")
	for _, k := range []tea.KeyMsg{key("q"), {Type: tea.KeyEsc}, {Type: tea.KeyCtrlC}} {
		_, cmd := m.Update(k)
		require.NotNil(t, cmd, k.String())
		assert.Equal(t, tea.QuitMsg{}, cmd(), k.String())
	}
}

func TestWatchModelPauseToggle(t *testing.T) {
	r := newTestRefresher(t)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	m := NewWatchModel(r, "watch")
	updated, _ := m.Update(key("p"))
	assert.True(t, r.Stats().Paused)
	assert.True(t, strings.Contains(updated.View(), "paused"))

	updated, _ = updated.Update(key("p"))
	assert.False(t, r.Stats().Paused)
	assert.NotContains(t, updated.View(), "paused")
}
