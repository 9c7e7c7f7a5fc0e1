package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/datavalue"
)

func newTestEngine(t *testing.T) (*MemoryEngine, *connection.MemoryConnection) {
	t.Helper()
	e := New(Config{AcquireTimeout: 50 * time.Millisecond})
	conn := connection.NewMemoryConnection(connection.WithRegion(0x82000000, 0x1000))

	token := e.BusyLock().TryAcquire()
	require.NotNil(t, token)
	require.NoError(t, e.SetConnection(context.Background(), token, conn))
	token.Release()
	return e, conn
}

func TestReadWriteValueNow(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	addr := address.MustParse("82000010")

	require.NoError(t, e.WriteValueNow(ctx, addr, datavalue.Int32(1234), false))
	got, err := e.ReadValueNow(ctx, addr, datavalue.Int32(0))
	require.NoError(t, err)
	assert.True(t, got.Equal(datavalue.Int32(1234)), "got %v", got)

	require.NoError(t, e.WriteValueNow(ctx, addr, datavalue.String{Text: "abc", Encoding: datavalue.ASCII}, true))
	str, err := e.ReadValueNow(ctx, addr, datavalue.String{Text: "xxxx", Encoding: datavalue.ASCII})
	require.NoError(t, err)
	assert.Equal(t, "abc", str.String())
	assert.False(t, e.BusyLock().IsBusy())
}

func TestReadValueNowBusy(t *testing.T) {
	e, _ := newTestEngine(t)
	holder := e.BusyLock().TryAcquire()
	defer holder.Release()

	_, err := e.ReadValueNow(context.Background(), address.MustParse("82000010"), datavalue.Byte(0))
	assert.ErrorIs(t, err, ErrBusy)
}

func TestReadValueUnresolvable(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.ReadValueNow(context.Background(), address.MustParse("82000010->4"), datavalue.Int32(0))
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestSetConnectionRequiresToken(t *testing.T) {
	e := New(DefaultConfig())
	conn := connection.NewMemoryConnection()

	assert.ErrorIs(t, e.SetConnection(context.Background(), nil, conn), ErrInvalidToken)

	other := New(DefaultConfig()).BusyLock().TryAcquire()
	defer other.Release()
	assert.ErrorIs(t, e.SetConnection(context.Background(), other, conn), ErrInvalidToken)

	token := e.BusyLock().TryAcquire()
	token.Release()
	assert.ErrorIs(t, e.SetConnection(context.Background(), token, conn), ErrInvalidToken, "released token must be rejected")
}

func TestSetConnectionNotifiesAndClosesOld(t *testing.T) {
	e, first := newTestEngine(t)
	second := connection.NewMemoryConnection()

	var (
		calls   []string
		changes []ConnectionChange
	)
	e.OnConnectionChanging(func(_ context.Context, change ConnectionChange) {
		calls = append(calls, "changing")
		changes = append(changes, change)
	})
	unsubscribe := e.OnConnectionChanged(func(_ context.Context, change ConnectionChange) {
		calls = append(calls, "changed")
	})

	token := e.BusyLock().TryAcquire()
	require.NoError(t, e.SetConnection(context.Background(), token, second))
	token.Release()

	assert.Equal(t, []string{"changing", "changed"}, calls)
	require.Len(t, changes, 1)
	assert.Same(t, first, changes[0].Old)
	assert.Same(t, second, changes[0].New)
	assert.True(t, first.IsClosed())
	assert.Same(t, second, e.Connection())

	unsubscribe()
	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, []string{"changing", "changed", "changing"}, calls)
	assert.Nil(t, e.Connection())
}

func TestNoConnection(t *testing.T) {
	e := New(DefaultConfig())
	_, err := e.ReadValueNow(context.Background(), address.MustParse("0"), datavalue.Byte(0))
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestRefresherTick(t *testing.T) {
	e, conn := newTestEngine(t)
	require.NoError(t, conn.Poke(0x82000010, []byte{0, 0, 0, 42}))

	r := NewRefresher(DefaultRefresherConfig(), e)
	id := r.Watch("health", address.MustParse("82000010"), datavalue.Int32(0), datavalue.DisplayNormal)
	r.Watch("chain", address.MustParse("82000020->8"), datavalue.Int32(0), datavalue.DisplayNormal)

	event := r.Tick(context.Background())
	assert.False(t, event.Skipped)
	assert.Equal(t, 2, event.Entries)
	assert.Equal(t, 0, event.Failed)

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "42", entries[0].FormattedValue())
	assert.True(t, entries[1].Unresolved)
	assert.False(t, e.BusyLock().IsBusy())

	require.NoError(t, r.Unwatch(id))
	assert.ErrorIs(t, r.Unwatch(id), ErrEntryNotFound)
}

func TestRefresherSkipsWhenBusy(t *testing.T) {
	e, conn := newTestEngine(t)
	r := NewRefresher(DefaultRefresherConfig(), e)
	r.Watch("x", address.MustParse("82000010"), datavalue.Int32(0), datavalue.DisplayHexadecimal)

	holder := e.BusyLock().TryAcquire()
	conn.ResetStats()
	event := r.Tick(context.Background())
	holder.Release()

	assert.True(t, event.Skipped)
	assert.Zero(t, conn.Stats().ReadCalls)
	assert.Equal(t, int64(1), r.Stats().SkippedBusy)
}

func TestRefresherRecordsReadFailures(t *testing.T) {
	e, conn := newTestEngine(t)
	r := NewRefresher(DefaultRefresherConfig(), e)
	r.Watch("x", address.MustParse("82000010"), datavalue.Int32(0), datavalue.DisplayNormal)

	conn.FailReads(errors.New("link down"))
	event := r.Tick(context.Background())
	assert.Equal(t, 1, event.Failed)
	assert.Contains(t, r.Entries()[0].Err, "link down")
}

func TestRefresherLoop(t *testing.T) {
	e, _ := newTestEngine(t)
	r := NewRefresher(RefresherConfig{Interval: 5 * time.Millisecond}, e)
	r.Watch("x", address.MustParse("82000010"), datavalue.Byte(0), datavalue.DisplayNormal)

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrRefresherAlreadyRunning)

	select {
	case ev := <-r.Events():
		assert.Equal(t, 1, ev.Entries)
	case <-time.After(time.Second):
		t.Fatal("no refresh event")
	}

	require.NoError(t, r.Pause())
	require.NoError(t, r.Resume())
	require.NoError(t, r.RefreshNow())
	require.NoError(t, r.Stop())
	assert.ErrorIs(t, r.Stop(), ErrRefresherNotRunning)
	assert.False(t, r.Stats().Running)
	assert.Positive(t, r.Stats().Passes)
}
