package memd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/datavalue"
	"github.com/opencode-ai/memengine/internal/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const testBase = 0x82000000

type harness struct {
	engine *engine.MemoryEngine
	device *connection.MemoryConnection
	remote *RemoteConnection
}

func newHarness(t *testing.T, opts ...ServerOption) *harness {
	t.Helper()

	device := connection.NewMemoryConnection(
		connection.WithRegion(testBase, 0x1000),
		connection.WithModule("default.xex", testBase+0x100),
	)
	eng := engine.New(engine.DefaultConfig())
	setConnection(t, eng, device)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterMemoryServiceServer(srv, NewServer(eng, zerolog.Nop(), opts...))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	remote, err := Dial(ctx, "passthrough:///bufnet",
		WithChunkSize(16),
		WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })

	return &harness{engine: eng, device: device, remote: remote}
}

func setConnection(t *testing.T, eng *engine.MemoryEngine, conn connection.Connection) {
	t.Helper()
	ctx := context.Background()
	token, err := eng.BusyLock().Acquire(ctx)
	require.NoError(t, err)
	defer token.Release()
	require.NoError(t, eng.SetConnection(ctx, token, conn))
}

func TestRemoteReadWriteRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	require.NoError(t, h.remote.WriteBytes(ctx, testBase+8, payload))

	got, err := h.device.Peek(testBase+8, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	buf := make([]byte, len(payload))
	var progress []int
	err = h.remote.ReadBytes(ctx, testBase+8, buf, 0, func(done, total int) {
		progress = append(progress, done)
	})
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
	assert.Equal(t, []int{16, 32, 40}, progress)
}

func TestRemoteReportsDeviceState(t *testing.T) {
	h := newHarness(t, WithVersion("1.2.3"))
	ctx := context.Background()

	assert.True(t, h.remote.IsConnected())
	assert.False(t, h.remote.LittleEndian())

	st, err := h.remote.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", st.GetFields()["version"].GetStringValue())
	assert.True(t, st.GetFields()["connected"].GetBoolValue())

	at, err := h.remote.Ping(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), at, 5*time.Second)
}

func TestRemoteOutOfRange(t *testing.T) {
	h := newHarness(t)

	buf := make([]byte, 4)
	err := h.remote.ReadBytes(context.Background(), 0x10, buf, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, connection.ErrOutOfRange)
	assert.True(t, h.remote.IsConnected())
}

func TestRemoteWithoutEngineConnection(t *testing.T) {
	h := newHarness(t)
	setConnection(t, h.engine, nil)

	err := h.remote.ReadBytes(context.Background(), testBase, make([]byte, 4), 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, connection.ErrNotConnected)
	assert.False(t, h.remote.IsConnected())
}

func TestRemoteBusyEngine(t *testing.T) {
	h := newHarness(t, WithAcquireTimeout(20*time.Millisecond))

	token := h.engine.BusyLock().TryAcquire()
	require.NotNil(t, token)
	defer token.Release()

	err := h.remote.ReadBytes(context.Background(), testBase, make([]byte, 4), 0, nil)
	require.Error(t, err)
	assert.Equal(t, codes.Aborted, status.Code(err))
}

func TestRemoteFeatures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resolver, ok := connection.TryGetFeature[connection.ModuleResolver](h.remote)
	require.True(t, ok)
	base, err := resolver.ModuleBase(ctx, "default.xex")
	require.NoError(t, err)
	assert.Equal(t, uint32(testBase+0x100), base)

	_, err = resolver.ModuleBase(ctx, "missing.xex")
	assert.Error(t, err)

	freezer, ok := connection.TryGetFeature[connection.Freezer](h.remote)
	require.True(t, ok)
	require.NoError(t, freezer.Freeze(ctx))
	frozen, err := h.device.IsFrozen(ctx)
	require.NoError(t, err)
	assert.True(t, frozen)

	require.NoError(t, freezer.Unfreeze(ctx))
	frozen, err = freezer.IsFrozen(ctx)
	require.NoError(t, err)
	assert.False(t, frozen)
}

func TestRemoteAsEngineConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	client := engine.New(engine.DefaultConfig())
	setConnection(t, client, h.remote)

	addr := address.MustParse("82000010")
	require.NoError(t, client.WriteValueNow(ctx, addr, datavalue.Int32(-5), false))

	raw, err := h.device.Peek(testBase+0x10, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFB}, raw)

	v, err := client.ReadValueNow(ctx, addr, datavalue.Int32(0))
	require.NoError(t, err)
	assert.Equal(t, datavalue.Int32(-5), v)
}

func TestRemoteClosed(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.remote.Close())
	require.NoError(t, h.remote.Close())

	assert.True(t, h.remote.IsClosed())
	assert.False(t, h.remote.IsConnected())
	err := h.remote.WriteBytes(context.Background(), testBase, []byte{1})
	assert.ErrorIs(t, err, connection.ErrConnectionClosed)
}

func TestServerRejectsBadRequests(t *testing.T) {
	eng := engine.New(engine.DefaultConfig())
	s := NewServer(eng, zerolog.Nop())
	ctx := context.Background()

	req, err := structpbFrom(map[string]any{"address": float64(testBase)})
	require.NoError(t, err)
	_, err = s.ReadMemory(ctx, req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	req, err = structpbFrom(map[string]any{"address": float64(testBase), "length": float64(MaxTransferLength + 1)})
	require.NoError(t, err)
	_, err = s.ReadMemory(ctx, req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	req, err = structpbFrom(map[string]any{"address": float64(testBase), "data": "%%%"})
	require.NoError(t, err)
	_, err = s.WriteMemory(ctx, req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	req, err = structpbFrom(map[string]any{"address": -1.0, "length": 4.0})
	require.NoError(t, err)
	_, err = s.ReadMemory(ctx, req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRemoteRegisteredBackend(t *testing.T) {
	assert.Contains(t, connection.DefaultRegistry.Names(), "remote")

	_, err := connection.Open("remote", connection.Options{})
	assert.Error(t, err)
}

func structpbFrom(m map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(m)
}

func TestRemoteCanceledStatusIsConnectionError(t *testing.T) {
	r := &RemoteConnection{timeout: time.Second}

	err := r.fromStatus(context.Background(), status.Error(codes.Canceled, "grpc: the client connection is closing"))
	assert.ErrorIs(t, err, connection.ErrNotConnected)
	assert.NotErrorIs(t, err, context.Canceled)

	err = r.fromStatus(context.Background(), status.Error(codes.DeadlineExceeded, "deadline"))
	assert.ErrorIs(t, err, connection.ErrNotConnected)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.fromStatus(ctx, status.Error(codes.Canceled, "context canceled"))
	assert.ErrorIs(t, err, context.Canceled)
}
