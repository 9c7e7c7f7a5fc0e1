package connection

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryConnectionReadWrite(t *testing.T) {
	conn := NewMemoryConnection(WithRegion(0x82000000, 0x100))
	ctx := context.Background()

	if err := conn.WriteBytes(ctx, 0x82000010, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteBytes failed: %v", err)
	}

	buf := make([]byte, 4)
	if err := conn.ReadBytes(ctx, 0x82000010, buf, 0, nil); err != nil {
		t.Fatalf("ReadBytes failed: %v", err)
	}
	if string(buf) != "\x01\x02\x03\x04" {
		t.Errorf("read back % X", buf)
	}

	stats := conn.Stats()
	if stats.ReadCalls != 1 || stats.WriteCalls != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestReadBytesChunksAndReportsProgress(t *testing.T) {
	conn := NewMemoryConnection(WithRegion(0x1000, 0x100))
	var reports [][2]int

	buf := make([]byte, 10)
	err := conn.ReadBytes(context.Background(), 0x1000, buf, 4, func(done, total int) {
		reports = append(reports, [2]int{done, total})
	})
	if err != nil {
		t.Fatalf("ReadBytes failed: %v", err)
	}

	if got := conn.Stats().ReadChunks; got != 3 {
		t.Errorf("expected 3 chunks, got %d", got)
	}
	want := [][2]int{{4, 10}, {8, 10}, {10, 10}}
	if len(reports) != len(want) {
		t.Fatalf("expected %d progress reports, got %v", len(want), reports)
	}
	for i := range want {
		if reports[i] != want[i] {
			t.Errorf("report %d = %v, want %v", i, reports[i], want[i])
		}
	}
}

func TestReadBytesCancelledBetweenChunks(t *testing.T) {
	conn := NewMemoryConnection(WithRegion(0, 0x100), WithLatency(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	buf := make([]byte, 64)
	err := conn.ReadBytes(ctx, 0, buf, 8, func(done, total int) {
		if done == 8 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := conn.Stats().ReadChunks; got != 1 {
		t.Errorf("expected transfer to stop after 1 chunk, got %d", got)
	}
}

func TestReadOutOfRange(t *testing.T) {
	conn := NewMemoryConnection(WithRegion(0x1000, 0x10))
	err := conn.ReadBytes(context.Background(), 0x100C, make([]byte, 8), 0, nil)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestClosedConnectionFails(t *testing.T) {
	conn := NewMemoryConnection(WithRegion(0, 0x10))
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !conn.IsClosed() || conn.IsConnected() {
		t.Fatal("expected closed, disconnected connection")
	}
	if err := conn.ReadBytes(context.Background(), 0, make([]byte, 1), 0, nil); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestInjectedFaultsPropagate(t *testing.T) {
	conn := NewMemoryConnection(WithRegion(0, 0x10))
	boom := errors.New("timeout")
	conn.FailWrites(boom)

	if err := conn.WriteBytes(context.Background(), 0, []byte{1}); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	conn.FailWrites(nil)
	if err := conn.WriteBytes(context.Background(), 0, []byte{1}); err != nil {
		t.Errorf("unexpected error after clearing fault: %v", err)
	}
}

func TestTryGetFeature(t *testing.T) {
	conn := NewMemoryConnection(WithModule("default.xex", 0x82000000))

	resolver, ok := TryGetFeature[ModuleResolver](conn)
	if !ok {
		t.Fatal("expected ModuleResolver feature")
	}
	base, err := resolver.ModuleBase(context.Background(), "Default.xex")
	if err != nil || base != 0x82000000 {
		t.Errorf("ModuleBase = %08X, %v", base, err)
	}

	if _, ok := TryGetFeature[interface{ Reboot() }](conn); ok {
		t.Error("did not expect Reboot feature")
	}

	provided := &featureConn{Connection: conn, extra: stubFeature{}}
	if _, ok := TryGetFeature[interface{ Stub() }](provided); !ok {
		t.Error("expected feature from provider")
	}
}

type stubFeature struct{}

func (stubFeature) Stub() {}

type featureConn struct {
	Connection
	extra any
}

func (f *featureConn) Features() []any { return []any{f.extra} }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("fake", func(opts Options) (Connection, error) {
		return NewMemoryConnection(WithRegion(opts.BaseAddress, opts.MemorySize)), nil
	})

	if err := r.Register("fake", nil); err == nil {
		t.Error("expected duplicate registration error")
	}
	conn, err := r.Open("fake", Options{BaseAddress: 0x10, MemorySize: 4})
	if err != nil || conn == nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := r.Open("missing", Options{}); err == nil {
		t.Error("expected error for unknown type")
	}

	if _, err := Open("memory", Options{MemorySize: 16}); err != nil {
		t.Errorf("default memory backend failed: %v", err)
	}
}
