package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Region is a mapped span of simulated device memory.
type Region struct {
	Base uint32
	Data []byte
}

func (r *Region) contains(address uint32, n int) bool {
	start := uint64(address)
	end := start + uint64(n)
	return start >= uint64(r.Base) && end <= uint64(r.Base)+uint64(len(r.Data))
}

// MemoryStats counts transfers issued against a MemoryConnection.
type MemoryStats struct {
	ReadCalls   int
	WriteCalls  int
	ReadChunks  int
	WriteChunks int
	BytesRead   int
	BytesWrote  int
}

// MemoryConnection is an in-process device backed by byte slices. It serves
// tests, dry runs and the memd daemon's simulated target.
type MemoryConnection struct {
	mu           sync.Mutex
	regions      []*Region
	modules      map[string]uint32
	littleEndian bool
	closed       bool
	connected    bool
	frozen       bool
	latency      time.Duration
	readErr      error
	writeErr     error
	stats        MemoryStats
	readLog      []uint32
}

// MemoryOption configures a MemoryConnection.
type MemoryOption func(*MemoryConnection)

// WithLittleEndian sets the simulated byte order.
func WithLittleEndian(little bool) MemoryOption {
	return func(m *MemoryConnection) {
		m.littleEndian = little
	}
}

// WithRegion maps size zeroed bytes at base.
func WithRegion(base uint32, size int) MemoryOption {
	return func(m *MemoryConnection) {
		m.regions = append(m.regions, &Region{Base: base, Data: make([]byte, size)})
	}
}

// WithModule registers a module base for ModuleBase lookups.
func WithModule(name string, base uint32) MemoryOption {
	return func(m *MemoryConnection) {
		m.modules[strings.ToLower(name)] = base
	}
}

// WithLatency delays every chunk transfer.
func WithLatency(d time.Duration) MemoryOption {
	return func(m *MemoryConnection) {
		m.latency = d
	}
}

// NewMemoryConnection creates a connected simulated device.
func NewMemoryConnection(opts ...MemoryOption) *MemoryConnection {
	m := &MemoryConnection{
		modules:   make(map[string]uint32),
		connected: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReadBytes implements Connection.
func (m *MemoryConnection) ReadBytes(ctx context.Context, address uint32, buf []byte, chunkSize int, progress Progress) error {
	if err := m.begin(true, address); err != nil {
		return err
	}
	return ReadChunked(ctx, m, address, buf, chunkSize, progress)
}

// WriteBytes implements Connection.
func (m *MemoryConnection) WriteBytes(ctx context.Context, address uint32, buf []byte) error {
	if err := m.begin(false, address); err != nil {
		return err
	}
	return WriteChunked(ctx, m, address, buf, DefaultChunkSize, nil)
}

func (m *MemoryConnection) begin(read bool, address uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrConnectionClosed
	}
	if !m.connected {
		return ErrNotConnected
	}
	if read {
		m.stats.ReadCalls++
		m.readLog = append(m.readLog, address)
		return m.readErr
	}
	m.stats.WriteCalls++
	return m.writeErr
}

// ReadChunk implements Transport.
func (m *MemoryConnection) ReadChunk(ctx context.Context, address uint32, buf []byte) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	region, err := m.region(address, len(buf))
	if err != nil {
		return err
	}
	off := address - region.Base
	copy(buf, region.Data[off:off+uint32(len(buf))])
	m.stats.ReadChunks++
	m.stats.BytesRead += len(buf)
	return nil
}

// WriteChunk implements Transport.
func (m *MemoryConnection) WriteChunk(ctx context.Context, address uint32, buf []byte) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	region, err := m.region(address, len(buf))
	if err != nil {
		return err
	}
	off := address - region.Base
	copy(region.Data[off:], buf)
	m.stats.WriteChunks++
	m.stats.BytesWrote += len(buf)
	return nil
}

func (m *MemoryConnection) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(m.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *MemoryConnection) region(address uint32, n int) (*Region, error) {
	for _, r := range m.regions {
		if r.contains(address, n) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %d bytes at %08X", ErrOutOfRange, n, address)
}

// Poke writes directly into simulated memory without counting a transfer.
func (m *MemoryConnection) Poke(address uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	region, err := m.region(address, len(data))
	if err != nil {
		return err
	}
	copy(region.Data[address-region.Base:], data)
	return nil
}

// Peek copies n bytes of simulated memory without counting a transfer.
func (m *MemoryConnection) Peek(address uint32, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	region, err := m.region(address, n)
	if err != nil {
		return nil, err
	}
	off := address - region.Base
	out := make([]byte, n)
	copy(out, region.Data[off:off+uint32(n)])
	return out, nil
}

// FailReads makes every subsequent ReadBytes return err. Pass nil to clear.
func (m *MemoryConnection) FailReads(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// FailWrites makes every subsequent WriteBytes return err. Pass nil to clear.
func (m *MemoryConnection) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// SetConnected simulates a link drop or recovery.
func (m *MemoryConnection) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

// Stats returns a snapshot of transfer counters.
func (m *MemoryConnection) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ReadLog returns the start address of every ReadBytes call in order.
func (m *MemoryConnection) ReadLog() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint32(nil), m.readLog...)
}

// ResetStats clears counters and the read log.
func (m *MemoryConnection) ResetStats() {
	m.mu.Lock()
	m.stats = MemoryStats{}
	m.readLog = nil
	m.mu.Unlock()
}

// IsConnected implements Connection.
func (m *MemoryConnection) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && !m.closed
}

// IsClosed implements Connection.
func (m *MemoryConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// LittleEndian implements Connection.
func (m *MemoryConnection) LittleEndian() bool {
	return m.littleEndian
}

// Close implements Connection.
func (m *MemoryConnection) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ModuleBase implements ModuleResolver.
func (m *MemoryConnection) ModuleBase(_ context.Context, name string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base, ok := m.modules[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("module %q is not loaded", name)
	}
	return base, nil
}

// Freeze implements Freezer.
func (m *MemoryConnection) Freeze(context.Context) error {
	m.mu.Lock()
	m.frozen = true
	m.mu.Unlock()
	return nil
}

// Unfreeze implements Freezer.
func (m *MemoryConnection) Unfreeze(context.Context) error {
	m.mu.Lock()
	m.frozen = false
	m.mu.Unlock()
	return nil
}

// IsFrozen implements Freezer.
func (m *MemoryConnection) IsFrozen(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen, nil
}

var (
	_ Connection     = (*MemoryConnection)(nil)
	_ Transport      = (*MemoryConnection)(nil)
	_ ModuleResolver = (*MemoryConnection)(nil)
	_ Freezer        = (*MemoryConnection)(nil)
)
