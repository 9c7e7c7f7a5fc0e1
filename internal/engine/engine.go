// Package engine owns the live device connection and the busy lock that
// serializes every access to it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/busylock"
	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/datavalue"
	"github.com/opencode-ai/memengine/internal/logging"
)

// Engine errors.
var (
	ErrNoConnection = errors.New("engine has no connection")
	ErrInvalidToken = errors.New("busy token is not held on this engine")
	ErrBusy         = errors.New("engine is busy")
	ErrUnresolvable = errors.New("address could not be resolved")
)

// Config contains engine configuration.
type Config struct {
	// ChunkSize bounds a single transfer.
	// Default: connection.DefaultChunkSize.
	ChunkSize int

	// AcquireTimeout bounds ReadValueNow/WriteValueNow lock waits.
	// Default: 5 seconds.
	AcquireTimeout time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      connection.DefaultChunkSize,
		AcquireTimeout: 5 * time.Second,
	}
}

// ConnectionChange describes a connection swap.
type ConnectionChange struct {
	Old connection.Connection
	New connection.Connection
}

// ChangeHandler runs while the caller of SetConnection holds the busy token.
// It must not try to acquire the engine's lock.
type ChangeHandler func(ctx context.Context, change ConnectionChange)

// MemoryEngine holds the shared connection and its busy lock.
type MemoryEngine struct {
	config Config
	lock   *busylock.Lock
	logger zerolog.Logger

	mu   sync.RWMutex
	conn connection.Connection

	handlersMu sync.RWMutex
	changing   map[uint64]ChangeHandler
	changed    map[uint64]ChangeHandler
	nextID     uint64
}

// New creates an engine with no connection.
func New(config Config) *MemoryEngine {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = DefaultConfig().AcquireTimeout
	}

	return &MemoryEngine{
		config:   config,
		lock:     busylock.New(),
		logger:   logging.Component("engine"),
		changing: make(map[uint64]ChangeHandler),
		changed:  make(map[uint64]ChangeHandler),
	}
}

// BusyLock returns the lock guarding the engine connection.
func (e *MemoryEngine) BusyLock() *busylock.Lock { return e.lock }

// ChunkSize returns the configured transfer chunk size.
func (e *MemoryEngine) ChunkSize() int { return e.config.ChunkSize }

// Connection returns the current connection, or nil.
func (e *MemoryEngine) Connection() connection.Connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conn
}

// OnConnectionChanging registers h to run before the connection is swapped.
// The returned func unregisters it.
func (e *MemoryEngine) OnConnectionChanging(h ChangeHandler) func() {
	return e.addHandler(e.changing, h)
}

// OnConnectionChanged registers h to run after the connection is swapped.
func (e *MemoryEngine) OnConnectionChanged(h ChangeHandler) func() {
	return e.addHandler(e.changed, h)
}

func (e *MemoryEngine) addHandler(m map[uint64]ChangeHandler, h ChangeHandler) func() {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.nextID++
	id := e.nextID
	m[id] = h
	return func() {
		e.handlersMu.Lock()
		delete(m, id)
		e.handlersMu.Unlock()
	}
}

func (e *MemoryEngine) runHandlers(ctx context.Context, m map[uint64]ChangeHandler, change ConnectionChange) {
	e.handlersMu.RLock()
	handlers := make([]ChangeHandler, 0, len(m))
	for _, h := range m {
		handlers = append(handlers, h)
	}
	e.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ctx, change)
	}
}

// SetConnection swaps the engine connection. token must be the live token of
// the engine's busy lock. The previous connection is closed.
func (e *MemoryEngine) SetConnection(ctx context.Context, token *busylock.Token, conn connection.Connection) error {
	if !e.owns(token) {
		return ErrInvalidToken
	}

	old := e.Connection()
	if old == conn {
		return nil
	}
	change := ConnectionChange{Old: old, New: conn}

	e.runHandlers(ctx, e.changing, change)

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	if old != nil && !old.IsClosed() {
		if err := old.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("failed to close previous connection")
		}
	}

	e.logger.Info().
		Bool("connected", conn != nil).
		Msg("engine connection changed")

	e.runHandlers(ctx, e.changed, change)
	return nil
}

func (e *MemoryEngine) owns(token *busylock.Token) bool {
	return token != nil && token.Lock() == e.lock && token.Valid()
}

func (e *MemoryEngine) connectionFor(token *busylock.Token) (connection.Connection, error) {
	if !e.owns(token) {
		return nil, ErrInvalidToken
	}
	conn := e.Connection()
	if conn == nil {
		return nil, ErrNoConnection
	}
	return conn, nil
}

// Resolve resolves addr on the engine connection.
func (e *MemoryEngine) Resolve(ctx context.Context, token *busylock.Token, addr address.Address) (uint32, bool, error) {
	conn, err := e.connectionFor(token)
	if err != nil {
		return 0, false, err
	}
	return addr.TryResolve(ctx, conn)
}

// ReadValue resolves addr and reads a value shaped like like. It returns
// ErrUnresolvable when the address does not resolve.
func (e *MemoryEngine) ReadValue(ctx context.Context, token *busylock.Token, addr address.Address, like datavalue.Value) (datavalue.Value, error) {
	conn, err := e.connectionFor(token)
	if err != nil {
		return nil, err
	}
	resolved, ok, err := addr.TryResolve(ctx, conn)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvable, addr)
	}
	return ReadDataValue(ctx, conn, resolved, like, e.config.ChunkSize)
}

// WriteValue resolves addr and writes v.
func (e *MemoryEngine) WriteValue(ctx context.Context, token *busylock.Token, addr address.Address, v datavalue.Value, appendNull bool) error {
	conn, err := e.connectionFor(token)
	if err != nil {
		return err
	}
	resolved, ok, err := addr.TryResolve(ctx, conn)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnresolvable, addr)
	}
	return WriteDataValue(ctx, conn, resolved, v, appendNull)
}

// ReadValueNow acquires the busy lock (bounded by AcquireTimeout), reads and
// releases.
func (e *MemoryEngine) ReadValueNow(ctx context.Context, addr address.Address, like datavalue.Value) (datavalue.Value, error) {
	token, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer token.Release()
	return e.ReadValue(ctx, token, addr, like)
}

// WriteValueNow acquires the busy lock, writes and releases.
func (e *MemoryEngine) WriteValueNow(ctx context.Context, addr address.Address, v datavalue.Value, appendNull bool) error {
	token, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer token.Release()
	return e.WriteValue(ctx, token, addr, v, appendNull)
}

// ResolveNow acquires the busy lock and resolves addr.
func (e *MemoryEngine) ResolveNow(ctx context.Context, addr address.Address) (uint32, bool, error) {
	token, err := e.acquire(ctx)
	if err != nil {
		return 0, false, err
	}
	defer token.Release()
	return e.Resolve(ctx, token, addr)
}

func (e *MemoryEngine) acquire(ctx context.Context) (*busylock.Token, error) {
	token, err := e.lock.AcquireTimeout(ctx, e.config.AcquireTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrBusy
		}
		return nil, err
	}
	return token, nil
}

// Close closes the current connection, waiting for the busy lock.
func (e *MemoryEngine) Close(ctx context.Context) error {
	token, err := e.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer token.Release()
	return e.SetConnection(ctx, token, nil)
}
