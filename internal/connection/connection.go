// Package connection defines the capability contract every device backend
// implements, plus chunked transfer helpers shared by backends.
package connection

import (
	"context"
	"errors"
	"fmt"
)

// Connection errors.
var (
	ErrNotConnected     = errors.New("connection is not connected")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrOutOfRange       = errors.New("address range is not mapped")
	ErrInvalidChunkSize = errors.New("chunk size must be greater than 0")
)

// DefaultChunkSize bounds a single transfer when callers pass 0.
const DefaultChunkSize = 0x10000

// Progress reports transferred and total byte counts after each chunk.
type Progress func(done, total int)

// Connection is the minimal surface the engine needs from a device backend.
// Implementations never retry silently; every failure is returned.
type Connection interface {
	// ReadBytes fills buf from device memory starting at address, transferring
	// at most chunkSize bytes at a time. ctx is checked between chunks.
	ReadBytes(ctx context.Context, address uint32, buf []byte, chunkSize int, progress Progress) error

	// WriteBytes writes buf to device memory starting at address.
	WriteBytes(ctx context.Context, address uint32, buf []byte) error

	// IsConnected reports whether the backend can currently talk to the device.
	IsConnected() bool

	// IsClosed reports whether Close has been called.
	IsClosed() bool

	// LittleEndian reports the device byte order.
	LittleEndian() bool

	// Close releases the connection.
	Close() error
}

// FeatureProvider is implemented by connections that expose optional
// capabilities through separate objects rather than their own method set.
type FeatureProvider interface {
	Features() []any
}

// TryGetFeature probes conn for an optional capability.
func TryGetFeature[T any](conn Connection) (T, bool) {
	var zero T
	if conn == nil {
		return zero, false
	}
	if f, ok := conn.(T); ok {
		return f, true
	}
	if provider, ok := conn.(FeatureProvider); ok {
		for _, feature := range provider.Features() {
			if f, ok := feature.(T); ok {
				return f, true
			}
		}
	}
	return zero, false
}

// ModuleResolver resolves loaded module names to base addresses.
type ModuleResolver interface {
	ModuleBase(ctx context.Context, name string) (uint32, error)
}

// Freezer can halt and resume execution on the target.
type Freezer interface {
	Freeze(ctx context.Context) error
	Unfreeze(ctx context.Context) error
	IsFrozen(ctx context.Context) (bool, error)
}

// Transport performs single unchunked transfers. Backends implement it and
// delegate ReadBytes/WriteBytes to ReadChunked/WriteChunked.
type Transport interface {
	ReadChunk(ctx context.Context, address uint32, buf []byte) error
	WriteChunk(ctx context.Context, address uint32, buf []byte) error
}

// ReadChunked reads len(buf) bytes in chunkSize pieces, checking ctx before
// each piece and reporting progress after it.
func ReadChunked(ctx context.Context, t Transport, address uint32, buf []byte, chunkSize int, progress Progress) error {
	return transferChunked(ctx, address, buf, chunkSize, progress, t.ReadChunk)
}

// WriteChunked writes buf in chunkSize pieces, checking ctx before each piece.
func WriteChunked(ctx context.Context, t Transport, address uint32, buf []byte, chunkSize int, progress Progress) error {
	return transferChunked(ctx, address, buf, chunkSize, progress, t.WriteChunk)
}

func transferChunked(
	ctx context.Context,
	address uint32,
	buf []byte,
	chunkSize int,
	progress Progress,
	transfer func(context.Context, uint32, []byte) error,
) error {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 0 {
		return ErrInvalidChunkSize
	}
	if uint64(address)+uint64(len(buf)) > 1<<32 {
		return fmt.Errorf("%w: %d bytes at %08X overflow the address space", ErrOutOfRange, len(buf), address)
	}

	total := len(buf)
	for done := 0; done < total; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(chunkSize, total-done)
		if err := transfer(ctx, address+uint32(done), buf[done:done+n]); err != nil {
			return err
		}
		done += n
		if progress != nil {
			progress(done, total)
		}
	}
	return nil
}
