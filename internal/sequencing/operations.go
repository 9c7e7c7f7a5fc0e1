package sequencing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/datavalue"
)

// errStopSequence unwinds a run that hit a StopSequenceOperation.
var errStopSequence = errors.New("sequence stopped by operation")

// DelayOperation pauses the sequence running it.
type DelayOperation struct {
	OperationBase

	mu       sync.RWMutex
	duration time.Duration
}

// NewDelayOperation creates a delay of d.
func NewDelayOperation(d time.Duration) *DelayOperation {
	op := &DelayOperation{duration: d}
	op.Init(op)
	return op
}

// Kind implements Operation.
func (*DelayOperation) Kind() string { return "delay" }

// Duration returns the configured delay.
func (op *DelayOperation) Duration() time.Duration {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.duration
}

// SetDuration changes the delay. Negative values are treated as zero.
func (op *DelayOperation) SetDuration(d time.Duration) {
	op.mu.Lock()
	op.duration = max(d, 0)
	op.mu.Unlock()
}

// Run implements Operation.
func (op *DelayOperation) Run(ctx context.Context, _ *ExecutionContext) error {
	d := op.Duration()
	if d <= 0 {
		return ctx.Err()
	}
	return sleep(ctx, d)
}

// WriteMode selects how SetMemoryOperation combines its value with memory.
type WriteMode uint8

const (
	// WriteSet stores the provided value.
	WriteSet WriteMode = iota
	// WriteAdd adds the provided value to the current one.
	WriteAdd
	// WriteSubtract subtracts the provided value from the current one.
	WriteSubtract
)

func (m WriteMode) String() string {
	switch m {
	case WriteAdd:
		return "add"
	case WriteSubtract:
		return "subtract"
	default:
		return "set"
	}
}

// ParseWriteMode parses "set", "add" or "subtract".
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "set", "=":
		return WriteSet, nil
	case "add", "+", "+=":
		return WriteAdd, nil
	case "subtract", "sub", "-", "-=":
		return WriteSubtract, nil
	}
	return 0, fmt.Errorf("unknown write mode %q", s)
}

// SetMemoryOperation writes provider values to an address. With an iterate
// count above one it writes that many consecutive elements, querying the
// provider for each.
type SetMemoryOperation struct {
	OperationBase

	mu           sync.RWMutex
	address      address.Address
	provider     DataValueProvider
	iterateCount int
	appendNull   bool
	writeMode    WriteMode
}

// NewSetMemoryOperation creates a single-write operation.
func NewSetMemoryOperation(addr address.Address, provider DataValueProvider) *SetMemoryOperation {
	op := &SetMemoryOperation{
		address:      addr,
		provider:     provider,
		iterateCount: 1,
	}
	op.Init(op)
	return op
}

// Kind implements Operation.
func (*SetMemoryOperation) Kind() string { return "set_memory" }

// Address returns the target address.
func (op *SetMemoryOperation) Address() address.Address {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.address
}

// SetAddress changes the target address.
func (op *SetMemoryOperation) SetAddress(addr address.Address) {
	op.mu.Lock()
	op.address = addr
	op.mu.Unlock()
}

// Provider returns the value provider.
func (op *SetMemoryOperation) Provider() DataValueProvider {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.provider
}

// SetProvider changes the value provider. Arithmetic write modes fall back
// to WriteSet for non-numeric providers.
func (op *SetMemoryOperation) SetProvider(p DataValueProvider) {
	op.mu.Lock()
	op.provider = p
	op.writeMode = normalizeWriteMode(p, op.writeMode)
	op.mu.Unlock()
}

// IterateCount returns how many consecutive elements are written.
func (op *SetMemoryOperation) IterateCount() int {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.iterateCount
}

// SetIterateCount sets the element count. Values below one become one.
func (op *SetMemoryOperation) SetIterateCount(n int) {
	op.mu.Lock()
	op.iterateCount = max(n, 1)
	op.mu.Unlock()
}

// AppendNull reports whether string writes are terminated.
func (op *SetMemoryOperation) AppendNull() bool {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.appendNull
}

// SetAppendNull toggles string termination.
func (op *SetMemoryOperation) SetAppendNull(v bool) {
	op.mu.Lock()
	op.appendNull = v
	op.mu.Unlock()
}

// WriteMode returns the effective write mode.
func (op *SetMemoryOperation) WriteMode() WriteMode {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.writeMode
}

// SetWriteMode changes the write mode, subject to the provider type.
func (op *SetMemoryOperation) SetWriteMode(m WriteMode) {
	op.mu.Lock()
	op.writeMode = normalizeWriteMode(op.provider, m)
	op.mu.Unlock()
}

func normalizeWriteMode(p DataValueProvider, m WriteMode) WriteMode {
	if p != nil && !p.DataType().IsNumeric() {
		return WriteSet
	}
	return m
}

// Run implements Operation. An unresolvable address skips the write.
func (op *SetMemoryOperation) Run(ctx context.Context, x *ExecutionContext) error {
	op.mu.RLock()
	addr, provider, count := op.address, op.provider, op.iterateCount
	appendNull, mode := op.appendNull, op.writeMode
	op.mu.RUnlock()

	if addr == nil || provider == nil {
		return nil
	}

	target, ok, err := addr.TryResolve(ctx, x.Connection)
	if err != nil {
		return err
	}
	if !ok {
		x.Logger.Debug().Str("address", addr.String()).Msg("set memory skipped, address unresolvable")
		return nil
	}

	next := target
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		value, err := provider.Provide()
		if err != nil {
			return fmt.Errorf("failed to provide value: %w", err)
		}

		if mode != WriteSet {
			value, err = op.combine(ctx, x, next, value, mode)
			if err != nil {
				return err
			}
		}

		if err := x.WriteValue(ctx, next, value, appendNull); err != nil {
			return err
		}

		size := value.ByteLen()
		if str, ok := value.(datavalue.String); ok && appendNull {
			size += str.Encoding.CharSize()
		}
		next += uint32(size)
	}
	return nil
}

func (op *SetMemoryOperation) combine(ctx context.Context, x *ExecutionContext, at uint32, value datavalue.Value, mode WriteMode) (datavalue.Value, error) {
	delta, ok := value.(datavalue.Numeric)
	if !ok {
		return value, nil
	}
	current, err := x.ReadValue(ctx, at, value)
	if err != nil {
		return nil, err
	}
	cur := current.(datavalue.Numeric)
	if mode == WriteAdd {
		return datavalue.Add(cur, delta), nil
	}
	return datavalue.Subtract(cur, delta), nil
}

// StopSequenceOperation ends the current run as completed.
type StopSequenceOperation struct {
	OperationBase
}

// NewStopSequenceOperation creates a stop operation.
func NewStopSequenceOperation() *StopSequenceOperation {
	op := &StopSequenceOperation{}
	op.Init(op)
	return op
}

// Kind implements Operation.
func (*StopSequenceOperation) Kind() string { return "stop_sequence" }

// Run implements Operation.
func (*StopSequenceOperation) Run(context.Context, *ExecutionContext) error {
	return errStopSequence
}
