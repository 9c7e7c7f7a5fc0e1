// Package address models device memory addresses: fixed static addresses,
// module-relative addresses and pointer chains that are dereferenced
// against a live connection.
package address

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opencode-ai/memengine/internal/connection"
)

// ErrInvalidAddress is returned when address text cannot be parsed.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a resolvable device address. Implementations are immutable
// values; two addresses with the same Key resolve identically.
type Address interface {
	// TryResolve returns the device address and true, or false when the
	// address cannot be resolved on conn right now. An error is returned only
	// when ctx is done; device faults during resolution mean "unresolvable".
	TryResolve(ctx context.Context, conn connection.Connection) (uint32, bool, error)

	// Key is a value-equality identity used for caching.
	Key() string

	fmt.Stringer
}

// Static is a fixed address, optionally relative to a module's base.
type Static struct {
	Address uint32

	// Module, when set, makes Address an offset from that module's base.
	Module string
}

// Absolute reports whether the address is independent of any module.
func (s Static) Absolute() bool { return s.Module == "" }

// TryResolve implements Address.
func (s Static) TryResolve(ctx context.Context, conn connection.Connection) (uint32, bool, error) {
	if s.Absolute() {
		return s.Address, true, nil
	}

	resolver, ok := connection.TryGetFeature[connection.ModuleResolver](conn)
	if !ok {
		return 0, false, nil
	}
	base, err := resolver.ModuleBase(ctx, s.Module)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, false, ctxErr
		}
		return 0, false, nil
	}
	return base + s.Address, true, nil
}

// Key implements Address.
func (s Static) Key() string {
	if s.Absolute() {
		return "s:" + strconv.FormatUint(uint64(s.Address), 16)
	}
	return "m:" + strings.ToLower(s.Module) + ":" + strconv.FormatUint(uint64(s.Address), 16)
}

func (s Static) String() string {
	if s.Absolute() {
		return fmt.Sprintf("%08X", s.Address)
	}
	return fmt.Sprintf("%s:%X", s.Module, s.Address)
}

// PointerChain starts at Base and follows Offsets. For every offset the
// current pointer is read as a 4-byte device word and the offset is added to
// it; the value after the last offset is the resolved address. A read
// failure or a null pointer along the way makes the chain unresolvable.
type PointerChain struct {
	Base    Static
	Offsets []int32
}

// NewPointerChain builds a chain rooted at an absolute base address.
func NewPointerChain(base uint32, offsets ...int32) PointerChain {
	return PointerChain{Base: Static{Address: base}, Offsets: append([]int32(nil), offsets...)}
}

// TryResolve implements Address.
func (p PointerChain) TryResolve(ctx context.Context, conn connection.Connection) (uint32, bool, error) {
	addr, ok, err := p.Base.TryResolve(ctx, conn)
	if err != nil || !ok {
		return 0, false, err
	}
	if conn == nil {
		return 0, false, nil
	}

	order := binary.ByteOrder(binary.BigEndian)
	if conn.LittleEndian() {
		order = binary.LittleEndian
	}

	var word [4]byte
	for _, offset := range p.Offsets {
		if err := conn.ReadBytes(ctx, addr, word[:], len(word), nil); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, false, ctxErr
			}
			return 0, false, nil
		}
		ptr := order.Uint32(word[:])
		if ptr == 0 {
			return 0, false, nil
		}
		addr = ptr + uint32(offset)
	}
	return addr, true, nil
}

// Key implements Address.
func (p PointerChain) Key() string {
	var sb strings.Builder
	sb.WriteString("p:")
	sb.WriteString(p.Base.Key())
	for _, off := range p.Offsets {
		sb.WriteString(">")
		sb.WriteString(strconv.FormatInt(int64(off), 16))
	}
	return sb.String()
}

func (p PointerChain) String() string {
	var sb strings.Builder
	sb.WriteString(p.Base.String())
	for _, off := range p.Offsets {
		sb.WriteString("->")
		sb.WriteString(formatOffset(off))
	}
	return sb.String()
}

func formatOffset(off int32) string {
	if off < 0 {
		return "-" + strings.ToUpper(strconv.FormatUint(uint64(-int64(off)), 16))
	}
	return strings.ToUpper(strconv.FormatUint(uint64(off), 16))
}
