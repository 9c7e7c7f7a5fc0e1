package sequencing

import (
	"context"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/datavalue"
)

type resolution struct {
	address uint32
	ok      bool
}

type valueKey struct {
	dataType datavalue.DataType
	address  uint32
	length   int
}

// CachedConditionData memoizes address resolutions and device reads for a
// single evaluation pass. Build a new one for every pass; it is not safe
// for concurrent use.
type CachedConditionData struct {
	resolved map[string]resolution
	values   map[valueKey]datavalue.Value
}

// NewCachedConditionData creates an empty per-pass cache.
func NewCachedConditionData() *CachedConditionData {
	return &CachedConditionData{
		resolved: make(map[string]resolution),
		values:   make(map[valueKey]datavalue.Value),
	}
}

// TryResolve resolves addr once per pass. Unresolvable results are cached
// too, so a broken pointer chain is walked at most once.
func (c *CachedConditionData) TryResolve(ctx context.Context, x *ExecutionContext, addr address.Address) (uint32, bool, error) {
	key := addr.Key()
	if r, ok := c.resolved[key]; ok {
		return r.address, r.ok, nil
	}

	resolved, ok, err := addr.TryResolve(ctx, x.Connection)
	if err != nil {
		return 0, false, err
	}
	c.resolved[key] = resolution{address: resolved, ok: ok}
	return resolved, ok, nil
}

// ReadValue returns the value at a resolved address, reading the device only
// on the first request for that (type, address, length) in this pass.
func (c *CachedConditionData) ReadValue(ctx context.Context, x *ExecutionContext, address uint32, like datavalue.Value) (datavalue.Value, error) {
	key := valueKey{dataType: like.Type(), address: address, length: datavalue.ReadLength(like)}
	if v, ok := c.values[key]; ok {
		return v, nil
	}

	v, err := x.ReadValue(ctx, address, like)
	if err != nil {
		return nil, err
	}
	c.values[key] = v
	return v, nil
}

// Len reports how many values are cached.
func (c *CachedConditionData) Len() int { return len(c.values) }
