package sequencing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/datavalue"
)

// CompareType is the comparator of a CompareMemoryCondition.
type CompareType uint8

const (
	Equals CompareType = iota
	NotEquals
	LessThan
	LessThanOrEquals
	GreaterThan
	GreaterThanOrEquals
)

var compareTypeNames = map[CompareType]string{
	Equals:              "==",
	NotEquals:           "!=",
	LessThan:            "<",
	LessThanOrEquals:    "<=",
	GreaterThan:         ">",
	GreaterThanOrEquals: ">=",
}

func (c CompareType) String() string {
	if s, ok := compareTypeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("compare(%d)", uint8(c))
}

// IsOrdering reports whether the comparator needs ordered operands.
func (c CompareType) IsOrdering() bool {
	return c != Equals && c != NotEquals
}

// ParseCompareType accepts symbols ("<=") and names ("less_than_or_equals").
func ParseCompareType(s string) (CompareType, error) {
	switch strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)) {
	case "==", "=", "eq", "equals", "":
		return Equals, nil
	case "!=", "<>", "ne", "notequals":
		return NotEquals, nil
	case "<", "lt", "lessthan":
		return LessThan, nil
	case "<=", "le", "lte", "lessthanorequals":
		return LessThanOrEquals, nil
	case ">", "gt", "greaterthan":
		return GreaterThan, nil
	case ">=", "ge", "gte", "greaterthanorequals":
		return GreaterThanOrEquals, nil
	}
	return 0, fmt.Errorf("unknown compare type %q", s)
}

// CompareMemoryCondition reads a device value and compares it with a
// constant. A non-numeric constant only supports Equals and NotEquals; any
// ordering comparator is replaced with Equals when configured.
type CompareMemoryCondition struct {
	ConditionBase

	mu          sync.RWMutex
	address     address.Address
	compareTo   datavalue.Value
	compareType CompareType
}

// NewCompareMemoryCondition creates a condition comparing the value at addr
// against compareTo. A nil compareTo makes the condition always met.
func NewCompareMemoryCondition(addr address.Address, compareTo datavalue.Value, compareType CompareType) *CompareMemoryCondition {
	c := &CompareMemoryCondition{
		address:     addr,
		compareTo:   compareTo,
		compareType: normalizeCompareType(compareTo, compareType),
	}
	c.Init(c)
	return c
}

// Kind implements Condition.
func (c *CompareMemoryCondition) Kind() string { return "compare_memory" }

// Address returns the watched address.
func (c *CompareMemoryCondition) Address() address.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// CompareTo returns the constant compared against.
func (c *CompareMemoryCondition) CompareTo() datavalue.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compareTo
}

// CompareType returns the effective comparator.
func (c *CompareMemoryCondition) CompareType() CompareType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compareType
}

// SetAddress changes the watched address.
func (c *CompareMemoryCondition) SetAddress(addr address.Address) {
	c.mu.Lock()
	c.address = addr
	c.mu.Unlock()
	c.notify(ConditionCompareChanged)
}

// SetCompareTo changes the constant, downgrading an ordering comparator to
// Equals if the new constant is not numeric.
func (c *CompareMemoryCondition) SetCompareTo(v datavalue.Value) {
	c.mu.Lock()
	c.compareTo = v
	c.compareType = normalizeCompareType(v, c.compareType)
	c.mu.Unlock()
	c.notify(ConditionCompareChanged)
}

// SetCompareType changes the comparator, subject to the same normalization.
func (c *CompareMemoryCondition) SetCompareType(t CompareType) {
	c.mu.Lock()
	c.compareType = normalizeCompareType(c.compareTo, t)
	c.mu.Unlock()
	c.notify(ConditionCompareChanged)
}

func normalizeCompareType(v datavalue.Value, t CompareType) CompareType {
	if v != nil && !v.Type().IsNumeric() && t.IsOrdering() {
		return Equals
	}
	return t
}

// IsConditionMet implements Condition.
func (c *CompareMemoryCondition) IsConditionMet(ctx context.Context, x *ExecutionContext, cache *CachedConditionData) (bool, error) {
	c.mu.RLock()
	addr, compareTo, compareType := c.address, c.compareTo, c.compareType
	c.mu.RUnlock()

	if compareTo == nil {
		return true, nil
	}
	if addr == nil {
		return false, nil
	}

	resolved, ok, err := cache.TryResolve(ctx, x, addr)
	if err != nil {
		return false, err
	}
	if !ok {
		x.Logger.Debug().Str("address", addr.String()).Msg("condition address unresolvable")
		return false, nil
	}

	current, err := cache.ReadValue(ctx, x, resolved, compareTo)
	if err != nil {
		return false, err
	}
	return compareValues(current, compareTo, compareType), nil
}

func compareValues(current, target datavalue.Value, t CompareType) bool {
	cn, cok := current.(datavalue.Numeric)
	tn, tok := target.(datavalue.Numeric)
	if !cok || !tok {
		equal := current.Equal(target)
		if t == NotEquals {
			return !equal
		}
		return equal
	}

	cmp := datavalue.Compare(cn, tn)
	switch t {
	case Equals:
		return cmp == 0
	case NotEquals:
		return cmp != 0
	case LessThan:
		return cmp < 0
	case LessThanOrEquals:
		return cmp <= 0
	case GreaterThan:
		return cmp > 0
	case GreaterThanOrEquals:
		return cmp >= 0
	}
	return false
}
