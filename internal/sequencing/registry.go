package sequencing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/datavalue"
)

// Params are the string-keyed settings of a serialized operation or
// condition.
type Params map[string]string

// String returns the value for key, or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int parses key as a decimal integer.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

// Bool parses key as a boolean.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

// Duration parses key as a Go duration; a bare number is milliseconds.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

// Address parses key as an address expression.
func (p Params) Address(key string) (address.Address, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return nil, fmt.Errorf("missing %s", key)
	}
	return address.Parse(v)
}

// valueOptions reads the shared type/display/encoding params.
func (p Params) valueOptions() (datavalue.DataType, datavalue.Options, error) {
	t, err := datavalue.ParseDataType(p.String("data_type", "int32"))
	if err != nil {
		return 0, datavalue.Options{}, err
	}
	display, err := datavalue.ParseDisplayType(p.String("display", ""))
	if err != nil {
		return 0, datavalue.Options{}, err
	}
	encoding, err := datavalue.ParseStringType(p.String("encoding", ""))
	if err != nil {
		return 0, datavalue.Options{}, err
	}
	return t, datavalue.Options{Display: display, Encoding: encoding}, nil
}

// OperationFactory builds an operation variant from params.
type OperationFactory func(params Params) (Operation, error)

// ConditionFactory builds a condition variant from params.
type ConditionFactory func(params Params) (Condition, error)

// Registry maps variant tags to factories.
type Registry struct {
	mu         sync.RWMutex
	operations map[string]OperationFactory
	conditions map[string]ConditionFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		operations: make(map[string]OperationFactory),
		conditions: make(map[string]ConditionFactory),
	}
}

// RegisterOperation adds an operation factory under kind.
func (r *Registry) RegisterOperation(kind string, factory OperationFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[kind]; exists {
		return fmt.Errorf("operation kind %q already registered", kind)
	}
	r.operations[kind] = factory
	return nil
}

// RegisterCondition adds a condition factory under kind.
func (r *Registry) RegisterCondition(kind string, factory ConditionFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conditions[kind]; exists {
		return fmt.Errorf("condition kind %q already registered", kind)
	}
	r.conditions[kind] = factory
	return nil
}

// MustRegisterOperation is RegisterOperation that panics on error.
func (r *Registry) MustRegisterOperation(kind string, factory OperationFactory) {
	if err := r.RegisterOperation(kind, factory); err != nil {
		panic(err)
	}
}

// MustRegisterCondition is RegisterCondition that panics on error.
func (r *Registry) MustRegisterCondition(kind string, factory ConditionFactory) {
	if err := r.RegisterCondition(kind, factory); err != nil {
		panic(err)
	}
}

// NewOperation builds an operation of the given kind.
func (r *Registry) NewOperation(kind string, params Params) (Operation, error) {
	r.mu.RLock()
	factory, ok := r.operations[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown operation kind %q (available: %v)", kind, r.OperationKinds())
	}
	op, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s operation: %w", kind, err)
	}
	return op, nil
}

// NewCondition builds a condition of the given kind.
func (r *Registry) NewCondition(kind string, params Params) (Condition, error) {
	r.mu.RLock()
	factory, ok := r.conditions[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown condition kind %q (available: %v)", kind, r.ConditionKinds())
	}
	c, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s condition: %w", kind, err)
	}
	return c, nil
}

// OperationKinds returns the registered operation tags, sorted.
func (r *Registry) OperationKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.operations)
}

// ConditionKinds returns the registered condition tags, sorted.
func (r *Registry) ConditionKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.conditions)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultRegistry holds the built-in variants.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.MustRegisterOperation("delay", newDelayFromParams)
	DefaultRegistry.MustRegisterOperation("set_memory", newSetMemoryFromParams)
	DefaultRegistry.MustRegisterOperation("stop_sequence", func(Params) (Operation, error) {
		return NewStopSequenceOperation(), nil
	})
	DefaultRegistry.MustRegisterCondition("compare_memory", newCompareMemoryFromParams)
}

func newDelayFromParams(p Params) (Operation, error) {
	d, err := p.Duration("duration", 0)
	if err != nil {
		return nil, err
	}
	if d < 0 {
		return nil, fmt.Errorf("duration must be non-negative")
	}
	return NewDelayOperation(d), nil
}

// newSetMemoryFromParams accepts either "value" or a "min"/"max" pair for a
// random numeric provider.
func newSetMemoryFromParams(p Params) (Operation, error) {
	addr, err := p.Address("address")
	if err != nil {
		return nil, err
	}
	t, opts, err := p.valueOptions()
	if err != nil {
		return nil, err
	}

	var provider DataValueProvider
	if _, random := p["min"]; random {
		if !t.IsNumeric() {
			return nil, fmt.Errorf("random values need a numeric type, got %s", t)
		}
		lo, err := datavalue.Parse(p.String("min", ""), t, opts)
		if err != nil {
			return nil, fmt.Errorf("invalid min: %w", err)
		}
		hi, err := datavalue.Parse(p.String("max", ""), t, opts)
		if err != nil {
			return nil, fmt.Errorf("invalid max: %w", err)
		}
		provider, err = NewRandomNumberProvider(lo.(datavalue.Numeric), hi.(datavalue.Numeric), nil)
		if err != nil {
			return nil, err
		}
	} else {
		v, err := datavalue.Parse(p.String("value", ""), t, opts)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %w", err)
		}
		provider = ConstantProvider{Value: v}
	}

	op := NewSetMemoryOperation(addr, provider)

	count, err := p.Int("iterate_count", 1)
	if err != nil {
		return nil, err
	}
	op.SetIterateCount(count)

	appendNull, err := p.Bool("append_null", false)
	if err != nil {
		return nil, err
	}
	op.SetAppendNull(appendNull)

	mode, err := ParseWriteMode(p.String("mode", ""))
	if err != nil {
		return nil, err
	}
	op.SetWriteMode(mode)
	return op, nil
}

func newCompareMemoryFromParams(p Params) (Condition, error) {
	addr, err := p.Address("address")
	if err != nil {
		return nil, err
	}
	t, opts, err := p.valueOptions()
	if err != nil {
		return nil, err
	}
	v, err := datavalue.Parse(p.String("value", ""), t, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	compareType, err := ParseCompareType(p.String("compare", "=="))
	if err != nil {
		return nil, err
	}
	return NewCompareMemoryCondition(addr, v, compareType), nil
}
