package sequencing

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/opencode-ai/memengine/internal/datavalue"
)

// DataValueProvider produces the value an operation writes. Provide is called
// once per write, so random providers vary between iterations.
type DataValueProvider interface {
	DataType() datavalue.DataType
	Provide() (datavalue.Value, error)
}

// ConstantProvider always returns the same value.
type ConstantProvider struct {
	Value datavalue.Value
}

// DataType implements DataValueProvider.
func (p ConstantProvider) DataType() datavalue.DataType {
	if p.Value == nil {
		return 0
	}
	return p.Value.Type()
}

// Provide implements DataValueProvider.
func (p ConstantProvider) Provide() (datavalue.Value, error) {
	if p.Value == nil {
		return nil, fmt.Errorf("constant provider has no value")
	}
	return p.Value, nil
}

// RandomNumberProvider returns uniformly distributed numbers in [Min, Max].
type RandomNumberProvider struct {
	min, max datavalue.Numeric

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomNumberProvider validates the bounds. A nil rng seeds a new one.
func NewRandomNumberProvider(min, max datavalue.Numeric, rng *rand.Rand) (*RandomNumberProvider, error) {
	if min == nil || max == nil {
		return nil, fmt.Errorf("random provider needs both bounds")
	}
	if min.Type() != max.Type() {
		return nil, fmt.Errorf("random bounds differ in type: %s and %s", min.Type(), max.Type())
	}
	if datavalue.Compare(min, max) > 0 {
		return nil, fmt.Errorf("random minimum %s is greater than maximum %s", min, max)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomNumberProvider{min: min, max: max, rng: rng}, nil
}

// Bounds returns the configured range.
func (p *RandomNumberProvider) Bounds() (datavalue.Numeric, datavalue.Numeric) {
	return p.min, p.max
}

// DataType implements DataValueProvider.
func (p *RandomNumberProvider) DataType() datavalue.DataType { return p.min.Type() }

// Provide implements DataValueProvider.
func (p *RandomNumberProvider) Provide() (datavalue.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return datavalue.Random(p.rng, p.min, p.max)
}
