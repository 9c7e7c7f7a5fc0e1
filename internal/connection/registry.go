package connection

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Options carries backend-independent settings to a Factory.
type Options struct {
	Target       string
	LittleEndian bool
	BaseAddress  uint32
	MemorySize   int
	Timeout      time.Duration
}

// Factory opens a connection of one backend type.
type Factory func(opts Options) (Connection, error)

// Registry maps backend type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name.
// Returns an error if the name is already taken.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("connection type %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Open creates a connection of the named type.
func (r *Registry) Open(name string, opts Options) (Connection, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown connection type %q (available: %v)", name, r.Names())
	}
	conn, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", name, err)
	}
	return conn, nil
}

// Names returns registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the process-wide registry. The memory backend registers
// itself here; other backends register from their own packages.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, factory Factory) error {
	return DefaultRegistry.Register(name, factory)
}

// MustRegister adds a factory to the default registry, panicking on error.
func MustRegister(name string, factory Factory) {
	DefaultRegistry.MustRegister(name, factory)
}

// Open opens a connection from the default registry.
func Open(name string, opts Options) (Connection, error) {
	return DefaultRegistry.Open(name, opts)
}

func init() {
	MustRegister("memory", func(opts Options) (Connection, error) {
		if opts.MemorySize <= 0 {
			return nil, fmt.Errorf("memory size must be greater than 0")
		}
		return NewMemoryConnection(
			WithLittleEndian(opts.LittleEndian),
			WithRegion(opts.BaseAddress, opts.MemorySize),
		), nil
	})
}
