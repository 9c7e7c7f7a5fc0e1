package sequencing

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/engine"
	"github.com/opencode-ai/memengine/internal/logging"
)

// Manager errors.
var (
	ErrDuplicateSequence = errors.New("sequence name already registered")
	ErrSequenceNotFound  = errors.New("sequence not found")
	ErrSequenceOwned     = errors.New("sequence belongs to another manager")
	ErrConnectionInUse   = errors.New("connection is dedicated to another sequence")
)

// Manager owns the sequences of one engine. It forwards their events and
// cancels sequences on the engine connection when that connection changes.
type Manager struct {
	engine *engine.MemoryEngine
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	sequences []*TaskSequence
	byName    map[string]*TaskSequence
	unsub     map[*TaskSequence]func()

	observers  Observers[SequenceEvent]
	detachHook func()
}

// NewManager creates a manager for eng. eng may be nil when every sequence
// uses a dedicated connection.
func NewManager(eng *engine.MemoryEngine) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		engine: eng,
		logger: logging.Component("sequencing"),
		ctx:    ctx,
		cancel: cancel,
		byName: make(map[string]*TaskSequence),
		unsub:  make(map[*TaskSequence]func()),
	}
	if eng != nil {
		m.detachHook = eng.OnConnectionChanging(m.onConnectionChanging)
	}
	return m
}

// Engine returns the engine sequences run against.
func (m *Manager) Engine() *engine.MemoryEngine { return m.engine }

// Add registers seq. Names are unique within a manager.
func (m *Manager) Add(seq *TaskSequence) error {
	if owner := seq.Manager(); owner != nil && owner != m {
		return ErrSequenceOwned
	}
	if conn := seq.DedicatedConnection(); conn != nil {
		if err := m.checkDedicated(seq, conn); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[seq.Name()]; exists {
		return ErrDuplicateSequence
	}

	seq.mu.Lock()
	seq.manager = m
	seq.mu.Unlock()

	m.sequences = append(m.sequences, seq)
	m.byName[seq.Name()] = seq
	m.unsub[seq] = seq.Subscribe(m.observers.publish)

	m.logger.Debug().Str("sequence", seq.Name()).Msg("sequence registered")
	return nil
}

// Remove unregisters a stopped sequence.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.byName[name]
	if !ok {
		return ErrSequenceNotFound
	}
	if seq.IsRunning() {
		return ErrSequenceRunning
	}

	for i, candidate := range m.sequences {
		if candidate == seq {
			m.sequences = append(m.sequences[:i], m.sequences[i+1:]...)
			break
		}
	}
	delete(m.byName, name)
	if unsub := m.unsub[seq]; unsub != nil {
		unsub()
	}
	delete(m.unsub, seq)

	seq.mu.Lock()
	seq.manager = nil
	seq.mu.Unlock()
	return nil
}

// Get returns the sequence registered under name.
func (m *Manager) Get(name string) (*TaskSequence, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.byName[name]
	return seq, ok
}

// Sequences returns every registered sequence in registration order.
func (m *Manager) Sequences() []*TaskSequence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*TaskSequence(nil), m.sequences...)
}

// Active returns the sequences that are currently running.
func (m *Manager) Active() []*TaskSequence {
	var active []*TaskSequence
	for _, seq := range m.Sequences() {
		if seq.IsRunning() {
			active = append(active, seq)
		}
	}
	return active
}

// Subscribe registers fn for events of every registered sequence.
func (m *Manager) Subscribe(fn func(SequenceEvent)) func() {
	return m.observers.Subscribe(fn)
}

// Start starts the named sequence under the manager's lifetime.
func (m *Manager) Start(name string) error {
	seq, ok := m.Get(name)
	if !ok {
		return ErrSequenceNotFound
	}
	return seq.Start(m.ctx)
}

// CancelAll requests cancellation of every running sequence.
func (m *Manager) CancelAll() {
	for _, seq := range m.Active() {
		seq.RequestCancellation()
	}
}

// Wait blocks until every running sequence has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	return waitAll(ctx, m.Active())
}

// Close cancels every sequence, waits for them and detaches from the engine.
func (m *Manager) Close(ctx context.Context) error {
	m.cancel()
	m.CancelAll()
	err := m.Wait(ctx)
	if m.detachHook != nil {
		m.detachHook()
	}
	return err
}

func (m *Manager) checkDedicated(seq *TaskSequence, conn connection.Connection) error {
	for _, other := range m.Sequences() {
		if other != seq && other.DedicatedConnection() == conn {
			return ErrConnectionInUse
		}
	}
	return nil
}

// onConnectionChanging runs while the swapping caller holds the busy token,
// so engine sequences are at most waiting to acquire it. Cancelling them
// lets the swap proceed.
func (m *Manager) onConnectionChanging(ctx context.Context, _ engine.ConnectionChange) {
	var affected []*TaskSequence
	for _, seq := range m.Active() {
		if seq.UsesEngineConnection() {
			seq.RequestCancellation()
			affected = append(affected, seq)
		}
	}
	if len(affected) == 0 {
		return
	}

	m.logger.Info().Int("sequences", len(affected)).Msg("cancelling sequences for connection change")
	if err := waitAll(ctx, affected); err != nil {
		m.logger.Warn().Err(err).Msg("sequences still running after connection change")
	}
}

func waitAll(ctx context.Context, sequences []*TaskSequence) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, seq := range sequences {
		g.Go(func() error {
			return seq.WaitForCompletion(gctx)
		})
	}
	return g.Wait()
}
