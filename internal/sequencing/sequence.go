// Package sequencing runs task sequences: ordered operations gated by
// conditions over device memory, executed against the engine connection or
// a dedicated one.
package sequencing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/engine"
	"github.com/opencode-ai/memengine/internal/logging"
)

// Sequence errors.
var (
	ErrSequenceRunning       = errors.New("sequence is running")
	ErrNoEngine              = errors.New("sequence is not attached to an engine")
	ErrNoDedicatedConnection = errors.New("sequence has no dedicated connection")
	ErrOperationOwned        = errors.New("operation belongs to another sequence")
	ErrOperationNotFound     = errors.New("operation not found")
	ErrConditionNotFound     = errors.New("condition not found")
	ErrOperationPanic        = errors.New("operation panicked")
)

// State is a sequence's run state.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// IsTerminal reports whether s ends a run.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFaulted
}

// RunResult summarizes one finished run.
type RunResult struct {
	RunID         string
	Sequence      string
	State         State
	Err           error
	StartedAt     time.Time
	FinishedAt    time.Time
	Iterations    int
	OperationsRun int
	Writes        int
}

// Duration is how long the run took.
func (r RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// InfiniteRuns makes a sequence loop until cancelled.
const InfiniteRuns = -1

const defaultIdleInterval = 10 * time.Millisecond

// Option configures a TaskSequence.
type Option func(*TaskSequence)

// WithDescription sets a free-form description.
func WithDescription(description string) Option {
	return func(s *TaskSequence) { s.description = description }
}

// WithRunCount sets how many passes over the operations a run makes.
// InfiniteRuns loops until cancelled.
func WithRunCount(n int) Option {
	return func(s *TaskSequence) { s.runCount = n }
}

// WithPriority makes the run acquire the engine lock through the priority
// lane.
func WithPriority(priority bool) Option {
	return func(s *TaskSequence) { s.priority = priority }
}

// WithDedicatedConnection runs the sequence on conn instead of the engine
// connection.
func WithDedicatedConnection(conn connection.Connection) Option {
	return func(s *TaskSequence) {
		s.dedicated = conn
		s.useEngine = conn == nil
	}
}

// WithRand sets the random source used by triggers.
func WithRand(rng *rand.Rand) Option {
	return func(s *TaskSequence) { s.rng = rng }
}

// WithIdleInterval sets the pause between looping passes that ran nothing.
func WithIdleInterval(d time.Duration) Option {
	return func(s *TaskSequence) { s.idleInterval = d }
}

// TaskSequence is an ordered list of operations with run and cancel control.
type TaskSequence struct {
	mu           sync.RWMutex
	name         string
	description  string
	operations   []Operation
	runCount     int
	priority     bool
	useEngine    bool
	dedicated    connection.Connection
	manager      *Manager
	rng          *rand.Rand
	idleInterval time.Duration

	running bool
	runID   string
	cancel  context.CancelFunc
	done    chan struct{}
	last    *RunResult

	observers Observers[SequenceEvent]
	logger    zerolog.Logger
}

// NewTaskSequence creates an idle sequence that runs once on the engine
// connection unless options say otherwise.
func NewTaskSequence(name string, opts ...Option) *TaskSequence {
	s := &TaskSequence{
		name:         name,
		runCount:     1,
		useEngine:    true,
		idleInterval: defaultIdleInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s.logger = logging.Component("sequencing").With().Str("sequence", name).Logger()
	return s
}

// Name returns the sequence name.
func (s *TaskSequence) Name() string { return s.name }

// Description returns the sequence description.
func (s *TaskSequence) Description() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.description
}

// RunCount returns the configured pass count.
func (s *TaskSequence) RunCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runCount
}

// SetRunCount changes the pass count. Rejected while running.
func (s *TaskSequence) SetRunCount(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSequenceRunning
	}
	s.runCount = n
	return nil
}

// HasPriority reports whether runs use the priority lane.
func (s *TaskSequence) HasPriority() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priority
}

// SetPriority changes the lock lane used by the next run.
func (s *TaskSequence) SetPriority(priority bool) {
	s.mu.Lock()
	s.priority = priority
	s.mu.Unlock()
}

// UsesEngineConnection reports whether runs use the shared engine connection.
func (s *TaskSequence) UsesEngineConnection() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.useEngine
}

// DedicatedConnection returns the private connection, or nil.
func (s *TaskSequence) DedicatedConnection() connection.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dedicated
}

// UseEngineConnection switches the sequence to the shared connection.
func (s *TaskSequence) UseEngineConnection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSequenceRunning
	}
	s.useEngine = true
	s.dedicated = nil
	return nil
}

// SetDedicatedConnection gives the sequence a private connection. A
// connection can be dedicated to at most one sequence of a manager.
func (s *TaskSequence) SetDedicatedConnection(conn connection.Connection) error {
	if conn == nil {
		return ErrNoDedicatedConnection
	}

	s.mu.RLock()
	running, manager := s.running, s.manager
	s.mu.RUnlock()
	if running {
		return ErrSequenceRunning
	}
	if manager != nil {
		if err := manager.checkDedicated(s, conn); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSequenceRunning
	}
	s.useEngine = false
	s.dedicated = conn
	return nil
}

// Manager returns the owning manager, or nil.
func (s *TaskSequence) Manager() *Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manager
}

// Operations returns a copy of the operation list.
func (s *TaskSequence) Operations() []Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Operation(nil), s.operations...)
}

// AddOperation appends op. Rejected while running.
func (s *TaskSequence) AddOperation(op Operation) error {
	return s.InsertOperation(-1, op)
}

// InsertOperation inserts op at index; a negative or out-of-range index
// appends. Rejected while running.
func (s *TaskSequence) InsertOperation(index int, op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSequenceRunning
	}
	if err := op.Base().attach(s); err != nil {
		return err
	}
	for _, existing := range s.operations {
		if existing == op {
			return nil
		}
	}
	if index < 0 || index >= len(s.operations) {
		s.operations = append(s.operations, op)
		return nil
	}
	s.operations = append(s.operations, nil)
	copy(s.operations[index+1:], s.operations[index:])
	s.operations[index] = op
	return nil
}

// RemoveOperation removes op. Rejected while running.
func (s *TaskSequence) RemoveOperation(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSequenceRunning
	}
	for i, existing := range s.operations {
		if existing == op {
			s.operations = append(s.operations[:i], s.operations[i+1:]...)
			op.Base().detach()
			return nil
		}
	}
	return ErrOperationNotFound
}

// ClearOperations removes every operation. Rejected while running.
func (s *TaskSequence) ClearOperations() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSequenceRunning
	}
	for _, op := range s.operations {
		op.Base().detach()
	}
	s.operations = nil
	return nil
}

// Subscribe registers fn for this sequence's lifecycle events.
func (s *TaskSequence) Subscribe(fn func(SequenceEvent)) func() {
	return s.observers.Subscribe(fn)
}

// IsRunning reports whether a run is in progress.
func (s *TaskSequence) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// State returns StateRunning during a run and StateIdle otherwise. The
// terminal state of the previous run is in LastResult.
func (s *TaskSequence) State() State {
	if s.IsRunning() {
		return StateRunning
	}
	return StateIdle
}

// RunID returns the ID of the current run, or "".
func (s *TaskSequence) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// LastResult returns the result of the most recent finished run, or nil.
func (s *TaskSequence) LastResult() *RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// LastError returns the fault of the most recent run, or nil.
func (s *TaskSequence) LastError() error {
	if r := s.LastResult(); r != nil {
		return r.Err
	}
	return nil
}

// Start begins a run in the background. ctx bounds the whole run; cancelling
// it cancels the run. Starting a running sequence returns ErrSequenceRunning.
func (s *TaskSequence) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSequenceRunning
	}
	if s.useEngine {
		if s.manager == nil || s.manager.Engine() == nil {
			s.mu.Unlock()
			return ErrNoEngine
		}
	} else if s.dedicated == nil {
		s.mu.Unlock()
		return ErrNoDedicatedConnection
	}

	runCtx, cancel := context.WithCancel(ctx)
	runID := uuid.New().String()
	done := make(chan struct{})
	ops := append([]Operation(nil), s.operations...)

	s.running = true
	s.runID = runID
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	for _, op := range ops {
		for _, c := range op.Base().Conditions() {
			c.Base().reset()
		}
	}

	now := time.Now().UTC()
	s.logger.Info().Str("run_id", runID).Int("operations", len(ops)).Msg("sequence starting")
	s.observers.publish(SequenceEvent{Type: SequenceRunningChanged, Sequence: s, RunID: runID, Running: true, State: StateRunning, Timestamp: now})
	s.observers.publish(SequenceEvent{Type: SequenceStarted, Sequence: s, RunID: runID, Running: true, State: StateRunning, Timestamp: now})

	go s.run(runCtx, cancel, runID, ops, done)
	return nil
}

// Run starts the sequence and waits for it to finish.
func (s *TaskSequence) Run(ctx context.Context) (*RunResult, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	<-done

	return s.LastResult(), nil
}

// RequestCancellation asks the current run to stop. It returns immediately.
func (s *TaskSequence) RequestCancellation() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// WaitForCompletion blocks until the current run ends or ctx is done.
func (s *TaskSequence) WaitForCompletion(ctx context.Context) error {
	s.mu.RLock()
	running, done := s.running, s.done
	s.mu.RUnlock()
	if !running {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TaskSequence) run(ctx context.Context, cancel context.CancelFunc, runID string, ops []Operation, done chan struct{}) {
	defer close(done)
	defer cancel()

	result := &RunResult{
		RunID:     runID,
		Sequence:  s.name,
		StartedAt: time.Now().UTC(),
	}
	stats := &runStats{}

	err := s.execute(ctx, ops, stats)

	result.FinishedAt = time.Now().UTC()
	result.Iterations = stats.iterations
	result.OperationsRun = stats.operationsRun
	result.Writes = stats.writes

	switch {
	case err == nil || errors.Is(err, errStopSequence):
		result.State = StateCompleted
	case ctx.Err() != nil:
		result.State = StateCancelled
	default:
		result.State = StateFaulted
		result.Err = err
	}

	s.mu.Lock()
	s.running = false
	s.runID = ""
	s.cancel = nil
	s.last = result
	s.mu.Unlock()

	logEvent := s.logger.Info()
	if result.State == StateFaulted {
		logEvent = s.logger.Error().Err(result.Err)
	}
	logEvent.
		Str("run_id", runID).
		Str("state", result.State.String()).
		Int("iterations", result.Iterations).
		Int("writes", result.Writes).
		Dur("duration", result.Duration()).
		Msg("sequence finished")

	snapshot := *result
	s.observers.publish(SequenceEvent{Type: SequenceRunningChanged, Sequence: s, RunID: runID, Running: false, State: result.State, Err: result.Err, Result: &snapshot, Timestamp: result.FinishedAt})
	s.observers.publish(SequenceEvent{Type: terminalEventType(result.State), Sequence: s, RunID: runID, State: result.State, Err: result.Err, Result: &snapshot, Timestamp: result.FinishedAt})
}

func terminalEventType(state State) SequenceEventType {
	switch state {
	case StateCancelled:
		return SequenceCancelled
	case StateFaulted:
		return SequenceFaulted
	default:
		return SequenceCompleted
	}
}

// execute holds the busy token (engine connection only) for the whole run
// and releases it before returning.
func (s *TaskSequence) execute(ctx context.Context, ops []Operation, stats *runStats) error {
	s.mu.RLock()
	useEngine, dedicated, manager := s.useEngine, s.dedicated, s.manager
	runCount, priority, idle := s.runCount, s.priority, s.idleInterval
	s.mu.RUnlock()

	x := &ExecutionContext{
		Sequence:  s,
		ChunkSize: connection.DefaultChunkSize,
		Rand:      s.rng,
		Logger:    s.logger,
		stats:     stats,
	}

	if useEngine {
		eng := manager.Engine()
		if eng == nil {
			return ErrNoEngine
		}
		acquire := eng.BusyLock().Acquire
		if priority {
			acquire = eng.BusyLock().AcquirePriority
		}
		token, err := acquire(ctx)
		if err != nil {
			return err
		}
		defer token.Release()

		x.Token = token
		x.Connection = eng.Connection()
		x.ChunkSize = eng.ChunkSize()
		if x.Connection == nil {
			return engine.ErrNoConnection
		}
	} else {
		x.Connection = dedicated
	}

	if !x.Connection.IsConnected() {
		return connection.ErrNotConnected
	}

	for pass := 0; runCount < 0 || pass < runCount; pass++ {
		ran := false
		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return err
			}
			executed, err := s.step(ctx, op, x)
			if executed {
				ran = true
				stats.operationsRun++
			}
			if err != nil {
				return err
			}
		}
		stats.iterations++

		if !ran && runCount < 0 {
			if err := sleep(ctx, idle); err != nil {
				return err
			}
		}
	}
	return nil
}

// step runs one operation if it is enabled, triggered and its conditions
// hold. executed reports whether the effect ran.
func (s *TaskSequence) step(ctx context.Context, op Operation, x *ExecutionContext) (executed bool, err error) {
	base := op.Base()
	if !base.IsEnabled() {
		return false, nil
	}

	if trigger := base.Trigger(); trigger != nil {
		ok, err := trigger.Roll(ctx, x.Rand)
		if err != nil || !ok {
			return false, err
		}
	}

	cache := NewCachedConditionData()
	ok, err := Evaluate(ctx, base.Conditions(), x, cache)
	if err != nil || !ok {
		return false, err
	}

	base.setRunning(true)
	defer base.setRunning(false)
	defer func() {
		if r := recover(); r != nil {
			executed = true
			err = fmt.Errorf("%w: %s: %v", ErrOperationPanic, op.Kind(), r)
		}
	}()

	return true, op.Run(ctx, x)
}
