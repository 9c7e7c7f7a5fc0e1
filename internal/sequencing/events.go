package sequencing

import (
	"sort"
	"sync"
	"time"
)

// Observers is a subscription registry for one event type.
type Observers[E any] struct {
	mu     sync.RWMutex
	nextID uint64
	fns    map[uint64]func(E)
}

// Subscribe registers fn and returns a func that removes it. Handlers run
// synchronously, in subscription order, on the goroutine that raised the
// event.
func (o *Observers[E]) Subscribe(fn func(E)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = make(map[uint64]func(E))
	}
	o.nextID++
	id := o.nextID
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *Observers[E]) publish(event E) {
	o.mu.RLock()
	ids := make([]uint64, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(E), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}

// SequenceEventType identifies a sequence lifecycle event.
type SequenceEventType string

const (
	SequenceRunningChanged SequenceEventType = "sequence.running_changed"
	SequenceStarted        SequenceEventType = "sequence.started"
	SequenceCompleted      SequenceEventType = "sequence.completed"
	SequenceCancelled      SequenceEventType = "sequence.cancelled"
	SequenceFaulted        SequenceEventType = "sequence.faulted"
)

// SequenceEvent is raised by a TaskSequence exactly once per transition.
type SequenceEvent struct {
	Type      SequenceEventType
	Sequence  *TaskSequence
	RunID     string
	Running   bool
	State     State
	Err       error
	Result    *RunResult
	Timestamp time.Time
}

// OperationEventType identifies an operation state change.
type OperationEventType string

const (
	OperationEnabledChanged OperationEventType = "operation.enabled_changed"
	OperationRunningChanged OperationEventType = "operation.running_changed"
)

// OperationEvent is raised when an operation flag flips.
type OperationEvent struct {
	Type      OperationEventType
	Operation Operation
	Value     bool
}

// ConditionEventType identifies a condition state change.
type ConditionEventType string

const (
	ConditionEnabledChanged    ConditionEventType = "condition.enabled_changed"
	ConditionOutputModeChanged ConditionEventType = "condition.output_mode_changed"
	ConditionCompareChanged    ConditionEventType = "condition.compare_changed"
)

// ConditionEvent is raised when a condition's configuration changes.
type ConditionEvent struct {
	Type      ConditionEventType
	Condition Condition
}
