package sequencing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Operation is one schedulable step of a sequence.
type Operation interface {
	// Kind is the registry tag of the variant.
	Kind() string

	// Base exposes the shared enable/running/conditions state.
	Base() *OperationBase

	// Run performs the operation's effect. Conditions have already passed.
	Run(ctx context.Context, x *ExecutionContext) error
}

// OperationBase carries the state every operation variant shares. Embed it
// and call Init with the outer value.
type OperationBase struct {
	mu         sync.RWMutex
	self       Operation
	sequence   *TaskSequence
	enabled    bool
	running    bool
	conditions []Condition
	trigger    *RandomTrigger

	observers Observers[OperationEvent]
}

// Init binds the base to its outer operation and enables it.
func (b *OperationBase) Init(self Operation) {
	b.self = self
	b.enabled = true
}

// Base implements Operation.
func (b *OperationBase) Base() *OperationBase { return b }

// Sequence returns the owning sequence, or nil.
func (b *OperationBase) Sequence() *TaskSequence {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

// IsEnabled reports whether the operation runs.
func (b *OperationBase) IsEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetEnabled toggles the operation. Allowed while the sequence runs; the
// change applies from the next time the operation comes up.
func (b *OperationBase) SetEnabled(enabled bool) {
	b.mu.Lock()
	changed := b.enabled != enabled
	b.enabled = enabled
	b.mu.Unlock()

	if changed {
		b.observers.publish(OperationEvent{Type: OperationEnabledChanged, Operation: b.self, Value: enabled})
	}
}

// IsRunning reports whether the operation's effect is executing.
func (b *OperationBase) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func (b *OperationBase) setRunning(running bool) {
	b.mu.Lock()
	changed := b.running != running
	b.running = running
	b.mu.Unlock()

	if changed {
		b.observers.publish(OperationEvent{Type: OperationRunningChanged, Operation: b.self, Value: running})
	}
}

// Subscribe registers fn for operation events.
func (b *OperationBase) Subscribe(fn func(OperationEvent)) func() {
	return b.observers.Subscribe(fn)
}

// Conditions returns a copy of the operation's conditions.
func (b *OperationBase) Conditions() []Condition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Condition(nil), b.conditions...)
}

// AddCondition appends a condition. Rejected while the sequence runs.
func (b *OperationBase) AddCondition(c Condition) error {
	if seq := b.Sequence(); seq != nil && seq.IsRunning() {
		return ErrSequenceRunning
	}
	b.mu.Lock()
	b.conditions = append(b.conditions, c)
	b.mu.Unlock()
	return nil
}

// RemoveCondition removes a condition. Rejected while the sequence runs.
func (b *OperationBase) RemoveCondition(c Condition) error {
	if seq := b.Sequence(); seq != nil && seq.IsRunning() {
		return ErrSequenceRunning
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, candidate := range b.conditions {
		if candidate == c {
			b.conditions = append(b.conditions[:i], b.conditions[i+1:]...)
			return nil
		}
	}
	return ErrConditionNotFound
}

// Trigger returns the random trigger, or nil.
func (b *OperationBase) Trigger() *RandomTrigger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.trigger
}

// SetTrigger sets or clears the random trigger.
func (b *OperationBase) SetTrigger(t *RandomTrigger) {
	b.mu.Lock()
	b.trigger = t
	b.mu.Unlock()
}

func (b *OperationBase) attach(seq *TaskSequence) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sequence != nil && b.sequence != seq {
		return ErrOperationOwned
	}
	b.sequence = seq
	return nil
}

func (b *OperationBase) detach() {
	b.mu.Lock()
	b.sequence = nil
	b.mu.Unlock()
}

// RandomTrigger delays and/or randomly skips an operation before its
// conditions are evaluated.
type RandomTrigger struct {
	// MinWait and MaxWait bound a random pause before the operation. Both
	// zero means no pause.
	MinWait time.Duration
	MaxWait time.Duration

	// Chance runs the operation one time in Chance. Values below 2 always run.
	Chance uint32
}

// Validate checks the trigger configuration.
func (t *RandomTrigger) Validate() error {
	if t.MinWait < 0 || t.MaxWait < 0 {
		return fmt.Errorf("trigger wait must be non-negative")
	}
	if t.MaxWait < t.MinWait {
		return fmt.Errorf("trigger max wait %s is less than min wait %s", t.MaxWait, t.MinWait)
	}
	return nil
}

// Roll waits for the trigger interval and reports whether the operation
// should run on this pass.
func (t *RandomTrigger) Roll(ctx context.Context, rng *rand.Rand) (bool, error) {
	wait := t.MinWait
	if span := t.MaxWait - t.MinWait; span > 0 {
		wait += time.Duration(rng.Int64N(int64(span) + 1))
	}
	if wait > 0 {
		if err := sleep(ctx, wait); err != nil {
			return false, err
		}
	}
	if t.Chance > 1 && rng.Uint32N(t.Chance) != 0 {
		return false, nil
	}
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
