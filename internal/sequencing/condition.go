package sequencing

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// OutputMode maps a condition's raw predicate to its reported result.
type OutputMode uint8

const (
	// WhileMet is true whenever the predicate holds.
	WhileMet OutputMode = iota
	// WhileNotMet is true whenever the predicate does not hold.
	WhileNotMet
	// ChangeToMet is true on the pass where the predicate starts holding.
	ChangeToMet
	// ChangeToNotMet is true on the pass where the predicate stops holding.
	ChangeToNotMet
	WhileMetOnce
	WhileNotMetOnce
	ChangeToMetOnce
	ChangeToNotMetOnce
)

var outputModeNames = []string{
	"while_met", "while_not_met", "change_to_met", "change_to_not_met",
	"while_met_once", "while_not_met_once", "change_to_met_once", "change_to_not_met_once",
}

func (m OutputMode) String() string {
	if int(m) < len(outputModeNames) {
		return outputModeNames[m]
	}
	return fmt.Sprintf("output_mode(%d)", uint8(m))
}

// ParseOutputMode parses a mode name such as "change_to_met" or "ChangeToMet".
func ParseOutputMode(s string) (OutputMode, error) {
	normalized := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	if normalized == "" {
		return WhileMet, nil
	}
	for i, name := range outputModeNames {
		if strings.ReplaceAll(name, "_", "") == normalized {
			return OutputMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown output mode %q", s)
}

func (m OutputMode) once() bool { return m >= WhileMetOnce }

func (m OutputMode) base() OutputMode {
	if m.once() {
		return m - WhileMetOnce
	}
	return m
}

// Condition is a predicate over device state that gates an operation.
type Condition interface {
	// Kind is the registry tag of the variant.
	Kind() string

	// Base exposes the shared enable/output-mode state.
	Base() *ConditionBase

	// IsConditionMet evaluates the raw predicate. It must read the device only
	// through cache so repeated calls within one pass issue no extra I/O.
	IsConditionMet(ctx context.Context, x *ExecutionContext, cache *CachedConditionData) (bool, error)
}

// ConditionBase carries the state every condition variant shares. Embed it
// and call Init with the outer value.
type ConditionBase struct {
	mu         sync.Mutex
	self       Condition
	enabled    bool
	outputMode OutputMode
	hasLast    bool
	lastRaw    bool
	fired      bool

	observers Observers[ConditionEvent]
}

// Init binds the base to its outer condition and enables it.
func (b *ConditionBase) Init(self Condition) {
	b.self = self
	b.enabled = true
}

// Base implements Condition.
func (b *ConditionBase) Base() *ConditionBase { return b }

// IsEnabled reports whether the condition participates in evaluation.
func (b *ConditionBase) IsEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// SetEnabled toggles the condition. Disabled conditions count as met.
func (b *ConditionBase) SetEnabled(enabled bool) {
	b.mu.Lock()
	changed := b.enabled != enabled
	b.enabled = enabled
	b.mu.Unlock()

	if changed {
		b.observers.publish(ConditionEvent{Type: ConditionEnabledChanged, Condition: b.self})
	}
}

// OutputMode returns the configured output mode.
func (b *ConditionBase) OutputMode() OutputMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputMode
}

// SetOutputMode changes the output mode and clears edge/once tracking.
func (b *ConditionBase) SetOutputMode(mode OutputMode) {
	b.mu.Lock()
	changed := b.outputMode != mode
	b.outputMode = mode
	b.hasLast, b.fired = false, false
	b.mu.Unlock()

	if changed {
		b.observers.publish(ConditionEvent{Type: ConditionOutputModeChanged, Condition: b.self})
	}
}

// Subscribe registers fn for condition events.
func (b *ConditionBase) Subscribe(fn func(ConditionEvent)) func() {
	return b.observers.Subscribe(fn)
}

func (b *ConditionBase) notify(t ConditionEventType) {
	b.observers.publish(ConditionEvent{Type: t, Condition: b.self})
}

// reset clears edge and once tracking at the start of a run.
func (b *ConditionBase) reset() {
	b.mu.Lock()
	b.hasLast, b.lastRaw, b.fired = false, false, false
	b.mu.Unlock()
}

// apply maps the raw predicate through the output mode.
func (b *ConditionBase) apply(raw bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out bool
	switch b.outputMode.base() {
	case WhileMet:
		out = raw
	case WhileNotMet:
		out = !raw
	case ChangeToMet:
		out = b.hasLast && !b.lastRaw && raw
	case ChangeToNotMet:
		out = b.hasLast && b.lastRaw && !raw
	}
	b.hasLast, b.lastRaw = true, raw

	if b.outputMode.once() {
		if b.fired {
			return false
		}
		if out {
			b.fired = true
		}
	}
	return out
}

// Evaluate reports whether every enabled condition is met, stopping at the
// first one that is not. Errors are device faults or cancellation.
func Evaluate(ctx context.Context, conditions []Condition, x *ExecutionContext, cache *CachedConditionData) (bool, error) {
	for _, c := range conditions {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		base := c.Base()
		if !base.IsEnabled() {
			continue
		}
		raw, err := c.IsConditionMet(ctx, x, cache)
		if err != nil {
			return false, err
		}
		if !base.apply(raw) {
			return false, nil
		}
	}
	return true, nil
}
