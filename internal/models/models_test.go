package models

import (
	"errors"
	"testing"
	"time"
)

func TestSequenceRunValidate(t *testing.T) {
	now := time.Now().UTC()
	earlier := now.Add(-time.Second)

	valid := &SequenceRun{Sequence: "a", State: RunStateCompleted, StartedAt: earlier, FinishedAt: &now}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid run, got %v", err)
	}

	running := &SequenceRun{Sequence: "a", State: RunStateRunning, StartedAt: now}
	if err := running.Validate(); err != nil {
		t.Fatalf("expected running run valid, got %v", err)
	}

	invalid := &SequenceRun{State: RunStateFaulted, StartedAt: now, Writes: -1}
	err := invalid.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ValidationErrors
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verr.Errors) != 3 {
		t.Fatalf("expected 3 field errors, got %d: %v", len(verr.Errors), err)
	}
}

func TestEventValidate(t *testing.T) {
	event := &Event{Type: EventTypeSequenceStarted, EntityType: EntityTypeSequence}
	if err := event.Validate(); err == nil {
		t.Fatal("expected missing entity_id to fail")
	}
	event.EntityID = "freeze-value"
	if err := event.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
