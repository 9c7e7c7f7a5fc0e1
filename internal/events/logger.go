// Package events records sequence activity into the event log and run
// history.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/memengine/internal/models"
	"github.com/opencode-ai/memengine/internal/sequencing"
)

// Repository is the minimal interface needed to write events.
type Repository interface {
	Create(ctx context.Context, event *models.Event) error
}

// RunRepository is the minimal interface needed to write run history.
type RunRepository interface {
	Create(ctx context.Context, run *models.SequenceRun) error
	Finish(ctx context.Context, run *models.SequenceRun) error
}

// LogSequenceEvent records a sequence lifecycle event. RunningChanged events
// carry no information of their own and are skipped.
func LogSequenceEvent(ctx context.Context, repo Repository, ev sequencing.SequenceEvent) error {
	if repo == nil {
		return fmt.Errorf("event repository is required")
	}
	if ev.Sequence == nil {
		return fmt.Errorf("sequence is required")
	}

	eventType, ok := sequenceEventTypes[ev.Type]
	if !ok {
		return nil
	}

	payload := models.SequenceRunPayload{
		RunID: ev.RunID,
		State: ev.State.String(),
	}
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
	}
	if ev.Result != nil {
		payload.Iterations = ev.Result.Iterations
		payload.Writes = ev.Result.Writes
		payload.Duration = ev.Result.Duration().String()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sequence payload: %w", err)
	}

	return repo.Create(ctx, &models.Event{
		Timestamp:  ev.Timestamp,
		Type:       eventType,
		EntityType: models.EntityTypeSequence,
		EntityID:   ev.Sequence.Name(),
		Payload:    data,
	})
}

var sequenceEventTypes = map[sequencing.SequenceEventType]models.EventType{
	sequencing.SequenceStarted:   models.EventTypeSequenceStarted,
	sequencing.SequenceCompleted: models.EventTypeSequenceCompleted,
	sequencing.SequenceCancelled: models.EventTypeSequenceCancelled,
	sequencing.SequenceFaulted:   models.EventTypeSequenceFaulted,
}

// LogConnectionChanged records an engine connection swap.
func LogConnectionChanged(ctx context.Context, repo Repository, oldType, newType, target string) error {
	if repo == nil {
		return fmt.Errorf("event repository is required")
	}

	payload, err := json.Marshal(models.ConnectionChangedPayload{
		OldType: oldType,
		NewType: newType,
		Target:  target,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal connection payload: %w", err)
	}

	entityID := newType
	if entityID == "" {
		entityID = "none"
	}
	return repo.Create(ctx, &models.Event{
		Type:       models.EventTypeConnectionChanged,
		EntityType: models.EntityTypeConnection,
		EntityID:   entityID,
		Payload:    payload,
	})
}

// LogMemoryWritten records a direct write made outside any sequence.
func LogMemoryWritten(ctx context.Context, repo Repository, address, dataType, value, source string) error {
	if repo == nil {
		return fmt.Errorf("event repository is required")
	}
	if address == "" {
		return fmt.Errorf("address is required")
	}

	payload, err := json.Marshal(models.MemoryWrittenPayload{
		Address:  address,
		DataType: dataType,
		Value:    value,
		Source:   source,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal write payload: %w", err)
	}

	return repo.Create(ctx, &models.Event{
		Type:       models.EventTypeMemoryWritten,
		EntityType: models.EntityTypeSystem,
		EntityID:   "memengine",
		Payload:    payload,
	})
}

// RunRecord converts a sequence event into its run history row.
func RunRecord(ev sequencing.SequenceEvent) *models.SequenceRun {
	run := &models.SequenceRun{
		ID:         ev.RunID,
		Sequence:   ev.Sequence.Name(),
		State:      runState(ev.State),
		StartedAt:  ev.Timestamp,
		Connection: "engine",
	}
	if !ev.Sequence.UsesEngineConnection() {
		run.Connection = "dedicated"
	}
	if ev.Err != nil {
		run.Error = ev.Err.Error()
	}
	if r := ev.Result; r != nil {
		finished := r.FinishedAt
		run.StartedAt = r.StartedAt
		run.FinishedAt = &finished
		run.Iterations = r.Iterations
		run.OperationsRun = r.OperationsRun
		run.Writes = r.Writes
	}
	return run
}

func runState(s sequencing.State) models.RunState {
	switch s {
	case sequencing.StateCompleted:
		return models.RunStateCompleted
	case sequencing.StateCancelled:
		return models.RunStateCancelled
	case sequencing.StateFaulted:
		return models.RunStateFaulted
	default:
		return models.RunStateRunning
	}
}
