package models

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType categorizes events in the system.
type EventType string

const (
	// Sequence events
	EventTypeSequenceStarted   EventType = "sequence.started"
	EventTypeSequenceCompleted EventType = "sequence.completed"
	EventTypeSequenceCancelled EventType = "sequence.cancelled"
	EventTypeSequenceFaulted   EventType = "sequence.faulted"

	// Connection events
	EventTypeConnectionChanged EventType = "connection.changed"

	// Memory events
	EventTypeMemoryWritten EventType = "memory.written"

	// System events
	EventTypeError   EventType = "error"
	EventTypeWarning EventType = "warning"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeSequence   EntityType = "sequence"
	EntityTypeConnection EntityType = "connection"
	EntityTypeSystem     EntityType = "system"
)

// Event represents an append-only log entry.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the sequence name, connection type, or "memengine".
	EntityID string `json:"entity_id"`

	Payload  json.RawMessage   `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks if the event is valid.
func (e *Event) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(string(e.Type)) == "" {
		validation.AddMessage("type", "event type is required")
	}
	if strings.TrimSpace(string(e.EntityType)) == "" {
		validation.AddMessage("entity_type", "entity_type is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		validation.AddMessage("entity_id", "entity_id is required")
	}
	return validation.Err()
}

// SequenceRunPayload is the payload for sequence.* events.
type SequenceRunPayload struct {
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	Writes     int    `json:"writes,omitempty"`
	Duration   string `json:"duration,omitempty"`
}

// ConnectionChangedPayload is the payload for connection.changed events.
type ConnectionChangedPayload struct {
	OldType string `json:"old_type,omitempty"`
	NewType string `json:"new_type,omitempty"`
	Target  string `json:"target,omitempty"`
}

// MemoryWrittenPayload is the payload for memory.written events.
type MemoryWrittenPayload struct {
	Address  string `json:"address"`
	DataType string `json:"data_type"`
	Value    string `json:"value"`
	Source   string `json:"source,omitempty"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}
