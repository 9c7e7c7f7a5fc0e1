package models

import (
	"time"
)

// RunState is the persisted state of a sequence run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateCancelled RunState = "cancelled"
	RunStateFaulted   RunState = "faulted"
)

// IsTerminal reports whether the run has finished.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateCancelled || s == RunStateFaulted
}

// SequenceRun records one run of a task sequence.
type SequenceRun struct {
	// ID is the run ID assigned when the sequence started.
	ID string `json:"id"`

	// Sequence is the sequence name.
	Sequence string `json:"sequence"`

	State RunState `json:"state"`

	// Error is the fault message of a faulted run.
	Error string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Iterations counts completed passes over the operation list.
	Iterations int `json:"iterations"`

	// OperationsRun counts operations whose effect executed.
	OperationsRun int `json:"operations_run"`

	// Writes counts device writes issued by the run.
	Writes int `json:"writes"`

	// Connection is "engine" or "dedicated".
	Connection string `json:"connection,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Duration returns the run length, measured to now while running.
func (r *SequenceRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Validate checks if the run record is valid.
func (r *SequenceRun) Validate() error {
	validation := &ValidationErrors{}
	if r.Sequence == "" {
		validation.AddMessage("sequence", "sequence is required")
	}
	switch r.State {
	case RunStateRunning, RunStateCompleted, RunStateCancelled, RunStateFaulted:
	default:
		validation.AddMessage("state", "unknown run state "+string(r.State))
	}
	if r.State.IsTerminal() && r.FinishedAt == nil {
		validation.AddMessage("finished_at", "finished runs need finished_at")
	}
	if r.FinishedAt != nil && r.FinishedAt.Before(r.StartedAt) {
		validation.AddMessage("finished_at", "finished_at is before started_at")
	}
	if r.Iterations < 0 || r.OperationsRun < 0 || r.Writes < 0 {
		validation.AddMessage("counters", "counters must be non-negative")
	}
	return validation.Err()
}

// RunSummary aggregates runs of one sequence.
type RunSummary struct {
	Sequence    string     `json:"sequence"`
	Runs        int64      `json:"runs"`
	Completed   int64      `json:"completed"`
	Cancelled   int64      `json:"cancelled"`
	Faulted     int64      `json:"faulted"`
	TotalWrites int64      `json:"total_writes"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// RunQuery defines filters for querying runs.
type RunQuery struct {
	// Sequence filters by sequence name.
	Sequence *string

	// State filters by run state.
	State *RunState

	// Since filters to runs started at or after this time.
	Since *time.Time

	// Until filters to runs started before this time.
	Until *time.Time

	// Limit is the maximum records to return.
	Limit int
}
