package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-ai/memengine/internal/models"
)

// Run repository errors.
var (
	ErrRunNotFound = errors.New("sequence run not found")
	ErrInvalidRun  = errors.New("invalid sequence run")
)

const runColumns = `id, sequence, state, error, started_at, finished_at,
	iterations, operations_run, writes, connection, metadata_json`

// RunRepository handles sequence run persistence.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a run record.
func (r *RunRepository) Create(ctx context.Context, run *models.SequenceRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.State == "" {
		run.State = models.RunStateRunning
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}

	metadataJSON, err := marshalMetadata(run.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO sequence_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Sequence,
		string(run.State),
		nullString(run.Error),
		formatTime(run.StartedAt),
		nullTime(run.FinishedAt),
		run.Iterations,
		run.OperationsRun,
		run.Writes,
		nullString(run.Connection),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sequence run: %w", err)
	}
	return nil
}

// Finish records the terminal state and counters of a run.
func (r *RunRepository) Finish(ctx context.Context, run *models.SequenceRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	if !run.State.IsTerminal() {
		return fmt.Errorf("%w: state %s is not terminal", ErrInvalidRun, run.State)
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE sequence_runs
		SET state = ?, error = ?, finished_at = ?, iterations = ?, operations_run = ?, writes = ?
		WHERE id = ?
	`,
		string(run.State),
		nullString(run.Error),
		nullTime(run.FinishedAt),
		run.Iterations,
		run.OperationsRun,
		run.Writes,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sequence run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Get retrieves a run by ID.
func (r *RunRepository) Get(ctx context.Context, id string) (*models.SequenceRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sequence_runs WHERE id = ?`, id)
	run, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// Query retrieves runs matching the filters, newest first.
func (r *RunRepository) Query(ctx context.Context, q models.RunQuery) ([]*models.SequenceRun, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + runColumns + ` FROM sequence_runs WHERE 1=1`
	args := []any{}

	if q.Sequence != nil {
		query += ` AND sequence = ?`
		args = append(args, *q.Sequence)
	}
	if q.State != nil {
		query += ` AND state = ?`
		args = append(args, string(*q.State))
	}
	if q.Since != nil {
		query += ` AND started_at >= ?`
		args = append(args, formatTime(*q.Since))
	}
	if q.Until != nil {
		query += ` AND started_at < ?`
		args = append(args, formatTime(*q.Until))
	}

	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sequence runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SequenceRun
	for rows.Next() {
		run, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sequence runs: %w", err)
	}
	return runs, nil
}

// Summarize aggregates runs per sequence, ordered by name.
func (r *RunRepository) Summarize(ctx context.Context, since *time.Time) ([]*models.RunSummary, error) {
	query := `SELECT sequence,
		COUNT(*),
		COALESCE(SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN state = 'cancelled' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN state = 'faulted' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(writes), 0),
		MAX(started_at)
		FROM sequence_runs`
	args := []any{}
	if since != nil {
		query += ` WHERE started_at >= ?`
		args = append(args, formatTime(*since))
	}
	query += ` GROUP BY sequence ORDER BY sequence`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize sequence runs: %w", err)
	}
	defer rows.Close()

	var summaries []*models.RunSummary
	for rows.Next() {
		var s models.RunSummary
		var lastRun sql.NullString
		if err := rows.Scan(&s.Sequence, &s.Runs, &s.Completed, &s.Cancelled, &s.Faulted, &s.TotalWrites, &lastRun); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		if lastRun.Valid {
			t := parseTime(lastRun.String)
			s.LastRunAt = &t
		}
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run summaries: %w", err)
	}
	return summaries, nil
}

// MarkInterrupted closes runs left in the running state by a previous
// process as cancelled and returns how many were closed.
func (r *RunRepository) MarkInterrupted(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sequence_runs SET state = ?, finished_at = ? WHERE state = ?
	`, string(models.RunStateCancelled), formatTime(time.Now()), string(models.RunStateRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to close interrupted runs: %w", err)
	}
	return result.RowsAffected()
}

// Delete removes a run by ID.
func (r *RunRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sequence_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sequence run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (r *RunRepository) scan(row rowScanner) (*models.SequenceRun, error) {
	var run models.SequenceRun
	var state, startedAt string
	var errText, finishedAt, connection, metadataJSON sql.NullString

	if err := row.Scan(
		&run.ID,
		&run.Sequence,
		&state,
		&errText,
		&startedAt,
		&finishedAt,
		&run.Iterations,
		&run.OperationsRun,
		&run.Writes,
		&connection,
		&metadataJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sequence run: %w", err)
	}

	run.State = models.RunState(state)
	run.Error = errText.String
	run.Connection = connection.String
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	run.Metadata = r.db.unmarshalMetadata(metadataJSON, "run_id", run.ID)

	return &run, nil
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
