package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"automation-service/internal/models"
)

const executionColumns = `id::text, rule_id::text, trigger_payload, current_step_index, status, next_fire_at, attempts, COALESCE(last_error, ''), created_at, updated_at`

func scanExecution(row pgx.Row) (models.RuleExecution, error) {
	var e models.RuleExecution
	var payload []byte
	if err := row.Scan(&e.ID, &e.RuleID, &payload, &e.CurrentStepIndex, &e.Status,
		&e.NextFireAt, &e.Attempts, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return models.RuleExecution{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.TriggerPayload); err != nil {
			return models.RuleExecution{}, fmt.Errorf("failed to unmarshal trigger payload: %w", err)
		}
	}
	return e, nil
}

// CreateExecution persists a freshly matched pending execution with its
// trigger payload snapshot.
func (d *DB) CreateExecution(ctx context.Context, e models.RuleExecution) error {
	payload, err := json.Marshal(e.TriggerPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger payload: %w", err)
	}

	query := `
	INSERT INTO rule_executions (id, rule_id, trigger_payload, current_step_index, status, next_fire_at, attempts, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`

	_, err = d.Pool.Exec(ctx, query,
		e.ID, e.RuleID, payload, e.CurrentStepIndex, e.Status, e.NextFireAt, e.Attempts)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// GetExecution fetches one execution by id.
func (d *DB) GetExecution(ctx context.Context, id string) (models.RuleExecution, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM rule_executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.RuleExecution{}, ErrExecutionNotFound
		}
		return models.RuleExecution{}, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return e, nil
}

// ListExecutionsByRule returns the execution history of one rule, newest
// first, for the operator-facing history surface.
func (d *DB) ListExecutionsByRule(ctx context.Context, ruleID string, limit, offset int) ([]models.RuleExecution, error) {
	query := `
	SELECT ` + executionColumns + `
	FROM rule_executions
	WHERE rule_id = $1
	ORDER BY created_at DESC
	LIMIT $2 OFFSET $3`

	rows, err := d.Pool.Query(ctx, query, ruleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for rule %s: %w", ruleID, err)
	}
	defer rows.Close()

	var execs []models.RuleExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, nil
}

// ClaimDue atomically claims up to batch due pending executions by moving
// them to running. SKIP LOCKED keeps concurrently polling workers from
// claiming the same rows.
func (d *DB) ClaimDue(ctx context.Context, now time.Time, batch int) ([]models.RuleExecution, error) {
	query := `
	UPDATE rule_executions
	SET status = $1, updated_at = $2
	WHERE id IN (
		SELECT id FROM rule_executions
		WHERE status = $3 AND next_fire_at <= $2
		ORDER BY next_fire_at
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + executionColumns

	rows, err := d.Pool.Query(ctx, query, models.ExecutionRunning, now, models.ExecutionPending, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due executions: %w", err)
	}
	defer rows.Close()

	var execs []models.RuleExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, nil
}

// AdvanceStep moves a running execution to its next step and back to
// pending. The status guard makes the whole transition a single conditional
// update; false means somebody else (cancellation) won the race.
func (d *DB) AdvanceStep(ctx context.Context, id string, nextIndex int, nextFireAt time.Time) (bool, error) {
	query := `
	UPDATE rule_executions
	SET status = $1, current_step_index = $2, next_fire_at = $3, attempts = 0, updated_at = NOW()
	WHERE id = $4 AND status = $5`

	tag, err := d.Pool.Exec(ctx, query,
		models.ExecutionPending, nextIndex, nextFireAt, id, models.ExecutionRunning)
	if err != nil {
		return false, fmt.Errorf("failed to advance execution %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteExecution terminates a running execution after its last step.
func (d *DB) CompleteExecution(ctx context.Context, id string) (bool, error) {
	tag, err := d.Pool.Exec(ctx,
		`UPDATE rule_executions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		models.ExecutionCompleted, id, models.ExecutionRunning)
	if err != nil {
		return false, fmt.Errorf("failed to complete execution %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailExecution terminates a running execution with the failure reason
// recorded for operator visibility.
func (d *DB) FailExecution(ctx context.Context, id, reason string) (bool, error) {
	tag, err := d.Pool.Exec(ctx,
		`UPDATE rule_executions SET status = $1, last_error = $2, updated_at = NOW() WHERE id = $3 AND status = $4`,
		models.ExecutionFailed, reason, id, models.ExecutionRunning)
	if err != nil {
		return false, fmt.Errorf("failed to fail execution %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RescheduleRetry puts a running execution back to pending on the same step
// with the attempt counter bumped and the backoff applied.
func (d *DB) RescheduleRetry(ctx context.Context, id string, attempts int, nextFireAt time.Time, reason string) (bool, error) {
	query := `
	UPDATE rule_executions
	SET status = $1, attempts = $2, next_fire_at = $3, last_error = $4, updated_at = NOW()
	WHERE id = $5 AND status = $6`

	tag, err := d.Pool.Exec(ctx, query,
		models.ExecutionPending, attempts, nextFireAt, reason, id, models.ExecutionRunning)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule execution %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelExecution cancels a single non-terminal execution.
func (d *DB) CancelExecution(ctx context.Context, id string) (bool, error) {
	query := `
	UPDATE rule_executions
	SET status = $1, updated_at = NOW()
	WHERE id = $2 AND status IN ($3, $4)`

	tag, err := d.Pool.Exec(ctx, query,
		models.ExecutionCancelled, id, models.ExecutionPending, models.ExecutionRunning)
	if err != nil {
		return false, fmt.Errorf("failed to cancel execution %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelByRule cancels every non-terminal execution of a rule. An in-flight
// step that already reached its own terminal transition keeps it; the guard
// here only touches pending and running rows.
func (d *DB) CancelByRule(ctx context.Context, ruleID string) (int64, error) {
	query := `
	UPDATE rule_executions
	SET status = $1, updated_at = NOW()
	WHERE rule_id = $2 AND status IN ($3, $4)`

	tag, err := d.Pool.Exec(ctx, query,
		models.ExecutionCancelled, ruleID, models.ExecutionPending, models.ExecutionRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel executions for rule %s: %w", ruleID, err)
	}
	return tag.RowsAffected(), nil
}

// ReclaimStale returns running rows whose claim is older than the threshold
// to pending. Covers worker crashes between claim and terminal transition;
// downstream actions are idempotent, so redelivery is safe.
func (d *DB) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	query := `
	UPDATE rule_executions
	SET status = $1
	WHERE status = $2 AND updated_at < $3`

	tag, err := d.Pool.Exec(ctx, query, models.ExecutionPending, models.ExecutionRunning, before)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale executions: %w", err)
	}
	return tag.RowsAffected(), nil
}
