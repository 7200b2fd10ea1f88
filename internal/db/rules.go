package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"automation-service/internal/models"
)

// CreateRule inserts a new automation rule. Conditions and steps are stored
// as JSONB documents.
func (d *DB) CreateRule(ctx context.Context, r models.AutomationRule) (models.AutomationRule, error) {
	if err := r.Validate(); err != nil {
		return models.AutomationRule{}, fmt.Errorf("invalid rule: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	conds, err := json.Marshal(r.Conditions)
	if err != nil {
		return models.AutomationRule{}, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return models.AutomationRule{}, fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
	INSERT INTO automation_rules (id, name, trigger_event_type, conditions, steps, active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	RETURNING created_at, updated_at`

	err = d.Pool.QueryRow(ctx, query,
		r.ID, r.Name, r.TriggerEventType, conds, steps, r.Active,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return models.AutomationRule{}, fmt.Errorf("failed to create rule: %w", err)
	}
	return r, nil
}

const ruleColumns = `id::text, name, trigger_event_type, conditions, steps, active, created_at, updated_at, last_run_at`

func scanRule(row pgx.Row) (models.AutomationRule, error) {
	var r models.AutomationRule
	var conds, steps []byte
	if err := row.Scan(&r.ID, &r.Name, &r.TriggerEventType, &conds, &steps, &r.Active,
		&r.CreatedAt, &r.UpdatedAt, &r.LastRunAt); err != nil {
		return models.AutomationRule{}, err
	}
	if len(conds) > 0 {
		if err := json.Unmarshal(conds, &r.Conditions); err != nil {
			return models.AutomationRule{}, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &r.Steps); err != nil {
			return models.AutomationRule{}, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}
	return r, nil
}

// GetRule fetches one rule by id.
func (d *DB) GetRule(ctx context.Context, id string) (models.AutomationRule, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.AutomationRule{}, ErrRuleNotFound
		}
		return models.AutomationRule{}, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return r, nil
}

// ListRules returns all rules, newest first.
func (d *DB) ListRules(ctx context.Context) ([]models.AutomationRule, error) {
	rows, err := d.Pool.Query(ctx, `SELECT `+ruleColumns+` FROM automation_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// GetActiveRulesByTrigger returns the active rules subscribed to a trigger
// event type.
func (d *DB) GetActiveRulesByTrigger(ctx context.Context, trigger string) ([]models.AutomationRule, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE trigger_event_type = $1 AND active`, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to get rules for trigger %s: %w", trigger, err)
	}
	defer rows.Close()

	var rules []models.AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// UpdateRule replaces name, trigger, conditions and steps of an existing rule.
func (d *DB) UpdateRule(ctx context.Context, r models.AutomationRule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	conds, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
	UPDATE automation_rules
	SET name = $1, trigger_event_type = $2, conditions = $3, steps = $4, updated_at = NOW()
	WHERE id = $5`

	tag, err := d.Pool.Exec(ctx, query, r.Name, r.TriggerEventType, conds, steps, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// SetRuleActive flips the active flag. Cancellation of in-flight executions
// on deactivation is the caller's responsibility (see CancelByRule).
func (d *DB) SetRuleActive(ctx context.Context, id string, active bool) error {
	tag, err := d.Pool.Exec(ctx,
		`UPDATE automation_rules SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("failed to set rule %s active=%t: %w", id, active, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// TouchRuleLastRun stamps last_run_at when a rule fires.
func (d *DB) TouchRuleLastRun(ctx context.Context, id string) error {
	_, err := d.Pool.Exec(ctx,
		`UPDATE automation_rules SET last_run_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch last_run_at for rule %s: %w", id, err)
	}
	return nil
}

// DeleteRule removes a rule and cancels whatever it still had in flight.
func (d *DB) DeleteRule(ctx context.Context, id string) error {
	if _, err := d.CancelByRule(ctx, id); err != nil {
		return err
	}
	tag, err := d.Pool.Exec(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}
