package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"automation-service/internal/models"
)

// CreateTemplate inserts a new notification template.
func (d *DB) CreateTemplate(ctx context.Context, t models.NotificationTemplate) (models.NotificationTemplate, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	query := `
	INSERT INTO notification_templates (id, name, channel, trigger, subject, body, active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	RETURNING created_at, updated_at`

	err := d.Pool.QueryRow(ctx, query,
		t.ID, t.Name, t.Channel, t.Trigger, t.Subject, t.Body, t.Active,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.NotificationTemplate{}, fmt.Errorf("failed to create template: %w", err)
	}
	return t, nil
}

// GetTemplate fetches a template regardless of its active flag.
func (d *DB) GetTemplate(ctx context.Context, id string) (models.NotificationTemplate, error) {
	query := `
	SELECT id::text, name, channel, trigger, subject, body, active, created_at, updated_at
	FROM notification_templates
	WHERE id = $1`

	var t models.NotificationTemplate
	err := d.Pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Channel, &t.Trigger, &t.Subject, &t.Body, &t.Active, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.NotificationTemplate{}, ErrTemplateNotFound
		}
		return models.NotificationTemplate{}, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return t, nil
}

// GetActiveTemplate resolves a template for rendering. An inactive template
// is reported the same way as a missing one.
func (d *DB) GetActiveTemplate(ctx context.Context, id string) (models.NotificationTemplate, error) {
	t, err := d.GetTemplate(ctx, id)
	if err != nil {
		return models.NotificationTemplate{}, err
	}
	if !t.Active {
		return models.NotificationTemplate{}, ErrTemplateNotFound
	}
	return t, nil
}

// ListTemplates returns all templates, newest first.
func (d *DB) ListTemplates(ctx context.Context) ([]models.NotificationTemplate, error) {
	query := `
	SELECT id::text, name, channel, trigger, subject, body, active, created_at, updated_at
	FROM notification_templates
	ORDER BY created_at DESC`

	rows, err := d.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []models.NotificationTemplate
	for rows.Next() {
		var t models.NotificationTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Channel, &t.Trigger, &t.Subject, &t.Body, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// UpdateTemplate updates an existing template in place.
func (d *DB) UpdateTemplate(ctx context.Context, t models.NotificationTemplate) error {
	query := `
	UPDATE notification_templates
	SET name = $1, channel = $2, trigger = $3, subject = $4, body = $5, active = $6, updated_at = NOW()
	WHERE id = $7`

	tag, err := d.Pool.Exec(ctx, query, t.Name, t.Channel, t.Trigger, t.Subject, t.Body, t.Active, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update template %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// DeleteTemplate removes a template. Deleting a template still referenced by
// a rule step is rejected with ErrTemplateInUse; templates are never
// silently orphaned.
func (d *DB) DeleteTemplate(ctx context.Context, id string) error {
	refs, err := d.CountRulesReferencingTemplate(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return ErrTemplateInUse
	}

	tag, err := d.Pool.Exec(ctx, `DELETE FROM notification_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// CountRulesReferencingTemplate counts rules whose steps send through the
// given template.
func (d *DB) CountRulesReferencingTemplate(ctx context.Context, templateID string) (int, error) {
	query := `
	SELECT COUNT(*)
	FROM automation_rules r
	WHERE EXISTS (
		SELECT 1 FROM jsonb_array_elements(r.steps) AS s
		WHERE s->'action'->'details'->>'template_id' = $1
	)`

	var count int
	if err := d.Pool.QueryRow(ctx, query, templateID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count template references: %w", err)
	}
	return count, nil
}
