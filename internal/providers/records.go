package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"automation-service/internal/actions"
)

// RecordsClient mutates business records (tasks, notes, tags, fields)
// through the CRM's internal records API. The idempotency key travels as a
// header so the records service can drop duplicate deliveries.
type RecordsClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRecordsClient(baseURL string) *RecordsClient {
	return &RecordsClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *RecordsClient) CreateTask(ctx context.Context, key string, in actions.TaskInput) error {
	body := map[string]any{
		"title":       in.Title,
		"description": in.Description,
	}
	if in.Assignee != "" {
		body["assignee"] = in.Assignee
	}
	if in.DueAt != nil {
		body["due_at"] = in.DueAt.Format(time.RFC3339)
	}
	return c.post(ctx, "/tasks", key, body)
}

func (c *RecordsClient) CreateNote(ctx context.Context, key string, in actions.NoteInput) error {
	return c.post(ctx, fmt.Sprintf("/%s/%s/notes", in.Entity, in.EntityID), key, map[string]any{
		"body": in.Body,
	})
}

func (c *RecordsClient) AddTag(ctx context.Context, key, entity, entityID, tag string) error {
	return c.post(ctx, fmt.Sprintf("/%s/%s/tags", entity, entityID), key, map[string]any{
		"tag": tag,
	})
}

func (c *RecordsClient) RemoveTag(ctx context.Context, key, entity, entityID, tag string) error {
	return c.post(ctx, fmt.Sprintf("/%s/%s/tags/remove", entity, entityID), key, map[string]any{
		"tag": tag,
	})
}

func (c *RecordsClient) UpdateField(ctx context.Context, key, entity, entityID, field, value string) error {
	return c.post(ctx, fmt.Sprintf("/%s/%s/fields", entity, entityID), key, map[string]any{
		"field": field,
		"value": value,
	})
}

func (c *RecordsClient) post(ctx context.Context, path, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal records payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create records request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("records call %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("records call %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
