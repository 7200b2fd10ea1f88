package actions

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"automation-service/internal/engine"
	"automation-service/internal/metrics"
	"automation-service/internal/models"
	"automation-service/internal/template"
)

// Namespace for deterministic idempotency keys derived from
// (ruleExecutionID, stepIndex). Fixed so a redelivered step always maps to
// the same key.
var idempotencyNamespace = uuid.MustParse("7f1cf1ce-9c1d-4a36-9e53-1f6a3df6b001")

// IdempotencyKey is deterministic per (execution, step) so at-least-once
// redelivery never double-applies a business-record mutation.
func IdempotencyKey(executionID string, stepIndex int) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(fmt.Sprintf("%s/%d", executionID, stepIndex))).String()
}

// SMSSender delivers a rendered SMS and returns the provider message id.
type SMSSender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// EmailSender delivers a rendered email and returns the provider message id.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}

// TaskInput / NoteInput carry the business-record payloads for non-messaging
// actions.
type TaskInput struct {
	Title       string
	Description string
	Assignee    string
	DueAt       *time.Time
}

type NoteInput struct {
	Entity   string
	EntityID string
	Body     string
}

// RecordStore is the business-record collaborator. Every call carries the
// idempotency key; implementations must treat a repeated key as a no-op.
type RecordStore interface {
	CreateTask(ctx context.Context, key string, in TaskInput) error
	CreateNote(ctx context.Context, key string, in NoteInput) error
	AddTag(ctx context.Context, key, entity, entityID, tag string) error
	RemoveTag(ctx context.Context, key, entity, entityID, tag string) error
	UpdateField(ctx context.Context, key, entity, entityID, field, value string) error
}

// WebhookClient posts a JSON payload and reports the response status code.
type WebhookClient interface {
	Post(ctx context.Context, url string, payload any) (int, error)
}

// Guard is an optional idempotency registry (redis in production) consulted
// before business-record mutations. Begin returns false when the key was
// already claimed by an earlier delivery of the same step; Release drops a
// claim whose mutation did not go through, so a retry can run it again.
type Guard interface {
	Begin(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// TemplateSource resolves active templates for messaging actions.
type TemplateSource interface {
	GetActiveTemplate(ctx context.Context, id string) (models.NotificationTemplate, error)
}

// Result reports a finished action. Skipped is set when the idempotency
// guard saw the step before.
type Result struct {
	ProviderID string
	Skipped    bool
	Rendered   *template.RenderedMessage
}

// Executor dispatches one automation step. It owns no storage beyond the
// collaborators it was handed.
type Executor struct {
	templates TemplateSource
	sms       SMSSender
	email     EmailSender
	records   RecordStore
	webhooks  WebhookClient
	guard     Guard
	clock     engine.Clock
	logger    *logrus.Logger
}

func NewExecutor(templates TemplateSource, sms SMSSender, email EmailSender,
	records RecordStore, webhooks WebhookClient, guard Guard,
	clock engine.Clock, logger *logrus.Logger) *Executor {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{
		templates: templates,
		sms:       sms,
		email:     email,
		records:   records,
		webhooks:  webhooks,
		guard:     guard,
		clock:     clock,
		logger:    logger,
	}
}

// Execute runs the action of one step against the execution's trigger
// snapshot. Errors come back classified per the taxonomy in errors.go.
func (x *Executor) Execute(ctx context.Context, executionID string, stepIndex int,
	step models.AutomationStep, data map[string]any) (Result, error) {

	action := step.Action
	if action.Details == nil {
		return Result{}, Config(fmt.Errorf("step %d has no action details", stepIndex))
	}

	start := time.Now()
	res, err := x.dispatch(ctx, executionID, stepIndex, action, data)
	metrics.ActionLatency.Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if res.Skipped {
		outcome = "skipped"
	}
	metrics.ActionAttempts.WithLabelValues(string(action.Type), outcome).Inc()
	return res, err
}

func (x *Executor) dispatch(ctx context.Context, executionID string, stepIndex int,
	action models.Action, data map[string]any) (Result, error) {

	key := IdempotencyKey(executionID, stepIndex)

	switch d := action.Details.(type) {
	case *models.SendSMSDetails:
		msg, to, err := x.renderFor(ctx, d.TemplateID, d.ToField, data)
		if err != nil {
			return Result{}, err
		}
		id, err := x.sms.Send(ctx, to, msg.Body)
		if err != nil {
			return Result{}, err
		}
		return Result{ProviderID: id, Rendered: &msg}, nil

	case *models.SendEmailDetails:
		msg, to, err := x.renderFor(ctx, d.TemplateID, d.ToField, data)
		if err != nil {
			return Result{}, err
		}
		id, err := x.email.Send(ctx, to, msg.Subject, msg.Body)
		if err != nil {
			return Result{}, err
		}
		return Result{ProviderID: id, Rendered: &msg}, nil

	case *models.CreateTaskDetails:
		return x.guarded(ctx, key, func() error {
			in := TaskInput{Title: d.Title, Description: d.Description}
			if d.AssigneeField != "" {
				in.Assignee = x.payloadString(data, d.AssigneeField)
			}
			if d.DueInHours > 0 {
				due := x.clock.Now().Add(time.Duration(d.DueInHours) * time.Hour)
				in.DueAt = &due
			}
			return x.records.CreateTask(ctx, key, in)
		})

	case *models.CreateNoteDetails:
		entityID, err := x.entityID(data, d.EntityIDField)
		if err != nil {
			return Result{}, err
		}
		body := template.Render(models.NotificationTemplate{Channel: models.ChannelSMS, Body: d.Body}, data).Body
		return x.guarded(ctx, key, func() error {
			return x.records.CreateNote(ctx, key, NoteInput{Entity: d.Entity, EntityID: entityID, Body: body})
		})

	case *models.AddTagDetails:
		entityID, err := x.entityID(data, d.EntityIDField)
		if err != nil {
			return Result{}, err
		}
		return x.guarded(ctx, key, func() error {
			return x.records.AddTag(ctx, key, d.Entity, entityID, d.Tag)
		})

	case *models.RemoveTagDetails:
		entityID, err := x.entityID(data, d.EntityIDField)
		if err != nil {
			return Result{}, err
		}
		return x.guarded(ctx, key, func() error {
			return x.records.RemoveTag(ctx, key, d.Entity, entityID, d.Tag)
		})

	case *models.UpdateFieldDetails:
		entityID, err := x.entityID(data, d.EntityIDField)
		if err != nil {
			return Result{}, err
		}
		return x.guarded(ctx, key, func() error {
			return x.records.UpdateField(ctx, key, d.Entity, entityID, d.Field, d.Value)
		})

	case *models.WebhookDetails:
		if d.URL == "" {
			return Result{}, Config(fmt.Errorf("webhook action has no url"))
		}
		payload := map[string]any{
			"rule_execution_id": executionID,
			"step_index":        stepIndex,
			"event":             data,
		}
		status, err := x.webhooks.Post(ctx, d.URL, payload)
		if err != nil {
			return Result{}, Transient(err)
		}
		switch {
		case status >= 200 && status < 300:
			return Result{}, nil
		case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
			return Result{}, Transient(fmt.Errorf("webhook returned status %d", status))
		default:
			return Result{}, Permanent(fmt.Errorf("webhook returned status %d", status))
		}

	default:
		return Result{}, Config(fmt.Errorf("unhandled action type %q", action.Type))
	}
}

// renderFor resolves the template and the recipient address for a messaging
// action.
func (x *Executor) renderFor(ctx context.Context, templateID, toField string,
	data map[string]any) (template.RenderedMessage, string, error) {

	tmpl, err := x.templates.GetActiveTemplate(ctx, templateID)
	if err != nil {
		return template.RenderedMessage{}, "", Config(fmt.Errorf("template %s: %w", templateID, err))
	}

	msg := template.Render(tmpl, data)
	if len(msg.Unresolved) > 0 {
		// Unresolved placeholders degrade to blanks, never abort the send.
		x.logger.Warnf("template %s rendered with unresolved placeholders %v", templateID, msg.Unresolved)
	}

	to := x.payloadString(data, toField)
	if to == "" {
		return template.RenderedMessage{}, "", Permanent(fmt.Errorf("no recipient at payload path %q", toField))
	}
	return msg, to, nil
}

// guarded wraps a business-record mutation with the idempotency registry.
// A claim only sticks when the mutation succeeds: a failed mutation releases
// the key so the scheduler's retry actually applies the action instead of
// skipping it.
func (x *Executor) guarded(ctx context.Context, key string, fn func() error) (Result, error) {
	if x.guard != nil {
		fresh, err := x.guard.Begin(ctx, key)
		if err != nil {
			return Result{}, Transient(fmt.Errorf("idempotency check: %w", err))
		}
		if !fresh {
			x.logger.Infof("step already applied (key %s), skipping", key)
			return Result{Skipped: true}, nil
		}
	}
	if err := fn(); err != nil {
		if x.guard != nil {
			// The TTL covers the claim if the release itself fails.
			if rerr := x.guard.Release(ctx, key); rerr != nil {
				x.logger.Errorf("release idempotency key %s failed: %v", key, rerr)
			}
		}
		return Result{}, Transient(err)
	}
	return Result{}, nil
}

func (x *Executor) payloadString(data map[string]any, path string) string {
	val, found := engine.LookupPath(data, path)
	if !found || val == nil {
		return ""
	}
	return engine.Stringify(val)
}

func (x *Executor) entityID(data map[string]any, field string) (string, error) {
	id := x.payloadString(data, field)
	if id == "" {
		return "", Config(fmt.Errorf("no entity id at payload path %q", field))
	}
	return id, nil
}
