package models

import "time"

// RuleExecution statuses. pending -> running -> completed | failed | cancelled.
const (
	ExecutionPending   = "pending"
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionCancelled = "cancelled"
)

// RuleExecution is one in-flight instantiation of a rule responding to a
// trigger event. TriggerPayload is a snapshot taken at fire time; step
// conditions are always re-evaluated against this snapshot, never against
// live data.
type RuleExecution struct {
	ID               string         `json:"id"`
	RuleID           string         `json:"rule_id"`
	TriggerPayload   map[string]any `json:"trigger_payload"`
	CurrentStepIndex int            `json:"current_step_index"`
	Status           string         `json:"status"`
	NextFireAt       time.Time      `json:"next_fire_at"`
	Attempts         int            `json:"attempts"`
	LastError        string         `json:"last_error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Terminal reports whether no further transitions are allowed.
func (e RuleExecution) Terminal() bool {
	switch e.Status {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}
