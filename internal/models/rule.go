package models

import (
	"fmt"
	"time"
)

// AutomationStep is one (delay, action, optional condition) unit in a rule.
// Delay is measured from the completion of the previous step, not from the
// original trigger.
type AutomationStep struct {
	DelayMinutes int        `json:"delay_minutes"`
	Action       Action     `json:"action"`
	Condition    *Condition `json:"condition,omitempty"`
}

// Delay returns the step delay as a duration.
func (s AutomationStep) Delay() time.Duration {
	return time.Duration(s.DelayMinutes) * time.Minute
}

// AutomationRule binds a trigger event type to top-level conditions and an
// ordered list of steps.
type AutomationRule struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	TriggerEventType string           `json:"trigger_event_type"`
	Conditions       []Condition      `json:"conditions"`
	Steps            []AutomationStep `json:"steps"`
	Active           bool             `json:"active"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	LastRunAt        *time.Time       `json:"last_run_at,omitempty"`
}

// Validate rejects configurations that would only blow up at fire time.
// Rules with zero steps are allowed; they are simply inert.
func (r AutomationRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is empty")
	}
	if r.TriggerEventType == "" {
		return fmt.Errorf("trigger event type is empty")
	}
	for i, c := range r.Conditions {
		if err := validateCondition(c); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	for i, s := range r.Steps {
		if s.DelayMinutes < 0 {
			return fmt.Errorf("step %d: negative delay", i)
		}
		if s.Action.Details == nil {
			return fmt.Errorf("step %d: missing action details", i)
		}
		if s.Condition != nil {
			if err := validateCondition(*s.Condition); err != nil {
				return fmt.Errorf("step %d condition: %w", i, err)
			}
		}
	}
	return nil
}

func validateCondition(c Condition) error {
	if c.Field == "" {
		return fmt.Errorf("condition field is empty")
	}
	if !c.KnownOperator() {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	if !c.IsUnary() && c.Value == "" {
		return fmt.Errorf("operator %q requires a value", c.Operator)
	}
	return nil
}

// TemplateIDs collects the template references of all messaging steps, used
// to protect referenced templates from deletion.
func (r AutomationRule) TemplateIDs() []string {
	var ids []string
	for _, s := range r.Steps {
		switch d := s.Action.Details.(type) {
		case *SendEmailDetails:
			ids = append(ids, d.TemplateID)
		case *SendSMSDetails:
			ids = append(ids, d.TemplateID)
		}
	}
	return ids
}
