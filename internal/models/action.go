package models

import (
	"encoding/json"
	"fmt"
)

type ActionType string

const (
	ActionSendEmail   ActionType = "send_email"
	ActionSendSMS     ActionType = "send_sms"
	ActionCreateTask  ActionType = "create_task"
	ActionUpdateField ActionType = "update_field"
	ActionAddTag      ActionType = "add_tag"
	ActionRemoveTag   ActionType = "remove_tag"
	ActionCreateNote  ActionType = "create_note"
	ActionWebhook     ActionType = "webhook"
)

// ActionDetails is the per-type parameter block of an automation action.
// Each action type gets its own struct instead of an untyped map so the
// executor can switch on concrete types.
type ActionDetails interface {
	ActionType() ActionType
}

// SendEmailDetails / SendSMSDetails reference a NotificationTemplate and a
// dotted path in the event payload holding the recipient address.
type SendEmailDetails struct {
	TemplateID string `json:"template_id"`
	ToField    string `json:"to_field"`
}

type SendSMSDetails struct {
	TemplateID string `json:"template_id"`
	ToField    string `json:"to_field"`
}

type CreateTaskDetails struct {
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	AssigneeField string `json:"assignee_field,omitempty"`
	DueInHours    int    `json:"due_in_hours,omitempty"`
}

type UpdateFieldDetails struct {
	Entity        string `json:"entity"`
	EntityIDField string `json:"entity_id_field"`
	Field         string `json:"field"`
	Value         string `json:"value"`
}

type AddTagDetails struct {
	Entity        string `json:"entity"`
	EntityIDField string `json:"entity_id_field"`
	Tag           string `json:"tag"`
}

type RemoveTagDetails struct {
	Entity        string `json:"entity"`
	EntityIDField string `json:"entity_id_field"`
	Tag           string `json:"tag"`
}

type CreateNoteDetails struct {
	Entity        string `json:"entity"`
	EntityIDField string `json:"entity_id_field"`
	Body          string `json:"body"`
}

type WebhookDetails struct {
	URL string `json:"url"`
}

func (SendEmailDetails) ActionType() ActionType   { return ActionSendEmail }
func (SendSMSDetails) ActionType() ActionType     { return ActionSendSMS }
func (CreateTaskDetails) ActionType() ActionType  { return ActionCreateTask }
func (UpdateFieldDetails) ActionType() ActionType { return ActionUpdateField }
func (AddTagDetails) ActionType() ActionType      { return ActionAddTag }
func (RemoveTagDetails) ActionType() ActionType   { return ActionRemoveTag }
func (CreateNoteDetails) ActionType() ActionType  { return ActionCreateNote }
func (WebhookDetails) ActionType() ActionType     { return ActionWebhook }

// Action is the wire envelope {"type": ..., "details": {...}} stored inside
// a rule's steps column.
type Action struct {
	Type    ActionType
	Details ActionDetails
}

// MarshalJSON serializes the envelope with the details flattened under "details".
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Type    ActionType    `json:"type"`
		Details ActionDetails `json:"details"`
	}{
		Type:    a.Type,
		Details: a.Details,
	})
}

// UnmarshalJSON dispatches the details payload to the concrete struct for the
// declared type. Unknown types are a configuration error, not a silent skip.
func (a *Action) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type    ActionType      `json:"type"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var details ActionDetails
	switch aux.Type {
	case ActionSendEmail:
		details = &SendEmailDetails{}
	case ActionSendSMS:
		details = &SendSMSDetails{}
	case ActionCreateTask:
		details = &CreateTaskDetails{}
	case ActionUpdateField:
		details = &UpdateFieldDetails{}
	case ActionAddTag:
		details = &AddTagDetails{}
	case ActionRemoveTag:
		details = &RemoveTagDetails{}
	case ActionCreateNote:
		details = &CreateNoteDetails{}
	case ActionWebhook:
		details = &WebhookDetails{}
	default:
		return fmt.Errorf("unknown action type %q", aux.Type)
	}

	if len(aux.Details) > 0 {
		if err := json.Unmarshal(aux.Details, details); err != nil {
			return fmt.Errorf("invalid details for action %q: %w", aux.Type, err)
		}
	}

	a.Type = aux.Type
	a.Details = details
	return nil
}
