package models

import (
	"fmt"
	"time"
)

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// NotificationTemplate is a reusable message body with {dotted.path}
// placeholders, bound to a channel and a trigger event type.
type NotificationTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Channel   string    `json:"channel"`
	Trigger   string    `json:"trigger"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields an operator can get wrong when saving.
func (t NotificationTemplate) Validate() error {
	switch t.Channel {
	case ChannelSMS, ChannelEmail:
	default:
		return fmt.Errorf("unknown channel %q", t.Channel)
	}
	if t.Body == "" {
		return fmt.Errorf("template body is empty")
	}
	if t.Channel == ChannelEmail && t.Subject == "" {
		return fmt.Errorf("email template requires a subject")
	}
	return nil
}
