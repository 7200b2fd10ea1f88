package models

import "time"

// Event is a typed business occurrence consumed from the event stream,
// e.g. ticket_status_changed or invoice_paid.
type Event struct {
	Type       string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}
