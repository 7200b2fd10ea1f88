package template

import (
	"reflect"
	"testing"

	"automation-service/internal/models"
)

func TestRender_SubstitutesDottedPaths(t *testing.T) {
	tmpl := models.NotificationTemplate{
		Channel: models.ChannelEmail,
		Subject: "Your {ticket.device_type} repair",
		Body:    "Hi {customer.name}, your {ticket.device_type} is ready. Total: {invoice.total}",
	}
	data := map[string]any{
		"customer": map[string]any{"name": "An"},
		"ticket":   map[string]any{"device_type": "iPhone 12"},
		"invoice":  map[string]any{"total": 149.5},
	}

	msg := Render(tmpl, data)
	if msg.Subject != "Your iPhone 12 repair" {
		t.Errorf("unexpected subject: %q", msg.Subject)
	}
	want := "Hi An, your iPhone 12 is ready. Total: 149.5"
	if msg.Body != want {
		t.Errorf("body = %q, want %q", msg.Body, want)
	}
	if len(msg.Unresolved) != 0 {
		t.Errorf("expected no unresolved placeholders, got %v", msg.Unresolved)
	}
}

func TestRender_UnresolvedBecomeEmpty(t *testing.T) {
	tmpl := models.NotificationTemplate{
		Channel: models.ChannelSMS,
		Body:    "Hi {customer.name}, ref {ticket.ref}, again {ticket.ref}",
	}

	msg := Render(tmpl, map[string]any{"customer": map[string]any{"name": "An"}})
	if msg.Body != "Hi An, ref , again " {
		t.Errorf("unexpected body: %q", msg.Body)
	}
	if !reflect.DeepEqual(msg.Unresolved, []string{"ticket.ref"}) {
		t.Errorf("unresolved = %v, want [ticket.ref]", msg.Unresolved)
	}
}

func TestRender_EmptyDataNeverFails(t *testing.T) {
	tmpl := models.NotificationTemplate{
		Channel: models.ChannelSMS,
		Body:    "Hello {a}, {b.c} and {d.e.f}",
	}

	msg := Render(tmpl, map[string]any{})
	if msg.Body != "Hello ,  and " {
		t.Errorf("unexpected body: %q", msg.Body)
	}
	if len(msg.Unresolved) != len(Placeholders(tmpl)) {
		t.Errorf("unresolved count %d != placeholder count %d", len(msg.Unresolved), len(Placeholders(tmpl)))
	}

	msg = Render(tmpl, nil)
	if len(msg.Unresolved) != 3 {
		t.Errorf("nil data: unresolved = %v", msg.Unresolved)
	}
}

func TestRender_SMSLengthCountsRunes(t *testing.T) {
	tmpl := models.NotificationTemplate{Channel: models.ChannelSMS, Body: "Xin chào {name}"}
	msg := Render(tmpl, map[string]any{"name": "Hà"})
	if msg.Body != "Xin chào Hà" {
		t.Fatalf("unexpected body: %q", msg.Body)
	}
	if msg.SMSLength != 11 {
		t.Errorf("sms length = %d, want 11", msg.SMSLength)
	}

	email := Render(models.NotificationTemplate{Channel: models.ChannelEmail, Body: "hello"}, nil)
	if email.SMSLength != 0 {
		t.Errorf("email render should not set sms length, got %d", email.SMSLength)
	}
}

func TestRender_SubjectOnlyForEmail(t *testing.T) {
	tmpl := models.NotificationTemplate{
		Channel: models.ChannelSMS,
		Subject: "ignored {x}",
		Body:    "body",
	}
	msg := Render(tmpl, nil)
	if msg.Subject != "" {
		t.Errorf("sms render should leave subject empty, got %q", msg.Subject)
	}
	if len(msg.Unresolved) != 0 {
		t.Errorf("subject placeholders of an sms template should not count, got %v", msg.Unresolved)
	}
}

func TestPlaceholders(t *testing.T) {
	tmpl := models.NotificationTemplate{
		Channel: models.ChannelEmail,
		Subject: "{ticket.id} update",
		Body:    "{customer.name}: ticket {ticket.id} moved to {ticket.status}",
	}

	got := Placeholders(tmpl)
	want := []string{"ticket.id", "customer.name", "ticket.status"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("placeholders = %v, want %v", got, want)
	}
}
