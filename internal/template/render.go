package template

import (
	"regexp"
	"unicode/utf8"

	"automation-service/internal/engine"
	"automation-service/internal/models"
)

// RenderedMessage is the channel-ready output of a template render.
// Unresolved lists placeholder names that had no value in the event payload;
// rendering never fails on them, the token is replaced with an empty string.
// SMSLength is filled for SMS templates so callers can reason about segment
// counts; truncation is not this package's job.
type RenderedMessage struct {
	Channel    string   `json:"channel"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body"`
	Unresolved []string `json:"unresolved,omitempty"`
	SMSLength  int      `json:"sms_length,omitempty"`
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+(?:\.[a-zA-Z0-9_]+)*)\}`)

// Render substitutes every {dotted.path} token in subject and body with the
// stringified value at that path in the event payload.
func Render(tmpl models.NotificationTemplate, data map[string]any) RenderedMessage {
	msg := RenderedMessage{Channel: tmpl.Channel}

	seen := map[string]bool{}
	sub := func(text string) string {
		return placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
			name := token[1 : len(token)-1]
			val, found := engine.LookupPath(data, name)
			if !found || val == nil {
				if !seen[name] {
					seen[name] = true
					msg.Unresolved = append(msg.Unresolved, name)
				}
				return ""
			}
			return engine.Stringify(val)
		})
	}

	if tmpl.Channel == models.ChannelEmail {
		msg.Subject = sub(tmpl.Subject)
	}
	msg.Body = sub(tmpl.Body)
	if tmpl.Channel == models.ChannelSMS {
		msg.SMSLength = utf8.RuneCountInString(msg.Body)
	}
	return msg
}

// Placeholders returns the distinct placeholder names of a template in order
// of first appearance, subject first.
func Placeholders(tmpl models.NotificationTemplate) []string {
	var names []string
	seen := map[string]bool{}
	for _, text := range []string{tmpl.Subject, tmpl.Body} {
		for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	return names
}
