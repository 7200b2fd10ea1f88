package providers

import (
	"context"

	"automation-service/internal/actions"
	"automation-service/internal/config"
	"automation-service/pkg/sms"
)

// TwilioSender adapts the Twilio client to the executor's SMSSender contract
// and classifies delivery failures.
type TwilioSender struct {
	client *sms.Client
}

func NewTwilioSender(cfg config.Config) *TwilioSender {
	return &TwilioSender{
		client: sms.NewClient(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber),
	}
}

func (s *TwilioSender) Send(ctx context.Context, to, body string) (string, error) {
	sid, status, err := s.client.Send(ctx, to, body)
	if err == nil {
		return sid, nil
	}
	if status >= 400 && status < 500 {
		// Twilio rejected the recipient or the request itself.
		return "", actions.Permanent(err)
	}
	// Transport failure, timeout or 5xx.
	return "", actions.Transient(err)
}
