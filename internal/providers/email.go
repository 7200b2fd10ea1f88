package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"automation-service/internal/actions"
	"automation-service/internal/config"
	"automation-service/pkg/email"
)

// SMTPSender adapts the SMTP helper to the executor's EmailSender contract.
type SMTPSender struct {
	cfg config.Config
}

func NewSMTPSender(cfg config.Config) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) (string, error) {
	if !strings.Contains(to, "@") {
		return "", actions.Permanent(fmt.Errorf("invalid email address: %s", to))
	}

	err := email.Send(
		s.cfg.Email.SMTPServer,
		s.cfg.Email.SMTPPort,
		s.cfg.Email.Username,
		s.cfg.Email.Password,
		s.cfg.Email.FromName,
		to, subject, body,
	)
	if err != nil {
		// SMTP failures are overwhelmingly connectivity or greylisting;
		// let the scheduler back off and retry.
		return "", actions.Transient(err)
	}
	// SMTP has no provider id; synthesize one for the execution log.
	return uuid.New().String(), nil
}
