package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends through a plain SMTP relay.
type SMTPMailer struct {
	dialer dialer
}

func NewSMTPMailer(host string, port int, user, password string) (*SMTPMailer, error) {
	if host == "" || port <= 0 {
		return nil, fmt.Errorf("%w: SMTP host and port are required", ErrInvalidConfig)
	}

	return &SMTPMailer{dialer: gomail.NewDialer(host, port, user, password)}, nil
}

// Send builds the MIME message and delivers it. gomail has no context
// support, so ctx is only checked before dialing.
func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send error: %w", err)
	}

	return nil
}
