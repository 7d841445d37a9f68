package email

import (
	"context"
	"errors"
	"fmt"

	"MailQueue/internal/config"
)

var (
	ErrInvalidConfig = errors.New("email: invalid config")
	ErrSendFailed    = errors.New("email: send failed")
)

// Message is one fully rendered outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Tag     string
}

func (m Message) Validate() error {
	if m.From == "" {
		return fmt.Errorf("%w: missing sender", ErrSendFailed)
	}
	if m.To == "" {
		return fmt.Errorf("%w: missing recipient", ErrSendFailed)
	}
	return nil
}

// Mailer delivers a single message through a mail transport.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New builds the transport selected by cfg.MailTransport.
func New(cfg *config.Config) (Mailer, error) {
	var (
		m   Mailer
		err error
	)

	switch cfg.MailTransport {
	case "resend":
		m, err = NewResendMailer(cfg.ResendAPIKey)
	case "postmark":
		m, err = NewPostmarkMailer(cfg.PostmarkServerToken, cfg.PostmarkAccountToken)
	case "smtp":
		m, err = NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	default:
		err = fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, cfg.MailTransport)
	}

	if err != nil {
		return nil, err
	}
	return m, nil
}
