package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// ResendMailer sends through the Resend API.
type ResendMailer struct {
	client *resend.Client
}

func NewResendMailer(apiKey string) (*ResendMailer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Resend API key is required", ErrInvalidConfig)
	}

	return &ResendMailer{client: resend.NewClient(apiKey)}, nil
}

func (r *ResendMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	if msg.Tag != "" {
		req.Tags = []resend.Tag{{Name: "email_type", Value: msg.Tag}}
	}

	if _, err := r.client.Emails.SendWithContext(ctx, req); err != nil {
		return errors.Join(ErrSendFailed, err)
	}

	return nil
}
