package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkMailer sends through Postmark's transactional API.
type PostmarkMailer struct {
	client *postmark.Client
}

func NewPostmarkMailer(serverToken, accountToken string) (*PostmarkMailer, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("%w: Postmark server token is required", ErrInvalidConfig)
	}

	return &PostmarkMailer{client: postmark.NewClient(serverToken, accountToken)}, nil
}

// Send treats a non-zero Postmark ErrorCode as a failed delivery even when
// the HTTP call itself succeeded.
func (p *PostmarkMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       msg.From,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTML,
		TrackOpens: true,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrSendFailed,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}

	return nil
}
