package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGrid delivers mail through the SendGrid v3 API. Each send is bounded
// by the configured timeout.
type SendGrid struct {
	client  *sendgrid.Client
	from    *sgmail.Email
	timeout time.Duration
}

// NewSendGrid constructs the production mailer.
func NewSendGrid(apiKey, fromName, fromEmail string, timeout time.Duration) *SendGrid {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SendGrid{
		client:  sendgrid.NewSendClient(apiKey),
		from:    sgmail.NewEmail(fromName, fromEmail),
		timeout: timeout,
	}
}

// Send submits a single email, returning an error on non-2xx responses.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	to := sgmail.NewEmail(msg.ToName, msg.ToEmail)
	html := msg.HTMLBody
	if html == "" {
		html = msg.TextBody
	}
	email := sgmail.NewSingleEmail(s.from, msg.Subject, to, msg.TextBody, html)

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d", resp.StatusCode)
	}
	return nil
}
