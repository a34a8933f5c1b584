// Package mailer sends transactional email for OTP and notification
// delivery. The console implementation is used in development.
package mailer

import (
	"context"

	"go.uber.org/zap"
)

// Message is a single outgoing email.
type Message struct {
	ToName   string
	ToEmail  string
	Subject  string
	TextBody string
	HTMLBody string
}

// Mailer delivers messages through a provider.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Console logs messages instead of sending them.
type Console struct {
	logger *zap.Logger
}

// NewConsole builds the development mailer.
func NewConsole(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{logger: logger}
}

// Send writes the message to the log.
func (c *Console) Send(_ context.Context, msg Message) error {
	c.logger.Info("email (console)",
		zap.String("to", msg.ToEmail),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.TextBody),
	)
	return nil
}
