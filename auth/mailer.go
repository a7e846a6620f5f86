package auth

import (
	"context"

	"go.uber.org/zap"
)

// Mailer delivers account emails.
type Mailer interface {
	SendConfirmation(ctx context.Context, to, link string) error
}

// LogMailer writes confirmation links to the log instead of sending mail.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer returns a Mailer for local development.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendConfirmation(ctx context.Context, to, link string) error {
	m.logger.Info("confirmation email", zap.String("to", to), zap.String("link", link))
	return nil
}
