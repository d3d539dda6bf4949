package sender

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// LogTransport logs messages instead of sending them. It serves both channels
// in development and when no real transport is configured for SMS.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport constructs a simulator.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) SendEmail(_ context.Context, to []string, subject, text, _ string) error {
	t.logger.Info("simulated email",
		zap.String("to", strings.Join(to, ",")),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(text)))
	return nil
}

func (t *LogTransport) SendSMS(_ context.Context, to []string, text string) error {
	t.logger.Info("simulated sms",
		zap.String("to", strings.Join(to, ",")),
		zap.String("message", text))
	return nil
}
