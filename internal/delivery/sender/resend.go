package sender

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"

	delivery "plantwatch/internal/delivery/domain"
)

// ResendConfig holds Resend API settings.
type ResendConfig struct {
	APIKey   string
	From     string
	FromName string
}

// ResendSender sends email through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender requires an API key and a sender address.
func NewResendSender(cfg ResendConfig) (*ResendSender, error) {
	if cfg.APIKey == "" {
		return nil, &delivery.ConfigurationError{Component: "resend", Reason: "api key is required"}
	}
	if cfg.From == "" {
		return nil, &delivery.ConfigurationError{Component: "resend", Reason: "from address is required"}
	}
	from := cfg.From
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.From)
	}
	return &ResendSender{client: resend.NewClient(cfg.APIKey), from: from}, nil
}

// SendEmail implements EmailTransport.
func (s *ResendSender) SendEmail(ctx context.Context, to []string, subject, text, html string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      to,
		Subject: subject,
		Text:    text,
		Html:    html,
		Tags:    []resend.Tag{{Name: "source", Value: "plantwatch"}},
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend send: %w", err)
	}
	return nil
}
