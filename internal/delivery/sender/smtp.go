package sender

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	delivery "plantwatch/internal/delivery/domain"
)

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPSender sends email through an SMTP relay.
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

// NewSMTPSender validates cfg and builds a dialer.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, &delivery.ConfigurationError{Component: "smtp", Reason: "host is required"}
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, &delivery.ConfigurationError{Component: "smtp", Reason: "from address is required"}
	}
	return &SMTPSender{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

// SendEmail implements EmailTransport. The dial is not context aware; the
// worker's send timeout bounds it.
func (s *SMTPSender) SendEmail(ctx context.Context, to []string, subject, text, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := s.message(to, subject, text, html)
	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) message(to []string, subject, text, html string) *gomail.Message {
	msg := gomail.NewMessage()
	if s.cfg.FromName != "" {
		msg.SetAddressHeader("From", s.cfg.From, s.cfg.FromName)
	} else {
		msg.SetHeader("From", s.cfg.From)
	}
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	switch {
	case html != "" && text != "":
		msg.SetBody("text/plain", text)
		msg.AddAlternative("text/html", html)
	case html != "":
		msg.SetBody("text/html", html)
	default:
		msg.SetBody("text/plain", text)
	}
	return msg
}
