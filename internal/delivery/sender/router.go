// Package sender delivers notification payloads over email and SMS.
package sender

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	delivery "plantwatch/internal/delivery/domain"
)

// EmailTransport sends one email to a recipient list.
type EmailTransport interface {
	SendEmail(ctx context.Context, to []string, subject, text, html string) error
}

// SMSTransport sends one text message to a recipient list.
type SMSTransport interface {
	SendSMS(ctx context.Context, to []string, text string) error
}

// Recipients are the default destinations per channel.
type Recipients struct {
	Emails []string
	Phones []string
}

// Router implements delivery.Sender by fanning a payload out to the selected channels.
type Router struct {
	email      EmailTransport
	sms        SMSTransport
	recipients Recipients
	logger     *zap.Logger
}

// RouterOption customizes a router.
type RouterOption func(*Router)

// WithEmail assigns the email transport.
func WithEmail(transport EmailTransport) RouterOption {
	return func(r *Router) {
		r.email = transport
	}
}

// WithSMS assigns the SMS transport.
func WithSMS(transport SMSTransport) RouterOption {
	return func(r *Router) {
		r.sms = transport
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter constructs a router.
func NewRouter(recipients Recipients, opts ...RouterOption) *Router {
	r := &Router{recipients: recipients, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send delivers payload on every selected channel. A channel failure does not
// stop the others; the joined error marks the whole job for retry.
func (r *Router) Send(ctx context.Context, payload delivery.Payload) error {
	if !payload.Channels.Any() {
		return &delivery.ConfigurationError{Component: "sender", Reason: "no channel selected"}
	}
	emails, phones := r.recipients.Emails, r.recipients.Phones
	if payload.Recipients != nil {
		if len(payload.Recipients.Emails) > 0 {
			emails = payload.Recipients.Emails
		}
		if len(payload.Recipients.Phones) > 0 {
			phones = payload.Recipients.Phones
		}
	}

	var errs []error
	if payload.Channels.Email {
		errs = append(errs, r.sendEmail(ctx, emails, payload))
	}
	if payload.Channels.SMS {
		errs = append(errs, r.sendSMS(ctx, phones, payload))
	}
	return errors.Join(errs...)
}

func (r *Router) sendEmail(ctx context.Context, to []string, payload delivery.Payload) error {
	if r.email == nil {
		return &delivery.ConfigurationError{Component: "email", Reason: "no email transport configured"}
	}
	to = compact(to)
	if len(to) == 0 {
		return &delivery.ConfigurationError{Component: "email", Reason: "no email recipients"}
	}
	if err := r.email.SendEmail(ctx, to, payload.Subject, payload.Message, payload.HTML); err != nil {
		return wrapTransient("email", err)
	}
	r.logger.Debug("email delivered", zap.Int("recipients", len(to)), zap.String("subject", payload.Subject))
	return nil
}

func (r *Router) sendSMS(ctx context.Context, to []string, payload delivery.Payload) error {
	if r.sms == nil {
		return &delivery.ConfigurationError{Component: "sms", Reason: "no sms transport configured"}
	}
	to = compact(to)
	if len(to) == 0 {
		return &delivery.ConfigurationError{Component: "sms", Reason: "no sms recipients"}
	}
	text := payload.Message
	if text == "" {
		text = payload.Subject
	}
	if err := r.sms.SendSMS(ctx, to, text); err != nil {
		return wrapTransient("sms", err)
	}
	r.logger.Debug("sms delivered", zap.Int("recipients", len(to)))
	return nil
}

func wrapTransient(channel string, err error) error {
	var cfgErr *delivery.ConfigurationError
	if errors.As(err, &cfgErr) {
		return err
	}
	var transient *delivery.TransientDeliveryError
	if errors.As(err, &transient) {
		return err
	}
	return &delivery.TransientDeliveryError{Channel: channel, Err: err}
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

// SplitList parses a comma or semicolon separated recipient list.
func SplitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	return compact(fields)
}
