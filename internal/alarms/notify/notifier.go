package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	delivery "plantwatch/internal/delivery/domain"
)

// Enqueuer accepts delivery jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind delivery.Kind, payload delivery.Payload) (delivery.Job, error)
}

// JobDispatcher turns notifying alarm transitions into delivery jobs.
type JobDispatcher struct {
	queue    Enqueuer
	template *Template
	fallback delivery.Channels
	location *time.Location
	logger   *zap.Logger
}

// Option configures the dispatcher.
type Option func(*JobDispatcher)

// WithTemplate overrides the default template.
func WithTemplate(template *Template) Option {
	return func(d *JobDispatcher) {
		if template != nil {
			d.template = template
		}
	}
}

// WithFallbackChannels sets the channels used when a rule selects none.
func WithFallbackChannels(channels delivery.Channels) Option {
	return func(d *JobDispatcher) {
		d.fallback = channels
	}
}

// WithLocation sets the timezone used in rendered times.
func WithLocation(loc *time.Location) Option {
	return func(d *JobDispatcher) {
		if loc != nil {
			d.location = loc
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *JobDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewJobDispatcher constructs a dispatcher.
func NewJobDispatcher(queue Enqueuer, opts ...Option) (*JobDispatcher, error) {
	if queue == nil {
		return nil, errors.New("alarm dispatcher: nil queue")
	}
	template, err := NewTemplate("", "")
	if err != nil {
		return nil, err
	}
	d := &JobDispatcher{
		queue:    queue,
		template: template,
		fallback: delivery.Channels{Email: true},
		location: time.UTC,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch implements the alarm service's Dispatcher.
func (d *JobDispatcher) Dispatch(ctx context.Context, transition alarms.Transition) error {
	if !transition.Kind.Notifies() {
		return nil
	}
	payload, err := d.Payload(transition)
	if err != nil {
		return err
	}
	job, err := d.queue.Enqueue(ctx, delivery.KindAlarm, payload)
	if err != nil {
		return err
	}
	d.logger.Info("alarm notification queued",
		zap.String("job_id", job.ID),
		zap.String("alarm_id", transition.Alarm.ID),
		zap.String("event", string(transition.Kind)))
	return nil
}

// Payload renders the delivery payload of a transition.
func (d *JobDispatcher) Payload(transition alarms.Transition) (delivery.Payload, error) {
	rendered, err := d.template.Render(DataFor(transition, d.location))
	if err != nil {
		return delivery.Payload{}, fmt.Errorf("render alarm %s: %w", transition.Alarm.ID, err)
	}
	channels := delivery.Channels{Email: transition.Alarm.Rule.SendEmail, SMS: transition.Alarm.Rule.SendSMS}
	if !channels.Any() {
		channels = d.fallback
	}
	message := rendered.Text
	if channels.SMS && !channels.Email {
		message = rendered.SMS
	}
	return delivery.Payload{
		Subject:  rendered.Subject,
		Message:  message,
		HTML:     rendered.HTML,
		Channels: channels,
		Severity: transition.Alarm.Rule.Severity.String(),
	}, nil
}
