package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plantwatch/internal/audit"
	delivery "plantwatch/internal/delivery/domain"
	"plantwatch/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Queue is the producer side of the delivery queue.
type Queue struct {
	jobs     delivery.JobStore
	log      delivery.LogStore
	clock    Clock
	location *time.Location
	audit    audit.Logger
	logger   *zap.Logger
}

// QueueOption customizes the queue.
type QueueOption func(*Queue)

// WithQueueClock assigns a clock.
func WithQueueClock(clock Clock) QueueOption {
	return func(q *Queue) {
		if clock != nil {
			q.clock = clock
		}
	}
}

// WithLocation sets the timezone used for day keys.
func WithLocation(loc *time.Location) QueueOption {
	return func(q *Queue) {
		if loc != nil {
			q.location = loc
		}
	}
}

// WithQueueLogger assigns a logger.
func WithQueueLogger(logger *zap.Logger) QueueOption {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithQueueAudit records manual sends.
func WithQueueAudit(logger audit.Logger) QueueOption {
	return func(q *Queue) {
		q.audit = logger
	}
}

// NewQueue constructs a queue.
func NewQueue(jobs delivery.JobStore, log delivery.LogStore, opts ...QueueOption) (*Queue, error) {
	if jobs == nil || log == nil {
		return nil, errors.New("delivery: nil store")
	}
	q := &Queue{jobs: jobs, log: log, clock: systemClock{}, location: time.UTC, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue adds a job with a fresh id.
func (q *Queue) Enqueue(ctx context.Context, kind delivery.Kind, payload delivery.Payload) (delivery.Job, error) {
	job := delivery.Job{
		ID:        "job-" + uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		Status:    delivery.StatusPending,
		CreatedAt: q.clock.Now(),
	}
	if err := payload.Validate(); err != nil {
		return delivery.Job{}, err
	}
	if _, err := q.jobs.Enqueue(ctx, job); err != nil {
		return delivery.Job{}, fmt.Errorf("delivery: enqueue %s: %w", kind, err)
	}
	metrics.IncJobEnqueued(string(kind))
	q.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("kind", string(kind)),
		zap.Stringer("channels", payload.Channels))
	return job, nil
}

// EnqueueDaily enqueues at most one job of kind per calendar day. It skips the
// day once the log holds a non-pending entry and relies on the deterministic
// job id while the day is still pending.
func (q *Queue) EnqueueDaily(ctx context.Context, kind delivery.Kind, day string, payload delivery.Payload) (bool, error) {
	if err := payload.Validate(); err != nil {
		return false, err
	}
	status, err := q.log.DailyStatus(ctx, day, kind)
	if err != nil {
		return false, err
	}
	if status != nil && status.Status != delivery.LogPending {
		q.logger.Debug("daily job already handled",
			zap.String("kind", string(kind)),
			zap.String("day", day),
			zap.String("status", string(status.Status)))
		return false, nil
	}
	now := q.clock.Now()
	job := delivery.Job{
		ID:        delivery.DailyJobID(kind, day),
		Kind:      kind,
		Payload:   payload,
		Status:    delivery.StatusPending,
		CreatedAt: now,
		Day:       day,
	}
	created, err := q.jobs.Enqueue(ctx, job)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}
	metrics.IncJobEnqueued(string(kind))
	if err := q.log.Append(ctx, delivery.LogEntry{
		Day:         day,
		Kind:        kind,
		JobID:       job.ID,
		Subject:     payload.Subject,
		Status:      delivery.LogPending,
		LastAttempt: now,
	}); err != nil {
		q.logger.Warn("daily pending log failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	q.logger.Info("daily job enqueued", zap.String("job_id", job.ID))
	return true, nil
}

// SendNow queues an ad-hoc notification outside rule evaluation.
func (q *Queue) SendNow(ctx context.Context, subject, message string, channels delivery.Channels) (string, error) {
	job, err := q.Enqueue(ctx, delivery.KindManual, delivery.Payload{
		Subject:  subject,
		Message:  message,
		Channels: channels,
	})
	if err != nil {
		return "", err
	}
	audit.Record(ctx, q.audit, q.logger, audit.NewEntry(ctx, audit.ActionNotificationNow, "job", job.ID,
		map[string]any{"subject": subject, "channels": channels.String()}))
	return job.ID, nil
}

// Today returns the current day key.
func (q *Queue) Today() string {
	return delivery.DayKey(q.clock.Now(), q.location)
}

// Jobs lists queued jobs.
func (q *Queue) Jobs(ctx context.Context, limit int) ([]delivery.Job, error) {
	return q.jobs.List(ctx, limit)
}

// Log lists delivery log entries.
func (q *Queue) Log(ctx context.Context, filter delivery.LogFilter) ([]delivery.LogEntry, error) {
	return q.log.List(ctx, filter)
}
