package delivery

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status is the queue state of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusFailed  Status = "failed"
)

// Kind classifies jobs for the delivery log.
type Kind string

const (
	KindAlarm        Kind = "alarm"
	KindSunsetReport Kind = "sunset_report"
	KindDailyDigest  Kind = "daily_digest"
	KindManual       Kind = "manual"
)

// Channels selects the transports used for a job.
type Channels struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

// Any reports whether at least one channel is selected.
func (c Channels) Any() bool {
	return c.Email || c.SMS
}

func (c Channels) String() string {
	var parts []string
	if c.Email {
		parts = append(parts, "email")
	}
	if c.SMS {
		parts = append(parts, "sms")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Recipients overrides the configured recipient lists for one job.
type Recipients struct {
	Emails []string `json:"emails,omitempty"`
	Phones []string `json:"phones,omitempty"`
}

// Payload is the rendered content of a notification.
type Payload struct {
	Subject    string      `json:"subject"`
	Message    string      `json:"message"`
	HTML       string      `json:"html,omitempty"`
	Channels   Channels    `json:"channels"`
	Severity   string      `json:"severity,omitempty"`
	Recipients *Recipients `json:"recipients,omitempty"`
}

// Validate checks the payload can be delivered.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Subject) == "" {
		return errors.New("delivery payload: empty subject")
	}
	if strings.TrimSpace(p.Message) == "" && strings.TrimSpace(p.HTML) == "" {
		return errors.New("delivery payload: empty message")
	}
	if !p.Channels.Any() {
		return errors.New("delivery payload: no channel selected")
	}
	return nil
}

// Job is a queued notification awaiting delivery.
type Job struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Payload     Payload   `json:"payload"`
	Status      Status    `json:"status"`
	RetryCount  int       `json:"retry_count"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	// Day is the calendar day a daily job reports on; empty for other kinds.
	Day string `json:"day,omitempty"`
}

// DailyJobID is the deterministic id of a once-per-day job.
func DailyJobID(kind Kind, day string) string {
	return string(kind) + ":" + day
}

// LogDay is the delivery log day for an attempt of the job at at. Daily jobs
// keep the day they belong to however late they are retried.
func (j Job) LogDay(at time.Time, loc *time.Location) string {
	if j.Day != "" {
		return j.Day
	}
	if day, ok := strings.CutPrefix(j.ID, string(j.Kind)+":"); ok {
		if _, err := time.Parse(DayLayout, day); err == nil {
			return day
		}
	}
	return DayKey(at, loc)
}

// JobStore persists the delivery queue. Every mutation is idempotent.
type JobStore interface {
	// Enqueue inserts a pending job; it reports false when the id already exists.
	Enqueue(ctx context.Context, job Job) (bool, error)
	// ListDue returns pending jobs and failed jobs the window admits, oldest first.
	ListDue(ctx context.Context, due DueWindow, limit int) ([]Job, error)
	// MarkSending claims a pending or failed job; false means another worker holds it.
	MarkSending(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkFailed moves a sending job to failed and increments its retry count.
	MarkFailed(ctx context.Context, id string) error
	// ResetRetries zeroes the retry count of a failed job after its cool-down.
	ResetRetries(ctx context.Context, id string) error
	// MarkSent deletes the job and records entry in the delivery log atomically.
	MarkSent(ctx context.Context, id string, entry LogEntry) error
	// RecoverStale fails sending jobs whose attempt started before cutoff.
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, limit int) ([]Job, error)
}

// Sender delivers a payload over its selected channels.
type Sender interface {
	Send(ctx context.Context, payload Payload) error
}
