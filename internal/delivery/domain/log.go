package delivery

import (
	"context"
	"time"
)

// LogStatus is the outcome recorded in the delivery log.
type LogStatus string

const (
	LogSent    LogStatus = "sent"
	LogPending LogStatus = "pending"
	LogFailed  LogStatus = "failed"
)

// DayLayout formats day keys.
const DayLayout = "2006-01-02"

// DayKey returns the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// LogEntry is one append-only delivery log record.
type LogEntry struct {
	ID          int64     `json:"id,omitempty"`
	Day         string    `json:"day"`
	Kind        Kind      `json:"kind"`
	JobID       string    `json:"job_id"`
	Subject     string    `json:"subject,omitempty"`
	Status      LogStatus `json:"status"`
	RetryCount  int       `json:"retry_count"`
	Error       string    `json:"error,omitempty"`
	LastAttempt time.Time `json:"last_attempt"`
}

// LogFilter narrows List results. Empty fields match everything.
type LogFilter struct {
	From   string
	To     string
	Kind   Kind
	Status LogStatus
	Limit  int
}

// LogStore is the append-only delivery log.
type LogStore interface {
	Append(ctx context.Context, entry LogEntry) error
	// DailyStatus returns the effective entry for (day, kind): any sent entry
	// wins, otherwise the latest one. Nil when the day has no entry.
	DailyStatus(ctx context.Context, day string, kind Kind) (*LogEntry, error)
	List(ctx context.Context, filter LogFilter) ([]LogEntry, error)
}

// Effective reduces the entries of one (day, kind) to the status that guards daily sends.
func Effective(entries []LogEntry) *LogEntry {
	var latest *LogEntry
	for i := range entries {
		entry := entries[i]
		if entry.Status == LogSent {
			return &entry
		}
		if latest == nil || !entry.LastAttempt.Before(latest.LastAttempt) {
			latest = &entry
		}
	}
	return latest
}
