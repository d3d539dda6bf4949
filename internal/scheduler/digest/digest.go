// Package digest builds the morning summary of open alarms and failed deliveries.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	delivery "plantwatch/internal/delivery/domain"
)

const Subject = "Daily Alarm Digest"

// ActiveAlarms lists the alarms currently raised.
type ActiveAlarms interface {
	ListActive(ctx context.Context) ([]alarms.Alarm, error)
}

// Queue is the subset of the delivery queue the digest needs.
type Queue interface {
	EnqueueDaily(ctx context.Context, kind delivery.Kind, day string, payload delivery.Payload) (bool, error)
	Log(ctx context.Context, filter delivery.LogFilter) ([]delivery.LogEntry, error)
}

// Task enqueues one digest per day when there is something to report.
type Task struct {
	alarms   ActiveAlarms
	queue    Queue
	channels delivery.Channels
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewTask constructs a digest task. Channels default to email.
func NewTask(active ActiveAlarms, queue Queue, channels delivery.Channels, loc *time.Location, logger *zap.Logger) (*Task, error) {
	if active == nil || queue == nil {
		return nil, errors.New("digest: alarms and queue required")
	}
	if !channels.Any() {
		channels = delivery.Channels{Email: true}
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Task{alarms: active, queue: queue, channels: channels, location: loc, now: time.Now, logger: logger}, nil
}

// Run is the scheduler entry point.
func (t *Task) Run(ctx context.Context) error {
	now := t.now()
	today := delivery.DayKey(now, t.location)
	yesterday := delivery.DayKey(now.In(t.location).AddDate(0, 0, -1), t.location)

	active, err := t.alarms.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("digest: active alarms: %w", err)
	}
	entries, err := t.queue.Log(ctx, delivery.LogFilter{From: yesterday, To: yesterday})
	if err != nil {
		return fmt.Errorf("digest: delivery log: %w", err)
	}
	failed := failedJobs(entries)
	if len(active) == 0 && len(failed) == 0 {
		t.logger.Info("digest empty", zap.String("day", today))
		return nil
	}

	created, err := t.queue.EnqueueDaily(ctx, delivery.KindDailyDigest, today, delivery.Payload{
		Subject:  fmt.Sprintf("%s %s", Subject, today),
		Message:  Render(active, failed, yesterday, now),
		Channels: t.channels,
	})
	if err != nil {
		return fmt.Errorf("digest: enqueue: %w", err)
	}
	if created {
		t.logger.Info("digest enqueued",
			zap.String("day", today),
			zap.Int("active_alarms", len(active)),
			zap.Int("failed_deliveries", len(failed)))
	}
	return nil
}

// failedJobs keeps jobs whose effective outcome for the day is failed.
func failedJobs(entries []delivery.LogEntry) []delivery.LogEntry {
	byJob := make(map[string][]delivery.LogEntry)
	var order []string
	for _, entry := range entries {
		if _, ok := byJob[entry.JobID]; !ok {
			order = append(order, entry.JobID)
		}
		byJob[entry.JobID] = append(byJob[entry.JobID], entry)
	}
	var out []delivery.LogEntry
	for _, id := range order {
		effective := delivery.Effective(byJob[id])
		if effective != nil && effective.Status == delivery.LogFailed {
			out = append(out, *effective)
		}
	}
	return out
}

// Render formats the digest body.
func Render(active []alarms.Alarm, failed []delivery.LogEntry, day string, now time.Time) string {
	sorted := append([]alarms.Alarm(nil), active...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity() != sorted[j].Severity() {
			return sorted[i].Severity() > sorted[j].Severity()
		}
		return sorted[i].TriggeredAt.Before(sorted[j].TriggeredAt)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Active alarms: %d\n", len(sorted))
	for _, alarm := range sorted {
		ack := ""
		if alarm.Acknowledged {
			ack = fmt.Sprintf(" (acknowledged by %s)", alarm.AcknowledgedBy)
		}
		fmt.Fprintf(&b, "- [%s] %s: %s, raised %s%s\n",
			strings.ToUpper(alarm.Severity().String()),
			alarm.Rule.Name,
			alarm.CurrentValue.String(),
			humanize.RelTime(alarm.TriggeredAt, now, "ago", "from now"),
			ack)
	}
	fmt.Fprintf(&b, "\nFailed deliveries on %s: %d\n", day, len(failed))
	for _, entry := range failed {
		fmt.Fprintf(&b, "- %s %s after %d attempts: %s\n", entry.Kind, entry.JobID, entry.RetryCount, entry.Error)
	}
	return b.String()
}
