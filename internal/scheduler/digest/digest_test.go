package digest

import (
	"context"
	"strings"
	"testing"
	"time"

	alarms "plantwatch/internal/alarms/domain"
	deliveryapp "plantwatch/internal/delivery/application"
	delivery "plantwatch/internal/delivery/domain"
	"plantwatch/internal/delivery/infrastructure/memory"
	rules "plantwatch/internal/rules/domain"
	telemetry "plantwatch/internal/telemetry/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type stubAlarms []alarms.Alarm

func (s stubAlarms) ListActive(context.Context) ([]alarms.Alarm, error) {
	return s, nil
}

func TestDigestListsAlarmsAndFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 2, 7, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	store := memory.NewStore()
	queue, err := deliveryapp.NewQueue(store, store.Log(), deliveryapp.WithQueueClock(clock), deliveryapp.WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	for _, entry := range []delivery.LogEntry{
		{Day: "2026-06-01", Kind: delivery.KindAlarm, JobID: "job-a", Status: delivery.LogFailed, RetryCount: 3, Error: "smtp timeout"},
		{Day: "2026-06-01", Kind: delivery.KindAlarm, JobID: "job-b", Status: delivery.LogFailed, RetryCount: 1, Error: "smtp timeout"},
		{Day: "2026-06-01", Kind: delivery.KindAlarm, JobID: "job-b", Status: delivery.LogSent, RetryCount: 1},
		{Day: "2026-05-31", Kind: delivery.KindAlarm, JobID: "job-c", Status: delivery.LogFailed, RetryCount: 3},
	} {
		if err := store.Append(ctx, entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	active := stubAlarms{
		{
			ID: "a1", RuleID: "r1", TriggeredAt: now.Add(-2 * time.Hour),
			CurrentValue: telemetry.Number(41),
			Rule:         alarms.RuleSnapshot{Name: "Inverter low", Severity: rules.SeverityWarning},
		},
		{
			ID: "a2", RuleID: "r2", TriggeredAt: now.Add(-30 * time.Minute),
			CurrentValue: telemetry.Number(95),
			Rule:         alarms.RuleSnapshot{Name: "Boiler hot", Severity: rules.SeverityCritical},
		},
	}

	task, err := NewTask(active, queue, delivery.Channels{}, time.UTC, nil)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	task.now = clock.Now
	if err := task.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := task.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	jobs, _ := store.List(ctx, 0)
	if len(jobs) != 1 || jobs[0].ID != "daily_digest:2026-06-02" {
		t.Fatalf("expected one digest job, got %+v", jobs)
	}
	body := jobs[0].Payload.Message
	if strings.Index(body, "Boiler hot") > strings.Index(body, "Inverter low") {
		t.Fatalf("critical alarm must come first:\n%s", body)
	}
	if !strings.Contains(body, "job-a") || strings.Contains(body, "job-b") || strings.Contains(body, "job-c") {
		t.Fatalf("unexpected failed deliveries:\n%s", body)
	}
	if !jobs[0].Payload.Channels.Email {
		t.Fatalf("expected email fallback")
	}
}

func TestDigestEmptyDayEnqueuesNothing(t *testing.T) {
	store := memory.NewStore()
	queue, _ := deliveryapp.NewQueue(store, store.Log())
	task, _ := NewTask(stubAlarms{}, queue, delivery.Channels{Email: true}, time.UTC, nil)
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if jobs, _ := store.List(context.Background(), 0); len(jobs) != 0 {
		t.Fatalf("expected no job, got %d", len(jobs))
	}
}
