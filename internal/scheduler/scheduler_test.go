package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"plantwatch/internal/taskstatus"
)

func TestNextDaily(t *testing.T) {
	loc := time.FixedZone("plant", 2*3600)
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2026, 6, 1, 0, 30, 0, 0, loc),
			want: time.Date(2026, 6, 1, 1, 0, 0, 0, loc),
		},
		{
			name: "exactly at time rolls to tomorrow",
			now:  time.Date(2026, 6, 1, 1, 0, 0, 0, loc),
			want: time.Date(2026, 6, 2, 1, 0, 0, 0, loc),
		},
		{
			name: "utc input read in plant zone",
			now:  time.Date(2026, 6, 1, 23, 30, 0, 0, time.UTC),
			want: time.Date(2026, 6, 3, 1, 0, 0, 0, loc),
		},
		{
			name: "month rollover",
			now:  time.Date(2026, 6, 30, 5, 0, 0, 0, loc),
			want: time.Date(2026, 7, 1, 1, 0, 0, 0, loc),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := nextDaily(tc.now, 1, 0, loc)
			if !got.Equal(tc.want) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestScheduleDailyRejectsBadTime(t *testing.T) {
	s := New()
	if err := s.ScheduleDaily("bad", "25:00", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
	if err := s.ScheduleRecurring("zero", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDuplicateNames(t *testing.T) {
	s := New()
	task := func(context.Context) error { return nil }
	if err := s.ScheduleRecurring("sweep", time.Minute, task); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.ScheduleRecurring("sweep", time.Minute, task); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestRecurringAndRunAtStart(t *testing.T) {
	status := taskstatus.NewService(taskstatus.NewMemoryStore(time.Hour, 10), nil)
	s := New(WithStatus(status))
	var ticks, refreshes int32
	if err := s.ScheduleRecurring("tick", 10*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&ticks, 1)
		return nil
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.ScheduleDaily("refresh", "01:00", func(context.Context) error {
		atomic.AddInt32(&refreshes, 1)
		return nil
	}, RunAtStart()); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&ticks) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	s.Wait()

	if atomic.LoadInt32(&ticks) < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks)
	}
	if atomic.LoadInt32(&refreshes) != 1 {
		t.Fatalf("expected refresh at start, got %d", refreshes)
	}
	list, err := status.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "refresh" || list[0].State != taskstatus.StateSucceeded {
		t.Fatalf("unexpected status: %+v", list)
	}
}

func TestRunRecoversPanicAndRecordsFailure(t *testing.T) {
	status := taskstatus.NewService(taskstatus.NewMemoryStore(time.Hour, 10), nil)
	s := New(WithStatus(status))
	_ = s.ScheduleRecurring("boom", time.Hour, func(context.Context) error { panic("kaput") })
	_ = s.ScheduleRecurring("skip", time.Hour, func(context.Context) error { return taskstatus.ErrSkipped })

	if err := s.RunNow(context.Background(), "boom"); err == nil {
		t.Fatalf("expected panic error")
	}
	if err := s.RunNow(context.Background(), "skip"); !errors.Is(err, taskstatus.ErrSkipped) {
		t.Fatalf("expected skipped, got %v", err)
	}
	list, _ := status.List(context.Background())
	if list[0].State != taskstatus.StateFailed || list[1].State != taskstatus.StateSkipped {
		t.Fatalf("unexpected status: %+v", list)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatalf("expected unknown task error")
	}
}
