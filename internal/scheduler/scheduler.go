// Package scheduler runs named tasks at a local time of day or on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"plantwatch/internal/observability/metrics"
	"plantwatch/internal/taskstatus"
)

// Task is a unit of scheduled work.
type Task func(ctx context.Context) error

type entry struct {
	name       string
	task       Task
	hour       int
	minute     int
	interval   time.Duration
	runAtStart bool
}

func (e entry) daily() bool {
	return e.interval == 0
}

// Scheduler fires registered tasks until its context ends.
type Scheduler struct {
	location *time.Location
	status   *taskstatus.Service
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries []entry
	started bool
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the zone daily times are read in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithStatus records each run in status.
func WithStatus(status *taskstatus.Service) Option {
	return func(s *Scheduler) {
		s.status = status
	}
}

// WithLogger sets the logger for run and skip messages.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Scheduler in the local zone.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{location: time.Local, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DailyOption tunes a daily entry.
type DailyOption func(*entry)

// RunAtStart also runs the task once when the scheduler starts.
func RunAtStart() DailyOption {
	return func(e *entry) {
		e.runAtStart = true
	}
}

// ScheduleDaily runs task every day at atLocalTime ("HH:MM").
func (s *Scheduler) ScheduleDaily(name, atLocalTime string, task Task, opts ...DailyOption) error {
	hour, minute, err := parseDailyAt(atLocalTime)
	if err != nil {
		return fmt.Errorf("scheduler: task %s: %w", name, err)
	}
	e := entry{name: name, task: task, hour: hour, minute: minute}
	for _, opt := range opts {
		opt(&e)
	}
	return s.add(e)
}

// ScheduleRecurring runs task every interval, first after one interval.
func (s *Scheduler) ScheduleRecurring(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %s: interval must be positive", name)
	}
	return s.add(entry{name: name, task: task, interval: interval})
}

func (s *Scheduler) add(e entry) error {
	if e.name == "" || e.task == nil {
		return errors.New("scheduler: name and task required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: already started")
	}
	for _, existing := range s.entries {
		if existing.name == e.name {
			return fmt.Errorf("scheduler: duplicate task %s", e.name)
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

// Start launches one loop per entry. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()

	for _, e := range entries {
		s.wg.Add(1)
		go func(e entry) {
			defer s.wg.Done()
			s.loop(ctx, e)
		}(e)
	}
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunNow executes a registered task synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var found *entry
	for i := range s.entries {
		if s.entries[i].name == name {
			e := s.entries[i]
			found = &e
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return fmt.Errorf("scheduler: unknown task %s", name)
	}
	return s.run(ctx, *found)
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	if e.runAtStart {
		_ = s.run(ctx, e)
	}
	for {
		wait := e.interval
		if e.daily() {
			now := s.now()
			wait = nextDaily(now, e.hour, e.minute, s.location).Sub(now)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_ = s.run(ctx, e)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, e entry) (err error) {
	started := s.status.Start(ctx, e.name)
	begin := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panic: %v", e.name, r)
		}
		state := s.status.Finish(ctx, e.name, started, err)
		result := metrics.ResultSuccess
		switch state {
		case taskstatus.StateFailed:
			result = metrics.ResultError
			s.logger.Error("scheduled task failed", zap.String("task", e.name), zap.Error(err))
		case taskstatus.StateSkipped:
			result = "skipped"
			s.logger.Warn("scheduled task skipped", zap.String("task", e.name), zap.Error(err))
		}
		metrics.ObserveSchedulerRun(e.name, result, time.Since(begin))
	}()
	return e.task(ctx)
}

// nextDaily returns the first hour:minute in loc strictly after now.
func nextDaily(now time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
