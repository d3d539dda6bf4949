package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	delivery "plantwatch/internal/delivery/domain"
)

// Store is an in-memory delivery queue and log for demo/testing.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]delivery.Job
	log    []delivery.LogEntry
	nextID int64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]delivery.Job)}
}

// Enqueue inserts a pending job unless its id exists.
func (s *Store) Enqueue(_ context.Context, job delivery.Job) (bool, error) {
	if job.ID == "" {
		return false, errors.New("job store: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return false, nil
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = delivery.StatusPending
	job.RetryCount = 0
	job.LastAttempt = time.Time{}
	s.jobs[job.ID] = job
	return true, nil
}

// ListDue returns pending jobs and failed jobs due under the window, oldest first.
func (s *Store) ListDue(_ context.Context, due delivery.DueWindow, limit int) ([]delivery.Job, error) {
	return s.list(limit, due.Admits), nil
}

// List returns all jobs, oldest first.
func (s *Store) List(_ context.Context, limit int) ([]delivery.Job, error) {
	return s.list(limit, func(delivery.Job) bool { return true }), nil
}

// MarkSending claims a pending or failed job.
func (s *Store) MarkSending(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status == delivery.StatusSending {
		return false, nil
	}
	job.Status = delivery.StatusSending
	job.LastAttempt = at.UTC()
	s.jobs[id] = job
	return true, nil
}

// MarkFailed records a failed attempt of a sending job.
func (s *Store) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != delivery.StatusSending {
		return nil
	}
	job.Status = delivery.StatusFailed
	job.RetryCount++
	s.jobs[id] = job
	return nil
}

// ResetRetries zeroes the retry count of a failed job.
func (s *Store) ResetRetries(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != delivery.StatusFailed {
		return nil
	}
	job.RetryCount = 0
	s.jobs[id] = job
	return nil
}

// MarkSent deletes the job and appends entry.
func (s *Store) MarkSent(_ context.Context, id string, entry delivery.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return nil
	}
	delete(s.jobs, id)
	s.appendLocked(entry)
	return nil
}

// RecoverStale fails sending jobs claimed before cutoff.
func (s *Store) RecoverStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recovered := 0
	for id, job := range s.jobs {
		if job.Status == delivery.StatusSending && job.LastAttempt.Before(cutoff) {
			job.Status = delivery.StatusFailed
			job.RetryCount++
			s.jobs[id] = job
			recovered++
		}
	}
	return recovered, nil
}

// Get returns a job or nil.
func (s *Store) Get(_ context.Context, id string) (*delivery.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

// Append writes a delivery log entry.
func (s *Store) Append(_ context.Context, entry delivery.LogEntry) error {
	if entry.Day == "" || entry.Kind == "" || entry.Status == "" {
		return errors.New("delivery log: incomplete entry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(entry)
	return nil
}

// DailyStatus returns the effective entry for day and kind.
func (s *Store) DailyStatus(_ context.Context, day string, kind delivery.Kind) (*delivery.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matching []delivery.LogEntry
	for _, entry := range s.log {
		if entry.Day == day && entry.Kind == kind {
			matching = append(matching, entry)
		}
	}
	return delivery.Effective(matching), nil
}

// ListLog filters log entries, newest first.
func (s *Store) ListLog(_ context.Context, filter delivery.LogFilter) ([]delivery.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []delivery.LogEntry
	for i := len(s.log) - 1; i >= 0; i-- {
		entry := s.log[i]
		if filter.From != "" && entry.Day < filter.From {
			continue
		}
		if filter.To != "" && entry.Day > filter.To {
			continue
		}
		if filter.Kind != "" && entry.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Log adapts the store to delivery.LogStore.
func (s *Store) Log() delivery.LogStore {
	return logView{s}
}

type logView struct{ *Store }

func (v logView) List(ctx context.Context, filter delivery.LogFilter) ([]delivery.LogEntry, error) {
	return v.Store.ListLog(ctx, filter)
}

func (s *Store) appendLocked(entry delivery.LogEntry) {
	s.nextID++
	entry.ID = s.nextID
	if entry.LastAttempt.IsZero() {
		entry.LastAttempt = time.Now().UTC()
	}
	s.log = append(s.log, entry)
}

func (s *Store) list(limit int, keep func(delivery.Job) bool) []delivery.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]delivery.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
