package taskstatus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	status  Status
	expires time.Time
}

// MemoryStore is a bounded in-process store.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore builds a store that holds at most maxEntries statuses for ttl.
func NewMemoryStore(ttl time.Duration, maxEntries int) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (s *MemoryStore) Set(_ context.Context, status Status) error {
	if status.Name == "" {
		return errors.New("taskstatus: empty name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.evictLocked(now)
	if _, ok := s.entries[status.Name]; !ok && len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[status.Name] = memoryEntry{status: status, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	if !ok || !s.now().Before(entry.expires) {
		return nil, nil
	}
	status := entry.status
	return &status, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(s.now())
	out := make([]Status, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) evictLocked(now time.Time) {
	for name, entry := range s.entries {
		if !now.Before(entry.expires) {
			delete(s.entries, name)
		}
	}
}

func (s *MemoryStore) evictOldestLocked() {
	var (
		oldest string
		at     time.Time
	)
	for name, entry := range s.entries {
		if oldest == "" || entry.expires.Before(at) {
			oldest, at = name, entry.expires
		}
	}
	delete(s.entries, oldest)
}
