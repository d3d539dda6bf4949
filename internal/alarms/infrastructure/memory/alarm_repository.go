package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	alarms "plantwatch/internal/alarms/domain"
)

// AlarmRepository is an in-memory active alarm store for demo/testing.
type AlarmRepository struct {
	mu     sync.RWMutex
	byRule map[string]alarms.Alarm
}

// NewAlarmRepository constructs an empty repository.
func NewAlarmRepository() *AlarmRepository {
	return &AlarmRepository{byRule: make(map[string]alarms.Alarm)}
}

// GetByRule returns the alarm held by a rule, or nil.
func (r *AlarmRepository) GetByRule(_ context.Context, ruleID string) (*alarms.Alarm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alarm, ok := r.byRule[ruleID]
	if !ok {
		return nil, nil
	}
	return &alarm, nil
}

// Get returns an alarm by id, or nil.
func (r *AlarmRepository) Get(_ context.Context, id string) (*alarms.Alarm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alarm, ok := r.findLocked(id)
	if !ok {
		return nil, nil
	}
	return &alarm, nil
}

// Upsert stores the alarm keyed by rule, preserving id and acknowledgment of an existing entry.
func (r *AlarmRepository) Upsert(_ context.Context, alarm alarms.Alarm) error {
	if alarm.ID == "" || alarm.RuleID == "" {
		return errors.New("alarm repo: missing fields")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byRule[alarm.RuleID]; ok {
		existing.LastNotifiedAt = alarm.LastNotifiedAt
		existing.CurrentValue = alarm.CurrentValue
		existing.UpdatedAt = alarm.UpdatedAt
		r.byRule[alarm.RuleID] = existing
		return nil
	}
	r.byRule[alarm.RuleID] = alarm
	return nil
}

// ClearByRule removes the alarm held by a rule.
func (r *AlarmRepository) ClearByRule(_ context.Context, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byRule, ruleID)
	return nil
}

// Delete removes an alarm by id.
func (r *AlarmRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	alarm, ok := r.findLocked(id)
	if !ok {
		return alarms.ErrNotFound
	}
	delete(r.byRule, alarm.RuleID)
	return nil
}

// Acknowledge marks an alarm acknowledged once.
func (r *AlarmRepository) Acknowledge(_ context.Context, id, by string, at time.Time) (*alarms.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alarm, ok := r.findLocked(id)
	if !ok {
		return nil, alarms.ErrNotFound
	}
	if alarm.Acknowledged {
		return &alarm, alarms.ErrAlreadyAcknowledged
	}
	alarm.Acknowledged = true
	alarm.AcknowledgedAt = at.UTC()
	alarm.AcknowledgedBy = by
	r.byRule[alarm.RuleID] = alarm
	return &alarm, nil
}

// ListActive returns all alarms, newest first.
func (r *AlarmRepository) ListActive(_ context.Context) ([]alarms.Alarm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]alarms.Alarm, 0, len(r.byRule))
	for _, alarm := range r.byRule {
		out = append(out, alarm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	return out, nil
}

func (r *AlarmRepository) findLocked(id string) (alarms.Alarm, bool) {
	for _, alarm := range r.byRule {
		if alarm.ID == id {
			return alarm, true
		}
	}
	return alarms.Alarm{}, false
}
