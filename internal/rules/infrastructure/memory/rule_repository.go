package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	rules "plantwatch/internal/rules/domain"
)

// RuleRepository is an in-memory rule store for demo/testing.
type RuleRepository struct {
	mu    sync.RWMutex
	rules map[string]rules.Rule
}

// NewRuleRepository constructs an empty repository.
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{rules: make(map[string]rules.Rule)}
}

// ListEnabled returns enabled rules ordered by creation time.
func (r *RuleRepository) ListEnabled(_ context.Context) ([]rules.Rule, error) {
	return r.list(func(rule rules.Rule) bool { return rule.Enabled }), nil
}

// List returns every rule.
func (r *RuleRepository) List(_ context.Context) ([]rules.Rule, error) {
	return r.list(func(rules.Rule) bool { return true }), nil
}

// Get returns nil, nil for unknown ids.
func (r *RuleRepository) Get(_ context.Context, id string) (*rules.Rule, error) {
	if id == "" {
		return nil, errors.New("rule repo: empty id")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

// Upsert inserts or replaces a rule.
func (r *RuleRepository) Upsert(_ context.Context, rule rules.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}
	r.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule.
func (r *RuleRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return rules.ErrNotFound
	}
	delete(r.rules, id)
	return nil
}

func (r *RuleRepository) list(keep func(rules.Rule) bool) []rules.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rules.Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if keep(rule) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
