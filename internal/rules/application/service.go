package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plantwatch/internal/audit"
	rules "plantwatch/internal/rules/domain"
)

// Service owns rule administration and serves the enabled-rule index to the evaluator.
type Service struct {
	repo   rules.Repository
	audit  audit.Logger
	logger *zap.Logger
	clock  Clock

	loadMu sync.Mutex
	index  atomic.Pointer[ruleIndex]
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type ruleIndex struct {
	byPoint map[string][]rules.Rule
	enabled []rules.Rule
}

// ServiceOption customizes the rule service.
type ServiceOption func(*Service)

// WithAudit assigns an audit sink.
func WithAudit(logger audit.Logger) ServiceOption {
	return func(s *Service) {
		s.audit = logger
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a rule service.
func NewService(repo rules.Repository, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("rules: nil repository")
	}
	s := &Service{repo: repo, logger: zap.NewNop(), clock: systemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ListEnabledRules returns all enabled rules.
func (s *Service) ListEnabledRules(ctx context.Context) ([]rules.Rule, error) {
	idx, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]rules.Rule, len(idx.enabled))
	copy(out, idx.enabled)
	return out, nil
}

// RulesFor returns enabled rules targeting a data point.
func (s *Service) RulesFor(ctx context.Context, dataPointID string) ([]rules.Rule, error) {
	idx, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return idx.byPoint[dataPointID], nil
}

// GetRule returns a rule or rules.ErrNotFound.
func (s *Service) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, rules.ErrNotFound
	}
	return rule, nil
}

// ListRules returns every rule including disabled ones.
func (s *Service) ListRules(ctx context.Context) ([]rules.Rule, error) {
	return s.repo.List(ctx)
}

// SaveRule creates or replaces a rule. An empty id allocates a new one.
func (s *Service) SaveRule(ctx context.Context, rule rules.Rule) (*rules.Rule, error) {
	now := s.clock.Now()
	if rule.ID == "" {
		rule.ID = "rule-" + uuid.NewString()
	}
	existing, err := s.repo.Get(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, rule); err != nil {
		return nil, fmt.Errorf("rules: save %s: %w", rule.ID, err)
	}
	s.Invalidate()
	audit.Record(ctx, s.audit, s.logger, audit.NewEntry(ctx, audit.ActionRuleSaved, "rule", rule.ID, rule))
	return &rule, nil
}

// SetEnabled toggles a rule.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*rules.Rule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.Enabled == enabled {
		return rule, nil
	}
	rule.Enabled = enabled
	rule.UpdatedAt = s.clock.Now()
	if err := s.repo.Upsert(ctx, *rule); err != nil {
		return nil, err
	}
	s.Invalidate()
	audit.Record(ctx, s.audit, s.logger, audit.NewEntry(ctx, audit.ActionRuleToggled, "rule", id, map[string]bool{"enabled": enabled}))
	return rule, nil
}

// DeleteRule removes a rule. Active alarms raised by it keep their snapshot.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Invalidate()
	audit.Record(ctx, s.audit, s.logger, audit.NewEntry(ctx, audit.ActionRuleDeleted, "rule", id, nil))
	return nil
}

// Import saves each rule, continuing past invalid entries.
func (s *Service) Import(ctx context.Context, list []rules.Rule) (int, error) {
	var (
		saved int
		errs  []error
	)
	for _, rule := range list {
		if _, err := s.SaveRule(ctx, rule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rule.ID, err))
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

// Invalidate drops the cached index so the next read reloads it.
func (s *Service) Invalidate() {
	s.index.Store(nil)
}

// Refresh reloads the index from the repository.
func (s *Service) Refresh(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.reload(ctx)
}

func (s *Service) load(ctx context.Context) (*ruleIndex, error) {
	if idx := s.index.Load(); idx != nil {
		return idx, nil
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if idx := s.index.Load(); idx != nil {
		return idx, nil
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s.index.Load(), nil
}

func (s *Service) reload(ctx context.Context) error {
	enabled, err := s.repo.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("rules: load enabled: %w", err)
	}
	idx := &ruleIndex{byPoint: make(map[string][]rules.Rule), enabled: enabled}
	for _, rule := range enabled {
		idx.byPoint[rule.DataPointID] = append(idx.byPoint[rule.DataPointID], rule)
	}
	s.index.Store(idx)
	s.logger.Debug("rule index loaded", zap.Int("enabled", len(enabled)))
	return nil
}
