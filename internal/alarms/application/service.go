package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/audit"
	"plantwatch/internal/observability/metrics"
	rules "plantwatch/internal/rules/domain"
)

// DefaultRenotifyInterval is the minimum gap between repeat notifications.
const DefaultRenotifyInterval = 30 * time.Minute

// AlarmNotifier publishes alarm lifecycle transitions to observers.
type AlarmNotifier interface {
	Notify(ctx context.Context, transition alarms.Transition)
}

// Dispatcher turns a notifying transition into an outbound delivery job.
type Dispatcher interface {
	Dispatch(ctx context.Context, transition alarms.Transition) error
}

// RuleSource serves enabled rules to the evaluator.
type RuleSource interface {
	RulesFor(ctx context.Context, dataPointID string) ([]rules.Rule, error)
	GetRule(ctx context.Context, id string) (*rules.Rule, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service evaluates telemetry against rules and owns active alarm transitions.
type Service struct {
	rules      RuleSource
	alarms     alarms.Repository
	dispatcher Dispatcher
	notifier   AlarmNotifier
	audit      audit.Logger
	logger     *zap.Logger
	clock      Clock
	locks      *keyedMutex

	renotifyInterval     time.Duration
	renotifyAcknowledged bool
}

// ServiceOption customizes the alarm service.
type ServiceOption func(*Service)

// WithNotifier assigns a transition observer.
func WithNotifier(notifier AlarmNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithDispatcher assigns the delivery dispatcher.
func WithDispatcher(dispatcher Dispatcher) ServiceOption {
	return func(s *Service) {
		s.dispatcher = dispatcher
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

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAudit assigns an audit sink for operator actions.
func WithAudit(logger audit.Logger) ServiceOption {
	return func(s *Service) {
		s.audit = logger
	}
}

// WithRenotifyInterval overrides the re-notify interval.
func WithRenotifyInterval(interval time.Duration) ServiceOption {
	return func(s *Service) {
		if interval > 0 {
			s.renotifyInterval = interval
		}
	}
}

// WithRenotifyAcknowledged controls whether acknowledged alarms keep resurfacing.
func WithRenotifyAcknowledged(enabled bool) ServiceOption {
	return func(s *Service) {
		s.renotifyAcknowledged = enabled
	}
}

// NewService constructs an alarm service.
func NewService(ruleSource RuleSource, repo alarms.Repository, opts ...ServiceOption) (*Service, error) {
	if ruleSource == nil {
		return nil, errors.New("alarms: nil rule source")
	}
	if repo == nil {
		return nil, errors.New("alarms: nil repository")
	}
	service := &Service{
		rules:                ruleSource,
		alarms:               repo,
		logger:               zap.NewNop(),
		clock:                systemClock{},
		locks:                newKeyedMutex(),
		renotifyInterval:     DefaultRenotifyInterval,
		renotifyAcknowledged: true,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Acknowledge marks an alarm acknowledged by userID. Repeated or late calls
// return alarms.ErrAlreadyAcknowledged or alarms.ErrNotFound without side effects.
func (s *Service) Acknowledge(ctx context.Context, alarmID, userID string) (*alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if alarmID == "" {
		return nil, errors.New("alarms: alarm id required")
	}
	if userID == "" {
		userID = "unknown"
	}
	now := s.clock.Now()
	alarm, err := s.alarms.Acknowledge(ctx, alarmID, userID, now)
	if err != nil {
		return alarm, err
	}
	s.publish(ctx, alarms.Transition{Kind: alarms.TransitionAcked, Alarm: *alarm, At: now})
	audit.Record(ctx, s.audit, s.logger, audit.NewEntry(ctx, audit.ActionAlarmAcked, "alarm", alarm.ID,
		map[string]string{"rule_id": alarm.RuleID, "by": userID}))
	return alarm, nil
}

// Clear removes an alarm on operator request. The rule may raise it again on
// its next true evaluation.
func (s *Service) Clear(ctx context.Context, alarmID string) (*alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	alarm, err := s.alarms.Get(ctx, alarmID)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, alarms.ErrNotFound
	}
	unlock := s.locks.Lock(alarm.RuleID)
	defer unlock()
	if err := s.alarms.Delete(ctx, alarm.ID); err != nil {
		return nil, err
	}
	s.publish(ctx, alarms.Transition{Kind: alarms.TransitionCleared, Alarm: *alarm, At: s.clock.Now()})
	audit.Record(ctx, s.audit, s.logger, audit.NewEntry(ctx, audit.ActionAlarmCleared, "alarm", alarm.ID,
		map[string]string{"rule_id": alarm.RuleID}))
	return alarm, nil
}

// ListActive returns all active alarms.
func (s *Service) ListActive(ctx context.Context) ([]alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	return s.alarms.ListActive(ctx)
}

// Banner returns the most severe unacknowledged warning-or-worse alarm.
func (s *Service) Banner(ctx context.Context) (*alarms.Alarm, error) {
	list, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	alarm, ok := alarms.MostSevere(list)
	if !ok {
		return nil, nil
	}
	return &alarm, nil
}

func (s *Service) publish(ctx context.Context, transition alarms.Transition) {
	metrics.IncAlarmTransition(string(transition.Kind))
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, transition)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
