package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/observability/metrics"
	rules "plantwatch/internal/rules/domain"
	telemetry "plantwatch/internal/telemetry/domain"
)

// HandleUpdate evaluates a telemetry update. It implements telemetry.Handler.
func (s *Service) HandleUpdate(ctx context.Context, update telemetry.Update) error {
	_, err := s.Evaluate(ctx, update.DataPointID, update.Value, update.Timestamp)
	return err
}

// Evaluate applies every enabled rule targeting dataPointID and returns the
// resulting transitions. A failing rule does not stop the others.
func (s *Service) Evaluate(ctx context.Context, dataPointID string, value telemetry.Value, ts time.Time) ([]alarms.Transition, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	ruleList, err := s.rules.RulesFor(ctx, dataPointID)
	if err != nil {
		return nil, fmt.Errorf("alarms: load rules for %s: %w", dataPointID, err)
	}

	var (
		transitions []alarms.Transition
		errs        []error
	)
	for _, rule := range ruleList {
		if !rule.Enabled || rule.DataPointID != dataPointID {
			continue
		}
		transition, err := s.evaluateRule(ctx, rule, value)
		if err != nil {
			metrics.IncRuleEvaluation("error")
			s.logger.Error("rule evaluation failed",
				zap.String("rule_id", rule.ID),
				zap.String("data_point_id", dataPointID),
				zap.Time("sample_ts", ts),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		if transition != nil {
			transitions = append(transitions, *transition)
			s.publish(ctx, *transition)
		}
	}
	return transitions, errors.Join(errs...)
}

func (s *Service) evaluateRule(ctx context.Context, rule rules.Rule, value telemetry.Value) (*alarms.Transition, error) {
	unlock := s.locks.Lock(rule.ID)
	defer unlock()

	met, err := rule.Matches(value)
	switch {
	case errors.Is(err, telemetry.ErrTypeMismatch):
		metrics.IncRuleEvaluation("mismatch")
		s.logger.Debug("condition type mismatch",
			zap.String("rule_id", rule.ID),
			zap.Stringer("value", value),
			zap.Error(err))
		met = false
	case err != nil:
		return nil, err
	case met:
		metrics.IncRuleEvaluation("matched")
	default:
		metrics.IncRuleEvaluation("not_matched")
	}

	existing, err := s.alarms.GetByRule(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	switch {
	case existing == nil && !met:
		return nil, nil
	case existing == nil:
		return s.raise(ctx, rule, value, now)
	case !met:
		if err := s.alarms.ClearByRule(ctx, rule.ID); err != nil {
			return nil, err
		}
		existing.CurrentValue = value
		existing.UpdatedAt = now
		return &alarms.Transition{Kind: alarms.TransitionCleared, Alarm: *existing, At: now}, nil
	default:
		alarm := *existing
		alarm.CurrentValue = value
		alarm.UpdatedAt = now
		return s.refresh(ctx, alarm, now)
	}
}

// raise stores the alarm with its notification owed, dispatches it, then
// records the notification time. A crash in between leaves the debt visible.
func (s *Service) raise(ctx context.Context, rule rules.Rule, value telemetry.Value, now time.Time) (*alarms.Transition, error) {
	alarm := alarms.Alarm{
		ID:           "alarm-" + uuid.NewString(),
		RuleID:       rule.ID,
		TriggeredAt:  now,
		CurrentValue: value,
		UpdatedAt:    now,
		Rule:         alarms.SnapshotOf(rule),
	}
	if err := s.alarms.Upsert(ctx, alarm); err != nil {
		return nil, err
	}
	transition := alarms.Transition{Kind: alarms.TransitionRaised, Alarm: alarm, At: now}
	if s.dispatch(ctx, transition) {
		alarm.LastNotifiedAt = now
		if err := s.alarms.Upsert(ctx, alarm); err != nil {
			return nil, err
		}
	}
	transition.Alarm = alarm
	return &transition, nil
}

func (s *Service) refresh(ctx context.Context, alarm alarms.Alarm, now time.Time) (*alarms.Transition, error) {
	kind := alarms.TransitionUpdated
	if s.notifyDue(alarm, now) {
		kind = alarms.TransitionRenotified
		if alarm.NotificationOwed() {
			kind = alarms.TransitionRaised
		}
		if s.dispatch(ctx, alarms.Transition{Kind: kind, Alarm: alarm, At: now}) {
			alarm.LastNotifiedAt = now
		} else {
			kind = alarms.TransitionUpdated
		}
	}
	if err := s.alarms.Upsert(ctx, alarm); err != nil {
		return nil, err
	}
	return &alarms.Transition{Kind: kind, Alarm: alarm, At: now}, nil
}

// Sweep re-notifies active alarms whose data point has gone quiet. Alarms of
// rules that were deleted or disabled are left for an operator.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if s == nil {
		return 0, errors.New("alarms: nil service")
	}
	list, err := s.alarms.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	var (
		notified int
		errs     []error
	)
	for _, candidate := range list {
		if !s.notifyDue(candidate, s.clock.Now()) {
			continue
		}
		rule, err := s.rules.GetRule(ctx, candidate.RuleID)
		if err != nil && !errors.Is(err, rules.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if rule == nil || !rule.Enabled {
			continue
		}
		transition, err := s.sweepOne(ctx, candidate.RuleID)
		if err != nil {
			errs = append(errs, fmt.Errorf("alarm %s: %w", candidate.ID, err))
			continue
		}
		if transition != nil {
			notified++
			s.publish(ctx, *transition)
		}
	}
	return notified, errors.Join(errs...)
}

func (s *Service) sweepOne(ctx context.Context, ruleID string) (*alarms.Transition, error) {
	unlock := s.locks.Lock(ruleID)
	defer unlock()

	current, err := s.alarms.GetByRule(ctx, ruleID)
	if err != nil || current == nil {
		return nil, err
	}
	now := s.clock.Now()
	if !s.notifyDue(*current, now) {
		return nil, nil
	}
	transition, err := s.refresh(ctx, *current, now)
	if err != nil {
		return nil, err
	}
	if transition.Kind == alarms.TransitionUpdated {
		return nil, nil
	}
	return transition, nil
}

func (s *Service) notifyDue(alarm alarms.Alarm, now time.Time) bool {
	if alarm.NotificationOwed() {
		return true
	}
	if alarm.Acknowledged && !s.renotifyAcknowledged {
		return false
	}
	return alarm.RenotifyDue(now, s.renotifyInterval)
}

func (s *Service) dispatch(ctx context.Context, transition alarms.Transition) bool {
	if s.dispatcher == nil {
		return true
	}
	if err := s.dispatcher.Dispatch(ctx, transition); err != nil {
		s.logger.Warn("notification dispatch failed, will retry",
			zap.String("alarm_id", transition.Alarm.ID),
			zap.String("rule_id", transition.Alarm.RuleID),
			zap.Error(err))
		return false
	}
	return true
}
