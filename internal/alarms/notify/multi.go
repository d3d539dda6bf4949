package notify

import (
	"context"

	"go.uber.org/zap"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
)

// MultiNotifier dispatches alarm transitions to multiple observers.
type MultiNotifier struct {
	notifiers []alarmapp.AlarmNotifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...alarmapp.AlarmNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards transitions to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, transition alarms.Transition) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, transition)
		}
	}
}

// LogNotifier writes transitions to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier; a nil logger discards output.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs one transition at a level matching its kind.
func (n *LogNotifier) Notify(_ context.Context, transition alarms.Transition) {
	fields := []zap.Field{
		zap.String("event", string(transition.Kind)),
		zap.String("alarm_id", transition.Alarm.ID),
		zap.String("rule_id", transition.Alarm.RuleID),
		zap.String("severity", transition.Alarm.Rule.Severity.String()),
		zap.Stringer("value", transition.Alarm.CurrentValue),
	}
	if transition.Kind == alarms.TransitionRaised {
		n.logger.Warn("alarm raised", fields...)
		return
	}
	n.logger.Info("alarm transition", fields...)
}
