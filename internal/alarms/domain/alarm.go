package alarms

import (
	"context"
	"time"

	rules "plantwatch/internal/rules/domain"
	telemetry "plantwatch/internal/telemetry/domain"
)

// RuleSnapshot freezes the rule details an alarm was raised under.
type RuleSnapshot struct {
	Name        string          `json:"name"`
	DataPointID string          `json:"data_point_id"`
	Condition   rules.Condition `json:"condition"`
	Threshold   telemetry.Value `json:"threshold"`
	Severity    rules.Severity  `json:"severity"`
	Message     string          `json:"message,omitempty"`
	SendEmail   bool            `json:"send_email"`
	SendSMS     bool            `json:"send_sms"`
}

// SnapshotOf copies the alarm-relevant fields of a rule.
func SnapshotOf(rule rules.Rule) RuleSnapshot {
	return RuleSnapshot{
		Name:        rule.Name,
		DataPointID: rule.DataPointID,
		Condition:   rule.Condition,
		Threshold:   rule.Threshold,
		Severity:    rule.Severity,
		Message:     rule.Message,
		SendEmail:   rule.SendEmail,
		SendSMS:     rule.SendSMS,
	}
}

// Alarm is the live record of a rule whose condition currently holds.
// A zero LastNotifiedAt means the raise notification is still owed.
type Alarm struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	LastNotifiedAt time.Time       `json:"last_notified_at"`
	Acknowledged   bool            `json:"acknowledged"`
	AcknowledgedAt time.Time       `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string          `json:"acknowledged_by,omitempty"`
	CurrentValue   telemetry.Value `json:"current_value"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Rule           RuleSnapshot    `json:"original_rule_details"`
}

// Severity is the severity frozen at trigger time.
func (a Alarm) Severity() rules.Severity {
	return a.Rule.Severity
}

// NotificationOwed reports whether the raise notification has not been queued yet.
func (a Alarm) NotificationOwed() bool {
	return a.LastNotifiedAt.IsZero()
}

// RenotifyDue reports whether a still-active alarm should resurface at now.
func (a Alarm) RenotifyDue(now time.Time, interval time.Duration) bool {
	if a.NotificationOwed() {
		return true
	}
	if !a.Rule.Severity.Renotifies() {
		return false
	}
	return now.Sub(a.LastNotifiedAt) > interval
}

// MostSevere returns the most severe unacknowledged alarm at warning or above.
// Ties go to the earliest trigger.
func MostSevere(list []Alarm) (Alarm, bool) {
	var (
		best  Alarm
		found bool
	)
	for _, alarm := range list {
		if alarm.Acknowledged || !alarm.Severity().Renotifies() {
			continue
		}
		if !found || alarm.Severity() > best.Severity() ||
			(alarm.Severity() == best.Severity() && alarm.TriggeredAt.Before(best.TriggeredAt)) {
			best = alarm
			found = true
		}
	}
	return best, found
}

// Repository persists active alarms, at most one per rule.
//
// Upsert never modifies acknowledgment fields of an existing row; those change
// only through Acknowledge.
type Repository interface {
	GetByRule(ctx context.Context, ruleID string) (*Alarm, error)
	Get(ctx context.Context, id string) (*Alarm, error)
	Upsert(ctx context.Context, alarm Alarm) error
	ClearByRule(ctx context.Context, ruleID string) error
	Delete(ctx context.Context, id string) error
	Acknowledge(ctx context.Context, id, by string, at time.Time) (*Alarm, error)
	ListActive(ctx context.Context) ([]Alarm, error)
}
