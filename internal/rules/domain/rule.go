package rules

import (
	"context"
	"errors"
	"time"

	telemetry "plantwatch/internal/telemetry/domain"
)

var (
	// ErrNotFound indicates a missing rule.
	ErrNotFound = errors.New("rules: not found")
	// ErrInvalidRule wraps validation failures.
	ErrInvalidRule = errors.New("rules: invalid rule")
)

// Rule is a comparator-and-threshold notification rule over one data point.
type Rule struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	DataPointID string          `json:"data_point_id" yaml:"data_point_id"`
	Condition   Condition       `json:"condition" yaml:"condition"`
	Threshold   telemetry.Value `json:"threshold" yaml:"-"`
	Severity    Severity        `json:"severity" yaml:"severity"`
	Enabled     bool            `json:"enabled" yaml:"-"`
	SendEmail   bool            `json:"send_email" yaml:"send_email"`
	SendSMS     bool            `json:"send_sms" yaml:"send_sms"`
	Message     string          `json:"message,omitempty" yaml:"message"`
	CreatedAt   time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time       `json:"updated_at" yaml:"-"`
}

// Validate checks rule invariants.
func (r Rule) Validate() error {
	if r.ID == "" {
		return invalid("empty id")
	}
	if r.Name == "" {
		return invalid("empty name")
	}
	if r.DataPointID == "" {
		return invalid("empty data point id")
	}
	if !r.Condition.Valid() {
		return invalid("invalid condition")
	}
	if !r.Severity.Valid() {
		return invalid("invalid severity")
	}
	if r.Condition.NeedsThreshold() && r.Threshold.IsZero() {
		return invalid("missing threshold")
	}
	if r.Condition.Ordering() {
		if _, ok := r.Threshold.Float(); !ok {
			return invalid("ordering condition needs a numeric threshold")
		}
	}
	return nil
}

// Matches reports whether value satisfies the rule condition.
func (r Rule) Matches(value telemetry.Value) (bool, error) {
	return r.Condition.Apply(value, r.Threshold)
}

func invalid(reason string) error {
	return errors.Join(ErrInvalidRule, errors.New("rule: "+reason))
}

// Repository persists rules.
type Repository interface {
	ListEnabled(ctx context.Context) ([]Rule, error)
	List(ctx context.Context) ([]Rule, error)
	Get(ctx context.Context, id string) (*Rule, error)
	Upsert(ctx context.Context, rule Rule) error
	Delete(ctx context.Context, id string) error
}
