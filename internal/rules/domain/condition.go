package rules

import (
	"fmt"
	"strings"

	telemetry "plantwatch/internal/telemetry/domain"
)

// Condition compares a live value with a rule threshold.
type Condition string

const (
	ConditionEqual          Condition = "=="
	ConditionNotEqual       Condition = "!="
	ConditionLess           Condition = "<"
	ConditionLessOrEqual    Condition = "<="
	ConditionGreater        Condition = ">"
	ConditionGreaterOrEqual Condition = ">="
	ConditionContains       Condition = "contains"
	ConditionNotContains    Condition = "not_contains"
	ConditionIsTrue         Condition = "is_true"
	ConditionIsFalse        Condition = "is_false"
)

// Valid returns true when the condition is supported.
func (c Condition) Valid() bool {
	switch c {
	case ConditionEqual, ConditionNotEqual, ConditionLess, ConditionLessOrEqual,
		ConditionGreater, ConditionGreaterOrEqual, ConditionContains, ConditionNotContains,
		ConditionIsTrue, ConditionIsFalse:
		return true
	default:
		return false
	}
}

// Ordering reports whether the condition compares magnitudes.
func (c Condition) Ordering() bool {
	switch c {
	case ConditionLess, ConditionLessOrEqual, ConditionGreater, ConditionGreaterOrEqual:
		return true
	default:
		return false
	}
}

// NeedsThreshold reports whether Apply reads the threshold.
func (c Condition) NeedsThreshold() bool {
	return c != ConditionIsTrue && c != ConditionIsFalse
}

// Apply evaluates value against threshold. Operands of incompatible kinds
// yield false together with an error wrapping telemetry.ErrTypeMismatch.
func (c Condition) Apply(value, threshold telemetry.Value) (bool, error) {
	switch c {
	case ConditionEqual:
		return equalValues(value, threshold)
	case ConditionNotEqual:
		eq, err := equalValues(value, threshold)
		if err != nil {
			return false, err
		}
		return !eq, nil
	case ConditionLess, ConditionLessOrEqual, ConditionGreater, ConditionGreaterOrEqual:
		v, okV := value.Float()
		t, okT := threshold.Float()
		if !okV || !okT {
			return false, mismatch(value, c, threshold)
		}
		switch c {
		case ConditionLess:
			return v < t, nil
		case ConditionLessOrEqual:
			return v <= t, nil
		case ConditionGreater:
			return v > t, nil
		default:
			return v >= t, nil
		}
	case ConditionContains, ConditionNotContains:
		if value.Kind() == telemetry.KindBool || value.IsZero() || threshold.IsZero() {
			return false, mismatch(value, c, threshold)
		}
		found := strings.Contains(value.String(), threshold.String())
		if c == ConditionContains {
			return found, nil
		}
		return !found, nil
	case ConditionIsTrue, ConditionIsFalse:
		b, ok := value.Boolean()
		if !ok {
			return false, mismatch(value, c, threshold)
		}
		return b == (c == ConditionIsTrue), nil
	default:
		return false, fmt.Errorf("rules: unsupported condition %q", string(c))
	}
}

func equalValues(value, threshold telemetry.Value) (bool, error) {
	if value.Kind() == telemetry.KindBool || threshold.Kind() == telemetry.KindBool {
		v, okV := value.Boolean()
		t, okT := threshold.Boolean()
		if !okV || !okT {
			return false, mismatch(value, ConditionEqual, threshold)
		}
		return v == t, nil
	}
	if value.Kind() == telemetry.KindString && threshold.Kind() == telemetry.KindString {
		return value.Equal(threshold), nil
	}
	v, okV := value.Float()
	t, okT := threshold.Float()
	if !okV || !okT {
		return false, mismatch(value, ConditionEqual, threshold)
	}
	return v == t, nil
}

func mismatch(value telemetry.Value, c Condition, threshold telemetry.Value) error {
	return fmt.Errorf("%w: %s %s %s", telemetry.ErrTypeMismatch, value.Kind(), c, threshold.Kind())
}
