package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity is an ordered alarm severity.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityWarning
	SeverityCritical
)

// ParseSeverity accepts low/info, medium/warning and high/critical in any case.
func ParseSeverity(value string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low", "info":
		return SeverityLow, nil
	case "medium", "warning":
		return SeverityWarning, nil
	case "high", "critical":
		return SeverityCritical, nil
	default:
		return SeverityUnknown, fmt.Errorf("rules: unknown severity %q", value)
	}
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// Renotifies reports whether still-active alarms of this severity resurface.
func (s Severity) Renotifies() bool {
	return s >= SeverityWarning
}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Label is the upper-case form used in notification subjects.
func (s Severity) Label() string {
	return strings.ToUpper(s.String())
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// MarshalJSON encodes the severity name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes any accepted severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalYAML decodes severity names in seed files.
func (s *Severity) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
