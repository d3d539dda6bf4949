package application

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	rules "plantwatch/internal/rules/domain"
	telemetry "plantwatch/internal/telemetry/domain"
)

type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

type seedRule struct {
	rules.Rule `yaml:",inline"`
	Threshold  any  `yaml:"threshold"`
	Enabled    *bool `yaml:"enabled"`
}

// LoadSeedFile reads rules from a YAML file.
func LoadSeedFile(path string) ([]rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML rule list. Rules default to enabled.
func ParseSeed(data []byte) ([]rules.Rule, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rules seed: %w", err)
	}
	out := make([]rules.Rule, 0, len(file.Rules))
	for i, item := range file.Rules {
		rule := item.Rule
		threshold, err := thresholdValue(item.Threshold)
		if err != nil {
			return nil, fmt.Errorf("rules seed: entry %d: %w", i, err)
		}
		rule.Threshold = threshold
		rule.Enabled = item.Enabled == nil || *item.Enabled
		out = append(out, rule)
	}
	return out, nil
}

func thresholdValue(raw any) (telemetry.Value, error) {
	switch v := raw.(type) {
	case nil:
		return telemetry.Value{}, nil
	case int:
		return telemetry.Number(float64(v)), nil
	case int64:
		return telemetry.Number(float64(v)), nil
	case float64:
		return telemetry.Number(v), nil
	case string:
		return telemetry.String(v), nil
	case bool:
		return telemetry.Bool(v), nil
	default:
		return telemetry.Value{}, errors.New("unsupported threshold type")
	}
}
