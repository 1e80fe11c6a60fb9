package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"autotrader/internal/indicator"
	"autotrader/internal/signal"
)

// RuleSet is the top-level YAML structure of a rules file.
type RuleSet struct {
	Indicators []indicator.Definition `yaml:"indicators"`
	Rules      []signal.Rule          `yaml:"rules"`
}

// LoadRuleSet reads and validates a rules file.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes YAML and validates every definition and rule.
// Definitions come back normalized.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}
	defs, err := indicator.ValidateDefinitions(rs.Indicators)
	if err != nil {
		return nil, err
	}
	rs.Indicators = defs
	for _, r := range rs.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return &rs, nil
}
