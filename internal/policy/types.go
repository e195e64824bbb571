// Package policy implements the declarative configuration model for the
// guard pipeline: per-guard policies, named versioned policy sets with
// single-level inheritance, and the store that loads, validates, and tracks
// the active set.
package policy

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Action is what the pipeline does when a guard is triggered.
type Action string

const (
	ActionBlock   Action = "block"
	ActionWarn    Action = "warn"
	ActionMask    Action = "mask"
	ActionLogOnly Action = "log_only"
	ActionAudit   Action = "audit"
)

// ParseAction validates and returns the action for s.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionBlock, ActionWarn, ActionMask, ActionLogOnly, ActionAudit:
		return Action(s), nil
	}
	return "", fmt.Errorf("invalid action: %q (must be block, warn, mask, log_only, or audit)", s)
}

func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Severity grades how serious a guard violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates and returns the severity for s.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	}
	return "", fmt.Errorf("invalid severity: %q (must be low, medium, high, or critical)", s)
}

func (s *Severity) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// GuardPolicy is the configuration for a single guard slot.
type GuardPolicy struct {
	GuardType    string                 `yaml:"guard_type" json:"guard_type"`
	Enabled      bool                   `yaml:"enabled" json:"enabled"`
	Action       Action                 `yaml:"action" json:"action"`
	Severity     Severity               `yaml:"severity" json:"severity"`
	Threshold    float64                `yaml:"threshold" json:"threshold"`
	CustomConfig map[string]interface{} `yaml:"custom_config" json:"custom_config"`
}

// PolicySet is a named, versioned bundle of guard policies.
type PolicySet struct {
	Name         string                  `yaml:"name" json:"name"`
	Version      string                  `yaml:"version" json:"version"`
	Description  string                  `yaml:"description" json:"description"`
	Guards       map[string]*GuardPolicy `yaml:"guards" json:"guards"`
	Metadata     map[string]interface{}  `yaml:"metadata" json:"metadata"`
	ParentPolicy string                  `yaml:"parent_policy,omitempty" json:"parent_policy,omitempty"`
}

// Summary is a condensed view of a loaded policy.
type Summary struct {
	Name          string                 `json:"name"`
	Version       string                 `json:"version"`
	Description   string                 `json:"description"`
	ParentPolicy  string                 `json:"parent_policy,omitempty"`
	GuardCount    int                    `json:"guard_count"`
	EnabledGuards int                    `json:"enabled_guards"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// Validate checks a policy's internal consistency and returns all issues
// found, empty when compliant. Validation never fails hard; the caller
// decides whether to reject the policy.
func Validate(ps *PolicySet) []string {
	var issues []string

	if ps.Name == "" {
		issues = append(issues, "policy name is required")
	}
	if ps.Version == "" {
		issues = append(issues, "policy version is required")
	}

	for name, gp := range ps.Guards {
		if gp.GuardType == "" {
			issues = append(issues, fmt.Sprintf("guard %q missing guard_type", name))
		}
		if gp.Threshold < 0 || gp.Threshold > 1 {
			issues = append(issues, fmt.Sprintf("guard %q threshold must be between 0 and 1", name))
		}
	}

	return issues
}
