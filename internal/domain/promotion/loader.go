package promotion

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
)

// transitionYAML is the on-disk shape of one transition. Windows are given
// in whole days to match how officers talk about the policy.
type transitionYAML struct {
	Name                 string  `yaml:"name"`
	Title                string  `yaml:"title"`
	From                 string  `yaml:"from"`
	To                   string  `yaml:"to"`
	RecencyDays          int     `yaml:"recency_days"`
	RequiredLongSessions int     `yaml:"required_long_sessions"`
	TenureDays           int     `yaml:"tenure_days"`
	MinLevel             float64 `yaml:"min_level"`
}

// policyYAML is the on-disk policy document.
type policyYAML struct {
	Transitions []transitionYAML `yaml:"transitions"`
}

// ParsePolicyYAML decodes a promotion policy from YAML bytes.
func ParsePolicyYAML(data []byte) (Policy, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Policy{}, fmt.Errorf("promotion: policy payload is empty")
	}
	var doc policyYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Policy{}, fmt.Errorf("promotion: decode policy: %w", err)
	}

	policy := Policy{Transitions: make([]Transition, 0, len(doc.Transitions))}
	for _, t := range doc.Transitions {
		policy.Transitions = append(policy.Transitions, Transition{
			Name:                 t.Name,
			Title:                t.Title,
			From:                 member.Rank(t.From),
			To:                   member.Rank(t.To),
			RecencyWindow:        time.Duration(t.RecencyDays) * 24 * time.Hour,
			RequiredLongSessions: t.RequiredLongSessions,
			TenureWindow:         time.Duration(t.TenureDays) * 24 * time.Hour,
			MinLevel:             t.MinLevel,
		})
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// LoadPolicyReader reads a promotion policy from an io.Reader.
func LoadPolicyReader(r io.Reader) (Policy, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Policy{}, fmt.Errorf("promotion: read policy: %w", err)
	}
	return ParsePolicyYAML(content)
}

// LoadPolicyFile loads a promotion policy from an explicit file path.
// An empty path yields the built-in default policy.
func LoadPolicyFile(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("promotion: read %s: %w", path, err)
	}
	policy, parseErr := ParsePolicyYAML(content)
	if parseErr != nil {
		return Policy{}, fmt.Errorf("promotion: %s: %w", path, parseErr)
	}
	return policy, nil
}
