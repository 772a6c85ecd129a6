// Package routing maps clinical encounters to model tiers. The Classifier
// produces a category + confidence with one model call; the Router turns that
// into a deterministic model selection using a declarative policy table.
package routing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tier is one of three ordered model capability/cost levels.
type Tier int

const (
	TierLow Tier = iota
	TierMid
	TierHigh
)

// String returns the tier name for logs and metrics labels.
func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMid:
		return "mid"
	case TierHigh:
		return "high"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// CategoryPolicy configures routing for one clinical category.
type CategoryPolicy struct {
	DefaultTier         Tier    `yaml:"default_tier"`
	EscalationThreshold float64 `yaml:"escalation_threshold"`
	SafetyOverride      bool    `yaml:"safety_override"`
}

// Policy is the full routing policy table. It is data, not code: the keyword
// set and category defaults are tuned without touching the router's logic.
type Policy struct {
	// TierModels maps each tier to a model ID, index by Tier.
	TierModels [3]string `yaml:"tier_models"`

	// CriticalKeywords force the top tier on case-insensitive substring match.
	CriticalKeywords []string `yaml:"critical_keywords"`

	// Categories maps a clinical category to its routing configuration.
	Categories map[string]CategoryPolicy `yaml:"categories"`

	// GlobalMinConfidence is the floor below which the mid tier is forced.
	GlobalMinConfidence float64 `yaml:"global_min_confidence"`
}

// DefaultPolicy returns the built-in routing policy table.
func DefaultPolicy() *Policy {
	return &Policy{
		TierModels: [3]string{
			"claude-haiku-4-5-20241022",
			"claude-sonnet-4-5-20250929",
			"claude-opus-4-6-20250929",
		},
		CriticalKeywords: []string{
			"chest pain", "difficulty breathing", "unconscious", "seizure",
			"severe bleeding", "anaphylaxis", "stroke", "cardiac arrest",
			"respiratory failure", "sepsis", "trauma", "suicidal",
		},
		Categories: map[string]CategoryPolicy{
			// Low tier, routine low-risk.
			"routine_vitals":     {DefaultTier: TierLow, EscalationThreshold: 0.65},
			"chronic_management": {DefaultTier: TierLow, EscalationThreshold: 0.60},
			// Mid tier, moderate complexity.
			"symptom_assessment":        {DefaultTier: TierMid, EscalationThreshold: 0.55, SafetyOverride: true},
			"medication_review":         {DefaultTier: TierMid, EscalationThreshold: 0.50, SafetyOverride: true},
			"diagnostic_interpretation": {DefaultTier: TierMid, EscalationThreshold: 0.45, SafetyOverride: true},
			// Top tier, high acuity. Threshold irrelevant, already at the top.
			"acute_presentation": {DefaultTier: TierHigh, SafetyOverride: true},
			"critical_emergency": {DefaultTier: TierHigh, SafetyOverride: true},
			"mental_health":      {DefaultTier: TierHigh, SafetyOverride: true},
			"pediatric":          {DefaultTier: TierHigh, SafetyOverride: true},
			"surgical_consult":   {DefaultTier: TierHigh, SafetyOverride: true},
		},
		GlobalMinConfidence: 0.70,
	}
}

// LoadPolicy reads a policy table from a YAML file, starting from the
// built-in defaults so a partial file only overrides what it names.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the policy table for internal consistency.
func (p *Policy) Validate() error {
	for i, m := range p.TierModels {
		if m == "" {
			return fmt.Errorf("tier_models[%d] (%s tier) is empty", i, Tier(i))
		}
	}
	if p.GlobalMinConfidence < 0 || p.GlobalMinConfidence > 1 {
		return fmt.Errorf("global_min_confidence %v outside [0,1]", p.GlobalMinConfidence)
	}
	for name, c := range p.Categories {
		if c.DefaultTier < TierLow || c.DefaultTier > TierHigh {
			return fmt.Errorf("category %s: default_tier %d outside [0,2]", name, c.DefaultTier)
		}
		if c.EscalationThreshold < 0 || c.EscalationThreshold > 1 {
			return fmt.Errorf("category %s: escalation_threshold %v outside [0,1]", name, c.EscalationThreshold)
		}
	}
	return nil
}

// Model returns the model ID configured for a tier.
func (p *Policy) Model(t Tier) string {
	return p.TierModels[t]
}
