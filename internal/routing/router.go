package routing

import (
	"fmt"
	"strings"
)

// Classification is the classifier's judgment for one encounter.
type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Decision is the routing outcome for one encounter. Set once by the router
// and read-only afterwards.
type Decision struct {
	Category         string  `json:"category"`
	Confidence       float64 `json:"confidence"`
	SelectedTier     Tier    `json:"selected_tier"`
	SelectedModel    string  `json:"selected_model"`
	EscalationReason string  `json:"escalation_reason,omitempty"`
	SafetyOverride   bool    `json:"safety_override"`
}

// Router selects a model tier from raw text and a classification.
// Pure and deterministic: no I/O, no clock, no randomness.
type Router struct {
	policy *Policy
}

// NewRouter creates a router over the given policy table.
func NewRouter(policy *Policy) *Router {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Router{policy: policy}
}

// Route applies the routing rules in priority order. Floors only ever raise
// the tier; a tier raised by an earlier rule is never lowered by a later one.
func (r *Router) Route(rawText string, cls Classification) Decision {
	// Rule 1: critical keywords force the top tier and skip everything else.
	if r.hasCriticalKeyword(rawText) {
		return Decision{
			Category:         cls.Category,
			Confidence:       cls.Confidence,
			SelectedTier:     TierHigh,
			SelectedModel:    r.policy.Model(TierHigh),
			EscalationReason: "Critical keyword safety override",
			SafetyOverride:   true,
		}
	}

	// Rule 2: category lookup, unknown categories fall back to the mid tier.
	cat, ok := r.policy.Categories[cls.Category]
	if !ok {
		return Decision{
			Category:         cls.Category,
			Confidence:       cls.Confidence,
			SelectedTier:     TierMid,
			SelectedModel:    r.policy.Model(TierMid),
			EscalationReason: "Unknown category fallback",
		}
	}

	tier := cat.DefaultTier
	var escalationReason string

	// Rule 3: low classifier confidence escalates exactly one tier.
	if cls.Confidence < cat.EscalationThreshold {
		if tier < TierHigh {
			tier++
		}
		escalationReason = fmt.Sprintf("Confidence %.2f below threshold %v",
			cls.Confidence, cat.EscalationThreshold)
	}

	// Rule 4: global confidence floor, at least the mid tier.
	if cls.Confidence < r.policy.GlobalMinConfidence && tier < TierMid {
		tier = TierMid
	}

	// Rule 5: safety-override categories never run below the mid tier.
	if cat.SafetyOverride && tier < TierMid {
		tier = TierMid
	}

	return Decision{
		Category:         cls.Category,
		Confidence:       cls.Confidence,
		SelectedTier:     tier,
		SelectedModel:    r.policy.Model(tier),
		EscalationReason: escalationReason,
	}
}

func (r *Router) hasCriticalKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range r.policy.CriticalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
