package routing

import (
	"strings"
	"testing"
)

func TestRoute_CriticalKeywordForcesTopTier(t *testing.T) {
	t.Parallel()

	r := NewRouter(DefaultPolicy())

	inputs := []string{
		"patient reports severe chest pain radiating to left arm",
		"possible STROKE, left-side weakness",
		"witnessed cardiac arrest in waiting room",
		"anaphylaxis after bee sting",
		"routine check but mentions Difficulty Breathing at night",
	}

	for _, text := range inputs {
		// Category and confidence must be irrelevant under rule 1.
		d := r.Route(text, Classification{Category: "routine_vitals", Confidence: 0.99})

		if d.SelectedTier != TierHigh {
			t.Errorf("Route(%q) tier = %v, want high", text, d.SelectedTier)
		}
		if !d.SafetyOverride {
			t.Errorf("Route(%q) SafetyOverride = false, want true", text)
		}
		if d.EscalationReason != "Critical keyword safety override" {
			t.Errorf("Route(%q) reason = %q", text, d.EscalationReason)
		}
	}
}

func TestRoute_UnknownCategoryFallsBackToMid(t *testing.T) {
	t.Parallel()

	r := NewRouter(DefaultPolicy())
	d := r.Route("stable, no complaints", Classification{Category: "not_a_category", Confidence: 0.95})

	if d.SelectedTier != TierMid {
		t.Errorf("tier = %v, want mid", d.SelectedTier)
	}
	if d.EscalationReason != "Unknown category fallback" {
		t.Errorf("reason = %q", d.EscalationReason)
	}
	if d.SafetyOverride {
		t.Error("SafetyOverride should be false for category fallback")
	}
}

func TestRoute_ConfidenceEscalationOneTier(t *testing.T) {
	t.Parallel()

	r := NewRouter(DefaultPolicy())

	// routine_vitals defaults to low with threshold 0.65; confidence 0.72
	// clears both the category threshold and the 0.70 global floor.
	d := r.Route("bp 120/80, hr 70", Classification{Category: "routine_vitals", Confidence: 0.72})
	if d.SelectedTier != TierLow {
		t.Errorf("tier = %v, want low for confident routine vitals", d.SelectedTier)
	}
	if d.EscalationReason != "" {
		t.Errorf("reason = %q, want empty", d.EscalationReason)
	}

	// Below the category threshold: up exactly one tier, reason recorded
	// with two-decimal confidence.
	d = r.Route("bp 120/80", Classification{Category: "routine_vitals", Confidence: 0.60})
	if d.SelectedTier != TierMid {
		t.Errorf("tier = %v, want mid after escalation", d.SelectedTier)
	}
	if !strings.Contains(d.EscalationReason, "Confidence 0.60 below threshold") {
		t.Errorf("reason = %q", d.EscalationReason)
	}

	// Already at the top tier: escalation is a no-op on the tier.
	d = r.Route("worsening", Classification{Category: "critical_emergency", Confidence: 0.10})
	if d.SelectedTier != TierHigh {
		t.Errorf("tier = %v, want high", d.SelectedTier)
	}
}

func TestRoute_GlobalConfidenceFloor(t *testing.T) {
	t.Parallel()

	r := NewRouter(DefaultPolicy())

	// chronic_management threshold is 0.60, so 0.65 does not escalate, but
	// 0.65 < 0.70 global floor forces at least mid.
	d := r.Route("refill request", Classification{Category: "chronic_management", Confidence: 0.65})

	if d.SelectedTier < TierMid {
		t.Errorf("tier = %v, want >= mid under global floor", d.SelectedTier)
	}
	// Floors raise silently: no escalation reason from rule 4.
	if d.EscalationReason != "" {
		t.Errorf("reason = %q, want empty", d.EscalationReason)
	}
}

func TestRoute_SafetyCategoriesNeverBelowMid(t *testing.T) {
	t.Parallel()

	r := NewRouter(DefaultPolicy())

	for category, cp := range DefaultPolicy().Categories {
		if !cp.SafetyOverride {
			continue
		}
		for _, conf := range []float64{0.0, 0.3, 0.5, 0.8, 0.99} {
			d := r.Route("no critical keywords here", Classification{Category: category, Confidence: conf})
			if d.SelectedTier < TierMid {
				t.Errorf("Route(%s, %.2f) tier = %v, want >= mid", category, conf, d.SelectedTier)
			}
		}
	}
}

func TestRoute_MonotonicRaise(t *testing.T) {
	t.Parallel()

	r := NewRouter(DefaultPolicy())
	p := DefaultPolicy()

	// For every category and a grid of confidences, the selected tier is
	// never below the category default: floors only raise, never lower.
	for category, cp := range p.Categories {
		for conf := 0.0; conf <= 1.0; conf += 0.05 {
			d := r.Route("text without keywords", Classification{Category: category, Confidence: conf})
			if d.SelectedTier < cp.DefaultTier {
				t.Errorf("Route(%s, %.2f) tier = %v below default %v",
					category, conf, d.SelectedTier, cp.DefaultTier)
			}
			if d.SelectedModel != p.Model(d.SelectedTier) {
				t.Errorf("Route(%s, %.2f) model %q does not match tier %v",
					category, conf, d.SelectedModel, d.SelectedTier)
			}
		}
	}
}

func TestRoute_LowConfidenceAlwaysAtLeastMid(t *testing.T) {
	t.Parallel()

	r := NewRouter(DefaultPolicy())

	for category := range DefaultPolicy().Categories {
		d := r.Route("plain text", Classification{Category: category, Confidence: 0.42})
		if d.SelectedTier < TierMid {
			t.Errorf("Route(%s, 0.42) tier = %v, want >= mid", category, d.SelectedTier)
		}
	}
}

func TestRoute_KeywordMatchIsCaseInsensitiveSubstring(t *testing.T) {
	t.Parallel()

	r := NewRouter(DefaultPolicy())

	d := r.Route("HX OF SEIZURE disorder", Classification{Category: "chronic_management", Confidence: 0.9})
	if !d.SafetyOverride {
		t.Error("uppercase keyword should still trigger the safety override")
	}

	d = r.Route("no relevant terms", Classification{Category: "chronic_management", Confidence: 0.9})
	if d.SafetyOverride {
		t.Error("unexpected safety override without keywords")
	}
}
