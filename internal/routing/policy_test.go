package routing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPolicy_Valid(t *testing.T) {
	t.Parallel()

	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}

func TestLoadPolicy_PartialOverride(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
global_min_confidence: 0.80
critical_keywords:
  - chest pain
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}

	if p.GlobalMinConfidence != 0.80 {
		t.Errorf("GlobalMinConfidence = %v, want 0.80", p.GlobalMinConfidence)
	}
	if len(p.CriticalKeywords) != 1 || p.CriticalKeywords[0] != "chest pain" {
		t.Errorf("CriticalKeywords = %v", p.CriticalKeywords)
	}
	// Categories not named in the file keep their defaults.
	if _, ok := p.Categories["symptom_assessment"]; !ok {
		t.Error("expected default categories to survive partial override")
	}
	if p.Model(TierHigh) == "" {
		t.Error("expected default tier models to survive partial override")
	}
}

func TestLoadPolicy_InvalidRejected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("global_min_confidence: 1.5\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadPolicy(path); err == nil {
		t.Fatal("expected error for out-of-range confidence")
	}
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadPolicy("/nonexistent/policy.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTierString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tier Tier
		want string
	}{
		{TierLow, "low"},
		{TierMid, "mid"},
		{TierHigh, "high"},
	}
	for _, tt := range tests {
		if got := tt.tier.String(); got != tt.want {
			t.Errorf("Tier(%d).String() = %q, want %q", tt.tier, got, tt.want)
		}
	}
}
