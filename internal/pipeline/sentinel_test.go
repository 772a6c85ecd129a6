package pipeline

import (
	"strings"
	"testing"
)

func testGate(t *testing.T) *Orchestrator {
	t.Helper()
	o, _ := newTestOrchestrator(t, newFakeProvider())
	return o
}

func TestJudgeVitalsAndMedicationDoNotTrip(t *testing.T) {
	t.Parallel()
	o := testGate(t)
	c := o.judge(sentinelJudgment{
		HallucinationScore:   0.05,
		ConfidenceAssessment: 0.95,
		VitalsConsistent:     false,
		MedicationSafe:       false,
	}, "")
	if c.CircuitBreakerTripped || !c.Passed {
		t.Fatal("vitals/medication concerns alone must not trip the breaker")
	}
	if len(c.FailureReasons) != 2 {
		t.Fatalf("reasons = %v, want vitals and medication entries", c.FailureReasons)
	}
	if !strings.Contains(c.FailureReasons[0], "Vitals") || !strings.Contains(c.FailureReasons[1], "Medication") {
		t.Errorf("reason order = %v", c.FailureReasons)
	}
}

func TestJudgeReasonOrderDeterministic(t *testing.T) {
	t.Parallel()
	o := testGate(t)
	c := o.judge(sentinelJudgment{
		HallucinationScore:   0.50,
		ConfidenceAssessment: 0.10,
		VitalsConsistent:     false,
		MedicationSafe:       false,
	}, "Sentinel output parse failed: unexpected token")
	if !c.CircuitBreakerTripped {
		t.Fatal("expected trip")
	}
	wantOrder := []string{"parse", "Hallucination", "Confidence", "Vitals", "Medication"}
	if len(c.FailureReasons) != len(wantOrder) {
		t.Fatalf("reasons = %v", c.FailureReasons)
	}
	for i, frag := range wantOrder {
		if !strings.Contains(c.FailureReasons[i], frag) {
			t.Errorf("reason[%d] = %q, want fragment %q", i, c.FailureReasons[i], frag)
		}
	}
}

func TestJudgeConfidenceBreachTrips(t *testing.T) {
	t.Parallel()
	o := testGate(t)
	c := o.judge(sentinelJudgment{
		HallucinationScore:   0.05,
		ConfidenceAssessment: 0.60,
		VitalsConsistent:     true,
		MedicationSafe:       true,
	}, "")
	if !c.CircuitBreakerTripped || c.Passed {
		t.Fatal("confidence below threshold must trip")
	}
	if len(c.FailureReasons) != 1 || !strings.Contains(c.FailureReasons[0], "Confidence") {
		t.Errorf("reasons = %v", c.FailureReasons)
	}
}

func TestJudgeBoundaryValuesDoNotTrip(t *testing.T) {
	t.Parallel()
	o := testGate(t)
	// Exactly at threshold: hallucination must exceed, confidence must fall below.
	c := o.judge(sentinelJudgment{
		HallucinationScore:   DefaultHallucinationThreshold,
		ConfidenceAssessment: DefaultConfidenceThreshold,
		VitalsConsistent:     true,
		MedicationSafe:       true,
	}, "")
	if c.CircuitBreakerTripped {
		t.Errorf("boundary values tripped: %v", c.FailureReasons)
	}
}
