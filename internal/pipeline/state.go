package pipeline

import (
	"github.com/sentinelhealth/sentinel/internal/llm"
	"github.com/sentinelhealth/sentinel/internal/protocols"
	"github.com/sentinelhealth/sentinel/internal/routing"
)

// Triage levels produced by the reasoner.
const (
	LevelEmergency    = "Emergency"
	LevelUrgent       = "Urgent"
	LevelSemiUrgent   = "Semi-Urgent"
	LevelNonUrgent    = "Non-Urgent"
	LevelManualReview = "Manual_Review_Required"
)

// Vitals holds extracted vital signs. Pointers distinguish "not present in
// the encounter text" from zero values.
type Vitals struct {
	HeartRate       *float64 `json:"heart_rate"`
	BloodPressure   *string  `json:"blood_pressure"`
	Temperature     *float64 `json:"temperature"`
	RespiratoryRate *float64 `json:"respiratory_rate"`
	SpO2            *float64 `json:"spo2"`
}

// Symptom is one extracted symptom.
type Symptom struct {
	Description string `json:"description"`
	Onset       string `json:"onset,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// Medication is one extracted medication.
type Medication struct {
	Name      string `json:"name"`
	Dose      string `json:"dose,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

// History holds extracted patient history.
type History struct {
	Conditions []string `json:"conditions"`
	Allergies  []string `json:"allergies"`
	Surgeries  []string `json:"surgeries"`
}

// ClinicalContext is the extractor's structured output.
type ClinicalContext struct {
	Vitals          Vitals       `json:"vitals"`
	Symptoms        []Symptom    `json:"symptoms"`
	Medications     []Medication `json:"medications"`
	History         History      `json:"history"`
	ChiefComplaint  string       `json:"chief_complaint"`
	AssessmentNotes string       `json:"assessment_notes,omitempty"`
}

// TriageDecision is the reasoner's output.
type TriageDecision struct {
	Level              string   `json:"level"`
	Confidence         float64  `json:"confidence"`
	ReasoningSummary   string   `json:"reasoning_summary"`
	RecommendedActions []string `json:"recommended_actions"`
	ModelUsed          string   `json:"model_used"`
	RoutingReason      string   `json:"routing_reason"`
}

// SentinelCheck is the safety gate's judgment of the triage decision.
type SentinelCheck struct {
	Passed                bool     `json:"passed"`
	HallucinationScore    float64  `json:"hallucination_score"`
	ConfidenceScore       float64  `json:"confidence_score"`
	VitalsConsistent      bool     `json:"vitals_consistent"`
	MedicationSafe        bool     `json:"medication_safe"`
	CircuitBreakerTripped bool     `json:"circuit_breaker_tripped"`
	FailureReasons        []string `json:"failure_reasons"`
}

// AuditEntry summarizes one node execution for the in-run audit trail.
type AuditEntry struct {
	EncounterID string    `json:"encounter_id"`
	Node        string    `json:"node"`
	Model       string    `json:"model"`
	Usage       llm.Usage `json:"tokens"`
	CostUSD     float64   `json:"cost_usd"`
	DurationMs  int64     `json:"duration_ms"`
	AuditRef    string    `json:"audit_ref"`
}

// State is the mutable pipeline state threaded through every stage. It is
// owned exclusively by one in-flight run and is never shared across runs.
//
// Each of Routing/Clinical/Decision/Sentinel is written by exactly one stage
// and never overwritten; ComplianceFlags and AuditTrail only grow.
type State struct {
	EncounterID string
	PatientID   string
	RawInput    string

	Routing     routing.Decision
	Clinical    *ClinicalContext
	ContextDocs []protocols.Document
	Decision    *TriageDecision
	Sentinel    *SentinelCheck

	ComplianceFlags []string
	AuditTrail      []AuditEntry

	// Terminal control flags: set by any stage, never cleared.
	CircuitBreakerTripped bool
	Error                 string
}

// NewState creates the initial state for one orchestration run.
func NewState(encounterID, patientID, rawInput string) *State {
	return &State{
		EncounterID: encounterID,
		PatientID:   patientID,
		RawInput:    rawInput,
	}
}

// AddFlags appends compliance flags in order.
func (s *State) AddFlags(flags ...string) {
	s.ComplianceFlags = append(s.ComplianceFlags, flags...)
}

// Trip marks the circuit breaker tripped with a descriptive error. The first
// error wins; later trips keep the breaker set without clearing context.
func (s *State) Trip(reason string) {
	s.CircuitBreakerTripped = true
	if s.Error == "" {
		s.Error = reason
	}
}

// LastAuditRef returns the audit reference of the most recent node, or "".
func (s *State) LastAuditRef() string {
	if len(s.AuditTrail) == 0 {
		return ""
	}
	return s.AuditTrail[len(s.AuditTrail)-1].AuditRef
}
