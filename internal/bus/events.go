package bus

import "time"

// TriageSnapshot is the immutable triage-result copy carried on events.
type TriageSnapshot struct {
	Level             string  `json:"level"`
	Confidence        float64 `json:"confidence"`
	ReasoningSummary  string  `json:"reasoning_summary"`
	ModelUsed         string  `json:"model_used"`
	RoutingCategory   string  `json:"routing_category"`
	RoutingConfidence float64 `json:"routing_confidence"`
	RoutingReason     string  `json:"routing_reason"`
}

// SentinelSnapshot is the immutable safety-gate copy carried on events.
type SentinelSnapshot struct {
	Passed                bool     `json:"passed"`
	HallucinationScore    float64  `json:"hallucination_score"`
	ConfidenceScore       float64  `json:"confidence_score"`
	VitalsConsistent      bool     `json:"vitals_consistent"`
	MedicationSafe        bool     `json:"medication_safe"`
	CircuitBreakerTripped bool     `json:"circuit_breaker_tripped"`
	FailureReasons        []string `json:"failure_reasons,omitempty"`
}

// TriageCompleted is published once per finished pipeline run. The approval
// workflow depends on its delivery, so the publish is synchronous and retried.
type TriageCompleted struct {
	EncounterID   string           `json:"encounter_id"`
	PatientID     string           `json:"patient_id"`
	TriageResult  TriageSnapshot   `json:"triage_result"`
	SentinelCheck SentinelSnapshot `json:"sentinel_check"`
	AuditRef      string           `json:"audit_ref"`
	Timestamp     time.Time        `json:"timestamp"`
}

// TriageApproved is published when a reviewer approves an entry.
type TriageApproved struct {
	EncounterID string    `json:"encounter_id"`
	ReviewerID  string    `json:"reviewer_id"`
	ApprovedAt  time.Time `json:"approved_at"`
}

// ClassifierFeedback is published when a reviewer overrides the routed
// category, closing the loop on router calibration.
type ClassifierFeedback struct {
	EventType            string    `json:"event_type"`
	EncounterID          string    `json:"encounter_id"`
	OriginalCategory     string    `json:"original_category"`
	CorrectedCategory    string    `json:"corrected_category"`
	ClassifierConfidence float64   `json:"classifier_confidence"`
	ReviewerID           string    `json:"reviewer_id"`
	Timestamp            time.Time `json:"timestamp"`
}
