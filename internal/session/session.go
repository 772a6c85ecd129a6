// Package session keeps the terminal result of each triage run, keyed by
// encounter, for API reads and the live-updates stream.
package session

import (
	"context"
	"time"

	"github.com/sentinelhealth/sentinel/internal/llm"
	"github.com/sentinelhealth/sentinel/internal/pipeline"
)

// Run status values.
const (
	StatusPassed  = "passed"
	StatusTripped = "tripped"
	StatusError   = "error"
)

// Record is the stored terminal state of one triage run.
type Record struct {
	EncounterID     string                  `json:"encounter_id"`
	PatientID       string                  `json:"patient_id"`
	Status          string                  `json:"status"`
	Decision        *pipeline.TriageDecision `json:"triage_decision,omitempty"`
	Sentinel        *pipeline.SentinelCheck  `json:"sentinel_check,omitempty"`
	Routing         RoutingSummary          `json:"routing"`
	ComplianceFlags []string                `json:"compliance_flags,omitempty"`
	AuditTrail      []pipeline.AuditEntry   `json:"audit_trail"`
	Tokens          llm.Usage               `json:"tokens"`
	CostUSD         float64                 `json:"cost_usd"`
	Error           string                  `json:"error,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	CompletedAt     time.Time               `json:"completed_at"`
}

// RoutingSummary is the routing decision recorded with the run.
type RoutingSummary struct {
	Category       string  `json:"category"`
	Confidence     float64 `json:"confidence"`
	Tier           string  `json:"tier"`
	Model          string  `json:"model"`
	Reason         string  `json:"reason,omitempty"`
	SafetyOverride bool    `json:"safety_override"`
}

// Store is the persistence interface for run records.
type Store interface {
	Get(ctx context.Context, encounterID string) (*Record, bool, error)
	Put(ctx context.Context, rec *Record) error
}

// FromState builds the stored record from a terminal pipeline state.
func FromState(st *pipeline.State, createdAt time.Time) *Record {
	status := StatusPassed
	switch {
	case st.Error != "" && st.Decision == nil:
		status = StatusError
	case st.CircuitBreakerTripped:
		status = StatusTripped
	}
	var tokens llm.Usage
	var cost float64
	for _, e := range st.AuditTrail {
		tokens.InputTokens += e.Usage.InputTokens
		tokens.OutputTokens += e.Usage.OutputTokens
		cost += e.CostUSD
	}
	return &Record{
		EncounterID: st.EncounterID,
		PatientID:   st.PatientID,
		Status:      status,
		Decision:    st.Decision,
		Sentinel:    st.Sentinel,
		Routing: RoutingSummary{
			Category:       st.Routing.Category,
			Confidence:     st.Routing.Confidence,
			Tier:           st.Routing.SelectedTier.String(),
			Model:          st.Routing.SelectedModel,
			Reason:         st.Routing.EscalationReason,
			SafetyOverride: st.Routing.SafetyOverride,
		},
		ComplianceFlags: st.ComplianceFlags,
		AuditTrail:      st.AuditTrail,
		Tokens:          tokens,
		CostUSD:         cost,
		Error:           st.Error,
		CreatedAt:       createdAt,
		CompletedAt:     time.Now().UTC(),
	}
}
