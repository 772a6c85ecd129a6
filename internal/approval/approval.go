// Package approval implements the human review workflow over completed
// triage runs. Each encounter gets exactly one entry with a single terminal
// decision; anything else is a conflict.
package approval

import (
	"context"
	"errors"
	"time"

	"github.com/sentinelhealth/sentinel/internal/bus"
)

// Entry status values. pending_approval is the only state that accepts a
// decision.
const (
	StatusPending  = "pending_approval"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Store sentinel errors.
var (
	// ErrNotFound means no entry exists for the encounter.
	ErrNotFound = errors.New("approval entry not found")
	// ErrConflict means the entry already holds a terminal decision.
	ErrConflict = errors.New("approval entry already decided")
)

// Entry is one reviewable triage run.
type Entry struct {
	EncounterID   string                `json:"encounter_id"`
	PatientID     string                `json:"patient_id"`
	Status        string                `json:"status"`
	TriageResult  bus.TriageSnapshot    `json:"triage_result"`
	SentinelCheck bus.SentinelSnapshot  `json:"sentinel_check"`
	AuditRef      string                `json:"audit_ref"`
	ReviewerID    string                `json:"reviewer_id,omitempty"`
	Notes         string                `json:"notes,omitempty"`
	// CorrectedCategory holds the reviewer's category override, set at the
	// terminal transition and empty when the routing stood.
	CorrectedCategory string     `json:"corrected_category,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	DecidedAt         *time.Time `json:"decided_at,omitempty"`
}

// Decided reports whether the entry holds a terminal decision.
func (e *Entry) Decided() bool {
	return e.Status != StatusPending
}

// Store is the persistence interface for approval entries.
type Store interface {
	// Get returns the entry for an encounter or ErrNotFound.
	Get(ctx context.Context, encounterID string) (*Entry, error)
	// Create inserts a pending entry. Creating over an existing encounter is
	// a no-op returning the stored entry, making duplicate triage-completed
	// delivery safe to replay.
	Create(ctx context.Context, e *Entry) (*Entry, error)
	// Decide transitions pending_approval to a terminal status, recording
	// the reviewer fields from the decision. Returns ErrNotFound for an
	// unknown encounter and ErrConflict when the entry is already decided.
	Decide(ctx context.Context, d Decision, decidedAt time.Time) (*Entry, error)
}
