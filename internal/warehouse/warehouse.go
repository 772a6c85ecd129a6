// Package warehouse transforms audit events into flat warehouse rows and
// batches them toward an ingestion sink.
package warehouse

import (
	"context"
	"time"

	"github.com/sentinelhealth/sentinel/internal/audit"
)

// Row is the flattened warehouse form of one audit record.
type Row struct {
	EncounterID        string    `json:"encounter_id"`
	Node               string    `json:"node"`
	Model              string    `json:"model"`
	RoutingCategory    string    `json:"routing_category"`
	RoutingConfidence  float64   `json:"routing_confidence"`
	InputTokens        int       `json:"input_tokens"`
	OutputTokens       int       `json:"output_tokens"`
	CostUSD            float64   `json:"cost_usd"`
	ComplianceFlags    []string  `json:"compliance_flags"`
	SentinelPassed     *bool     `json:"sentinel_passed,omitempty"`
	HallucinationScore *float64  `json:"hallucination_score,omitempty"`
	ConfidenceScore    *float64  `json:"confidence_score,omitempty"`
	DurationMs         int64     `json:"duration_ms"`
	Timestamp          time.Time `json:"timestamp"`
}

// Sink receives completed batches.
type Sink interface {
	WriteBatch(ctx context.Context, rows []Row) error
}

// Transform maps an audit record onto its warehouse row. The mapping is
// fixed: downstream schemas depend on it.
func Transform(rec *audit.NodeRecord) Row {
	row := Row{
		EncounterID:       rec.EncounterID,
		Node:              rec.Node,
		Model:             rec.Model,
		RoutingCategory:   rec.Routing.Category,
		RoutingConfidence: rec.Routing.Confidence,
		InputTokens:       rec.Tokens.InputTokens,
		OutputTokens:      rec.Tokens.OutputTokens,
		CostUSD:           rec.CostUSD,
		ComplianceFlags:   rec.ComplianceFlags,
		DurationMs:        rec.DurationMs,
		Timestamp:         rec.Timestamp,
	}
	if rec.Sentinel != nil {
		passed := rec.Sentinel.Passed
		hall := rec.Sentinel.HallucinationScore
		conf := rec.Sentinel.ConfidenceScore
		row.SentinelPassed = &passed
		row.HallucinationScore = &hall
		row.ConfidenceScore = &conf
	}
	return row
}
