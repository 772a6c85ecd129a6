// Package audit persists per-node execution records and publishes audit
// events. The store write is synchronous and its failure aborts the calling
// stage; the bus copy of each record is best-effort through a bounded outbox.
package audit

import (
	"context"
	"time"

	"github.com/sentinelhealth/sentinel/internal/bus"
	"github.com/sentinelhealth/sentinel/internal/llm"
)

// SummaryLimit caps input/output summaries persisted with each record.
const SummaryLimit = 500

// RoutingSnapshot records the routing decision in effect for a node run.
type RoutingSnapshot struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// NodeRecord is the persisted summary of one stage execution.
type NodeRecord struct {
	EncounterID     string                `json:"encounter_id"`
	Node            string                `json:"node"`
	Model           string                `json:"model"`
	Routing         RoutingSnapshot       `json:"routing_decision"`
	InputSummary    string                `json:"input_summary"`
	OutputSummary   string                `json:"output_summary"`
	Tokens          llm.Usage             `json:"tokens"`
	CostUSD         float64               `json:"cost_usd"`
	ComplianceFlags []string              `json:"compliance_flags"`
	Sentinel        *bus.SentinelSnapshot `json:"sentinel_check,omitempty"`
	DurationMs      int64                 `json:"duration_ms"`
	Timestamp       time.Time             `json:"timestamp"`
}

// Store is the persistence interface for audit records.
type Store interface {
	WriteNodeAudit(ctx context.Context, rec *NodeRecord) (ref string, err error)
}

// Truncate caps s at limit bytes, marking the cut.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
