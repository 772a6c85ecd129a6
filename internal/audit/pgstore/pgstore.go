// Package pgstore provides a PostgreSQL implementation of audit.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/sentinelhealth/sentinel/internal/audit"
)

var tracer = otel.Tracer("github.com/sentinelhealth/sentinel/internal/audit/pgstore")

//go:embed schema.sql
var schema string

// Store persists audit records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// WriteNodeAudit inserts one node record and returns its generated ref.
func (s *Store) WriteNodeAudit(ctx context.Context, rec *audit.NodeRecord) (string, error) {
	ctx, span := tracer.Start(ctx, "pgstore.WriteNodeAudit", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	ref := "audit-" + ulid.Make().String()

	routing, err := json.Marshal(rec.Routing)
	if err != nil {
		return "", fmt.Errorf("marshal routing: %w", err)
	}
	flags, err := json.Marshal(rec.ComplianceFlags)
	if err != nil {
		return "", fmt.Errorf("marshal flags: %w", err)
	}
	var sentinel []byte
	if rec.Sentinel != nil {
		if sentinel, err = json.Marshal(rec.Sentinel); err != nil {
			return "", fmt.Errorf("marshal sentinel: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_records (
			ref, encounter_id, node, model, routing_decision,
			input_summary, output_summary, input_tokens, output_tokens,
			cost_usd, compliance_flags, sentinel_check, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ref, rec.EncounterID, rec.Node, rec.Model, routing,
		rec.InputSummary, rec.OutputSummary, rec.Tokens.InputTokens, rec.Tokens.OutputTokens,
		rec.CostUSD, flags, sentinel, rec.DurationMs, rec.Timestamp,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("insert audit record: %w", err)
	}
	return ref, nil
}

// ByEncounter returns all records for an encounter in write order.
func (s *Store) ByEncounter(ctx context.Context, encounterID string) ([]*audit.NodeRecord, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ByEncounter", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT encounter_id, node, model, routing_decision, input_summary,
		       output_summary, input_tokens, output_tokens, cost_usd,
		       compliance_flags, sentinel_check, duration_ms, created_at
		FROM audit_records WHERE encounter_id = $1 ORDER BY created_at, ref`,
		encounterID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []*audit.NodeRecord
	for rows.Next() {
		var rec audit.NodeRecord
		var routing, flags, sentinel []byte
		if err := rows.Scan(
			&rec.EncounterID, &rec.Node, &rec.Model, &routing, &rec.InputSummary,
			&rec.OutputSummary, &rec.Tokens.InputTokens, &rec.Tokens.OutputTokens,
			&rec.CostUSD, &flags, &sentinel, &rec.DurationMs, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if err := json.Unmarshal(routing, &rec.Routing); err != nil {
			return nil, fmt.Errorf("unmarshal routing: %w", err)
		}
		if err := json.Unmarshal(flags, &rec.ComplianceFlags); err != nil {
			return nil, fmt.Errorf("unmarshal flags: %w", err)
		}
		if len(sentinel) > 0 {
			if err := json.Unmarshal(sentinel, &rec.Sentinel); err != nil {
				return nil, fmt.Errorf("unmarshal sentinel: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
