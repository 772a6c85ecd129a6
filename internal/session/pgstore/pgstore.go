// Package pgstore provides a PostgreSQL implementation of session.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelhealth/sentinel/internal/session"
)

var tracer = otel.Tracer("github.com/sentinelhealth/sentinel/internal/session/pgstore")

//go:embed schema.sql
var schema string

// Store persists run records in PostgreSQL.
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

// Get retrieves the run record for an encounter.
func (s *Store) Get(ctx context.Context, encounterID string) (*session.Record, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		rec      session.Record
		decision []byte
		sentinel []byte
		routing  []byte
		flags    []byte
		trail    []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT encounter_id, patient_id, status, triage_decision, sentinel_check,
		       routing, compliance_flags, audit_trail, input_tokens, output_tokens,
		       cost_usd, error, created_at, completed_at
		FROM triage_runs WHERE encounter_id = $1`, encounterID,
	).Scan(
		&rec.EncounterID, &rec.PatientID, &rec.Status, &decision, &sentinel,
		&routing, &flags, &trail, &rec.Tokens.InputTokens, &rec.Tokens.OutputTokens,
		&rec.CostUSD, &rec.Error, &rec.CreatedAt, &rec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("query run: %w", err)
	}

	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{decision, &rec.Decision},
		{sentinel, &rec.Sentinel},
		{routing, &rec.Routing},
		{flags, &rec.ComplianceFlags},
		{trail, &rec.AuditTrail},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, false, fmt.Errorf("unmarshal run field: %w", err)
		}
	}
	return &rec, true, nil
}

// Put upserts the run record for an encounter.
func (s *Store) Put(ctx context.Context, rec *session.Record) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	decision, err := marshalNullable(rec.Decision != nil, rec.Decision)
	if err != nil {
		return err
	}
	sentinel, err := marshalNullable(rec.Sentinel != nil, rec.Sentinel)
	if err != nil {
		return err
	}
	routing, err := json.Marshal(rec.Routing)
	if err != nil {
		return fmt.Errorf("marshal routing: %w", err)
	}
	flags, err := json.Marshal(orEmpty(rec.ComplianceFlags))
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	trail, err := json.Marshal(rec.AuditTrail)
	if err != nil {
		return fmt.Errorf("marshal audit trail: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO triage_runs (
			encounter_id, patient_id, status, triage_decision, sentinel_check,
			routing, compliance_flags, audit_trail, input_tokens, output_tokens,
			cost_usd, error, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (encounter_id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			status = EXCLUDED.status,
			triage_decision = EXCLUDED.triage_decision,
			sentinel_check = EXCLUDED.sentinel_check,
			routing = EXCLUDED.routing,
			compliance_flags = EXCLUDED.compliance_flags,
			audit_trail = EXCLUDED.audit_trail,
			input_tokens = EXCLUDED.input_tokens,
			output_tokens = EXCLUDED.output_tokens,
			cost_usd = EXCLUDED.cost_usd,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`,
		rec.EncounterID, rec.PatientID, rec.Status, decision, sentinel,
		routing, flags, trail, rec.Tokens.InputTokens, rec.Tokens.OutputTokens,
		rec.CostUSD, rec.Error, rec.CreatedAt, rec.CompletedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

func marshalNullable(present bool, v any) ([]byte, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal run field: %w", err)
	}
	return b, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
