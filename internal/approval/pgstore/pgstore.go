// Package pgstore provides a PostgreSQL implementation of approval.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelhealth/sentinel/internal/approval"
)

var tracer = otel.Tracer("github.com/sentinelhealth/sentinel/internal/approval/pgstore")

//go:embed schema.sql
var schema string

// Store persists approval entries in PostgreSQL.
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

const entryColumns = `encounter_id, patient_id, status, triage_result, sentinel_check,
	audit_ref, reviewer_id, notes, corrected_category, created_at, decided_at`

// Get retrieves the entry for an encounter.
func (s *Store) Get(ctx context.Context, encounterID string) (*approval.Entry, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM approval_entries WHERE encounter_id = $1`, encounterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return e, nil
}

// Create inserts a pending entry. An existing entry for the same encounter
// wins: the insert is skipped and the stored row is returned.
func (s *Store) Create(ctx context.Context, e *approval.Entry) (*approval.Entry, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	result, err := json.Marshal(e.TriageResult)
	if err != nil {
		return nil, fmt.Errorf("marshal triage result: %w", err)
	}
	sentinel, err := json.Marshal(e.SentinelCheck)
	if err != nil {
		return nil, fmt.Errorf("marshal sentinel check: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO approval_entries (
			encounter_id, patient_id, status, triage_result, sentinel_check,
			audit_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (encounter_id) DO NOTHING`,
		e.EncounterID, e.PatientID, e.Status, result, sentinel, e.AuditRef, e.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("insert approval entry: %w", err)
	}
	return s.Get(ctx, e.EncounterID)
}

// Decide transitions a pending entry to a terminal status. The guard runs in
// the UPDATE itself so concurrent decisions cannot both win.
func (s *Store) Decide(ctx context.Context, d approval.Decision, decidedAt time.Time) (*approval.Entry, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Decide", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	e, err := scanEntry(s.pool.QueryRow(ctx, `
		UPDATE approval_entries
		SET status = $2, reviewer_id = $3, notes = $4, corrected_category = $5, decided_at = $6
		WHERE encounter_id = $1 AND status = 'pending_approval'
		RETURNING `+entryColumns,
		d.EncounterID, d.Status, d.ReviewerID, d.Notes, d.CorrectedCategory, decidedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish absent from already decided.
		if _, gerr := s.Get(ctx, d.EncounterID); gerr != nil {
			return nil, gerr
		}
		return nil, approval.ErrConflict
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return e, nil
}

func scanEntry(row pgx.Row) (*approval.Entry, error) {
	var (
		e        approval.Entry
		result   []byte
		sentinel []byte
	)
	if err := row.Scan(
		&e.EncounterID, &e.PatientID, &e.Status, &result, &sentinel,
		&e.AuditRef, &e.ReviewerID, &e.Notes, &e.CorrectedCategory, &e.CreatedAt, &e.DecidedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(result, &e.TriageResult); err != nil {
		return nil, fmt.Errorf("unmarshal triage result: %w", err)
	}
	if err := json.Unmarshal(sentinel, &e.SentinelCheck); err != nil {
		return nil, fmt.Errorf("unmarshal sentinel check: %w", err)
	}
	return &e, nil
}
