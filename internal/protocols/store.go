// Package protocols provides pgvector-backed retrieval of clinical reference
// documents used to augment the reasoner's context.
package protocols

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"
)

var tracer = otel.Tracer("github.com/sentinelhealth/sentinel/internal/protocols")

//go:embed schema.sql
var schema string

// Provenance classes for stored documents. Institution-curated documents
// always rank before externally-sourced ones, regardless of similarity.
const (
	SourceHospitalCurated = "hospital_curated"
	SourcePublicGuideline = "public_guideline"
)

// Document is one retrieved reference snippet.
type Document struct {
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	SourceType string  `json:"source_type"`
	Specialty  string  `json:"specialty,omitempty"`
	Similarity float64 `json:"similarity"`
}

// Store retrieves clinical protocols by vector similarity.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Retrieve returns up to topK unexpired documents ordered by provenance class
// first (hospital-curated before public guidelines), then descending cosine
// similarity within each class.
func (s *Store) Retrieve(ctx context.Context, embedding []float32, topK int) ([]Document, error) {
	ctx, span := tracer.Start(ctx, "protocols.Retrieve", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.Int("protocols.top_k", topK),
	))
	defer span.End()

	query := `
		SELECT title, content, source_type, COALESCE(specialty, ''),
		       1 - (embedding <=> $1::vector) AS similarity
		FROM clinical_protocols
		WHERE (expiry_date IS NULL OR expiry_date > NOW())
		ORDER BY
		    CASE WHEN source_type = 'hospital_curated' THEN 0 ELSE 1 END,
		    embedding <=> $1::vector
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, vectorLiteral(embedding), topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query protocols: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Title, &d.Content, &d.SourceType, &d.Specialty, &d.Similarity); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan protocol row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate protocol rows: %w", err)
	}

	span.SetAttributes(attribute.Int("protocols.returned", len(docs)))
	return docs, nil
}

// Insert stores one protocol document. Used by the ingestion tooling and
// tests; the triage path only reads.
func (s *Store) Insert(ctx context.Context, title, content, sourceType, specialty string, embedding []float32, expiry *time.Time) error {
	ctx, span := tracer.Start(ctx, "protocols.Insert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO clinical_protocols (title, content, source_type, specialty, embedding, expiry_date)
		VALUES ($1, $2, $3, $4, $5::vector, $6)`,
		title, content, sourceType, specialty, vectorLiteral(embedding), expiry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert protocol: %w", err)
	}
	return nil
}

// Ping verifies store connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// vectorLiteral renders a pgvector input literal: [0.1,0.2,...].
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteByte(']')
	return b.String()
}
