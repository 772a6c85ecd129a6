package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentinelhealth/sentinel/internal/approval"
)

func pendingEntry(encounterID string) *approval.Entry {
	return &approval.Entry{
		EncounterID: encounterID,
		PatientID:   "pat-1",
		Status:      approval.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestCreateExistingWins(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if _, err := s.Create(ctx, pendingEntry("enc-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Decide(ctx, approval.Decision{EncounterID: "enc-1", Status: approval.StatusApproved, ReviewerID: "dr-a"}, time.Now()); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	// Re-creating after a decision must not reset the entry.
	again, err := s.Create(ctx, pendingEntry("enc-1"))
	if err != nil {
		t.Fatalf("replay Create: %v", err)
	}
	if again.Status != approval.StatusApproved {
		t.Errorf("status = %q, want decision preserved", again.Status)
	}
}

func TestDecideGuards(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if _, err := s.Decide(ctx, approval.Decision{EncounterID: "missing", Status: approval.StatusApproved, ReviewerID: "dr-a"}, time.Now()); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	_, _ = s.Create(ctx, pendingEntry("enc-1"))
	if _, err := s.Decide(ctx, approval.Decision{
		EncounterID:       "enc-1",
		Status:            approval.StatusRejected,
		ReviewerID:        "dr-a",
		Notes:             "too risky",
		CorrectedCategory: "acute_presentation",
	}, time.Now()); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if _, err := s.Decide(ctx, approval.Decision{EncounterID: "enc-1", Status: approval.StatusApproved, ReviewerID: "dr-b"}, time.Now()); !errors.Is(err, approval.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	got, err := s.Get(ctx, "enc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approval.StatusRejected || got.Notes != "too risky" || got.DecidedAt == nil {
		t.Errorf("entry = %+v", got)
	}
	if got.CorrectedCategory != "acute_presentation" {
		t.Errorf("corrected category = %q, want preserved on the stored entry", got.CorrectedCategory)
	}
}
