// Package memstore provides an in-memory implementation of approval.Store.
// Suitable for dev/testing.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/sentinelhealth/sentinel/internal/approval"
)

// Store holds approval entries in memory, keyed by encounter ID.
type Store struct {
	mu      sync.Mutex
	entries map[string]*approval.Entry
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{entries: make(map[string]*approval.Entry)}
}

// Get retrieves the entry for an encounter. Returns a copy.
func (s *Store) Get(_ context.Context, encounterID string) (*approval.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[encounterID]
	if !ok {
		return nil, approval.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// Create inserts a pending entry. If one already exists for the encounter,
// the stored entry is returned unchanged.
func (s *Store) Create(_ context.Context, e *approval.Entry) (*approval.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[e.EncounterID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *e
	s.entries[e.EncounterID] = &cp
	out := cp
	return &out, nil
}

// Decide transitions a pending entry to a terminal status.
func (s *Store) Decide(_ context.Context, d approval.Decision, decidedAt time.Time) (*approval.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[d.EncounterID]
	if !ok {
		return nil, approval.ErrNotFound
	}
	if e.Decided() {
		return nil, approval.ErrConflict
	}
	e.Status = d.Status
	e.ReviewerID = d.ReviewerID
	e.Notes = d.Notes
	e.CorrectedCategory = d.CorrectedCategory
	e.DecidedAt = &decidedAt
	cp := *e
	return &cp, nil
}
