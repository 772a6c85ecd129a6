// Package memstore provides an in-memory implementation of session.Store.
// Suitable for dev/testing.
package memstore

import (
	"context"
	"sync"

	"github.com/sentinelhealth/sentinel/internal/session"
)

// Store holds run records in memory, keyed by encounter ID.
type Store struct {
	mu   sync.RWMutex
	recs map[string]*session.Record
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{recs: make(map[string]*session.Record)}
}

// Get retrieves a run record by encounter ID. Returns a copy.
func (s *Store) Get(_ context.Context, encounterID string) (*session.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[encounterID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// Put stores a copy of the record, replacing any previous run for the
// same encounter.
func (s *Store) Put(_ context.Context, rec *session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs[rec.EncounterID] = &cp
	return nil
}
