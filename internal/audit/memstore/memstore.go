// Package memstore provides an in-memory implementation of audit.Store.
// Suitable for dev/testing.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/sentinelhealth/sentinel/internal/audit"
)

type entry struct {
	ref string
	rec *audit.NodeRecord
}

// Store holds audit records in memory, in insertion order.
type Store struct {
	mu      sync.RWMutex
	entries []entry
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{}
}

// WriteNodeAudit stores a copy of the record and returns its ref.
func (s *Store) WriteNodeAudit(_ context.Context, rec *audit.NodeRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := fmt.Sprintf("audit/%s/%s/%d", rec.EncounterID, rec.Node, len(s.entries)+1)
	cp := *rec
	s.entries = append(s.entries, entry{ref: ref, rec: &cp})
	return ref, nil
}

// Get retrieves a stored record by ref. Returns a copy.
func (s *Store) Get(ref string) (*audit.NodeRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ref == ref {
			cp := *e.rec
			return &cp, true
		}
	}
	return nil, false
}

// ByEncounter returns all records for an encounter in insertion order.
func (s *Store) ByEncounter(encounterID string) []*audit.NodeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.NodeRecord
	for _, e := range s.entries {
		if e.rec.EncounterID == encounterID {
			cp := *e.rec
			out = append(out, &cp)
		}
	}
	return out
}
