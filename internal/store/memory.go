package store

import (
	"sync"

	"github.com/camapply/admissions-stats/internal/record"
)

// MemoryStore is the map-backed store used for single-run analysis and
// tests. The mutex serializes writes from the pipeline's join point.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int]record.ApplicationRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int]record.ApplicationRecord)}
}

// Put inserts one record, rejecting duplicate IDs.
func (s *MemoryStore) Put(rec record.ApplicationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return &ConflictError{ID: rec.ID}
	}
	s.records[rec.ID] = rec
	return nil
}

// PutAll inserts a whole run or nothing.
func (s *MemoryStore) PutAll(recs []record.ApplicationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if _, exists := s.records[rec.ID]; exists {
			return &ConflictError{ID: rec.ID}
		}
	}
	for _, rec := range recs {
		s.records[rec.ID] = rec
	}
	return nil
}

// All returns every stored record.
func (s *MemoryStore) All() ([]record.ApplicationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]record.ApplicationRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

// Filter returns the records matching the predicate.
func (s *MemoryStore) Filter(pred func(record.ApplicationRecord) bool) ([]record.ApplicationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []record.ApplicationRecord
	for _, rec := range s.records {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
