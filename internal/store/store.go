// Package store persists application records. Records are write-once
// and append-only; the store owns the canonical record set and the
// aggregation engine only ever reads from it.
package store

import (
	"fmt"

	"github.com/camapply/admissions-stats/internal/record"
)

// ConflictError reports an attempt to insert a record whose ID is
// already present. Duplicate IDs indicate a parallel-extraction bug and
// are always fatal.
type ConflictError struct {
	ID int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record id %d already exists", e.ID)
}

// Store is the persistence contract for application records. There are
// no update or delete operations: the record set is an audit artifact.
type Store interface {
	// Put inserts one record; a duplicate ID yields a *ConflictError.
	Put(rec record.ApplicationRecord) error
	// PutAll inserts a whole run atomically: either every record lands
	// or none do, so a half-populated dataset can never masquerade as
	// complete.
	PutAll(recs []record.ApplicationRecord) error
	// All returns every stored record. Order is unspecified; consumers
	// group explicitly.
	All() ([]record.ApplicationRecord, error)
	// Filter returns the records matching the predicate.
	Filter(pred func(record.ApplicationRecord) bool) ([]record.ApplicationRecord, error)
	// Close releases the backing resource.
	Close() error
}
