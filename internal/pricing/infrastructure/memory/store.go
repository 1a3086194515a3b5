package memory

import (
	"sync/atomic"

	pricing "serramenti/internal/pricing/domain"
)

// RateTableStore serves rate tables from an immutable snapshot. Replace swaps
// the whole snapshot, so a calculation always sees one consistent version.
type RateTableStore struct {
	current atomic.Pointer[pricing.RateTableSet]
}

// NewRateTableStore builds a store around an initial snapshot.
func NewRateTableStore(set *pricing.RateTableSet) *RateTableStore {
	s := &RateTableStore{}
	if set == nil {
		set, _ = pricing.NewRateTableSet()
	}
	s.current.Store(set)
	return s
}

// Replace installs a new snapshot.
func (s *RateTableStore) Replace(set *pricing.RateTableSet) {
	if set == nil {
		return
	}
	s.current.Store(set)
}

// Snapshot returns the current snapshot.
func (s *RateTableStore) Snapshot() *pricing.RateTableSet {
	return s.current.Load()
}

// Lookup resolves a table by id in the current snapshot.
func (s *RateTableStore) Lookup(id string) (pricing.RateTable, bool) {
	return s.Snapshot().Lookup(id)
}

// Default resolves the default table in the current snapshot.
func (s *RateTableStore) Default() (pricing.RateTable, bool) {
	return s.Snapshot().Default()
}
