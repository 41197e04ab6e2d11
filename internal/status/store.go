package status

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrUnknownDependency is returned when writing a dependency that was not registered.
var ErrUnknownDependency = errors.New("unknown dependency")

// Store maps dependency identifiers to their current ServiceStatus.
//
// The set of identifiers is fixed at construction. Each record is swapped as a
// whole, so readers never observe a partially written status.
type Store struct {
	ids     []string
	records map[string]*atomic.Pointer[ServiceStatus]
}

// NewStore registers ids with the initial status stamped at now.
// Duplicate identifiers are registered once.
func NewStore(ids []string, now time.Time) *Store {
	s := &Store{
		records: make(map[string]*atomic.Pointer[ServiceStatus], len(ids)),
	}
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			continue
		}
		p := &atomic.Pointer[ServiceStatus]{}
		initial := Initial(now)
		p.Store(&initial)
		s.records[id] = p
		s.ids = append(s.ids, id)
	}
	return s
}

// IDs returns the registered identifiers in registration order.
func (s *Store) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Get returns a copy of the status for id. The bool is false for unregistered ids.
func (s *Store) Get(id string) (ServiceStatus, bool) {
	p, ok := s.records[id]
	if !ok {
		return ServiceStatus{}, false
	}
	return *p.Load(), true
}

// IsAvailable reports the availability of id. Unregistered ids are unavailable.
func (s *Store) IsAvailable(id string) bool {
	st, ok := s.Get(id)
	return ok && st.IsAvailable
}

// Upsert replaces the record for id and reports whether any field changed.
// The result is informational only.
func (s *Store) Upsert(id string, st ServiceStatus) (bool, error) {
	p, ok := s.records[id]
	if !ok {
		return false, fmt.Errorf("upsert %q: %w", id, ErrUnknownDependency)
	}
	next := st
	prev := p.Swap(&next)
	return !equal(*prev, next), nil
}

// Snapshot returns copies of every record.
func (s *Store) Snapshot() map[string]ServiceStatus {
	out := make(map[string]ServiceStatus, len(s.records))
	for id, p := range s.records {
		out[id] = *p.Load()
	}
	return out
}

func equal(a, b ServiceStatus) bool {
	return a.IsAvailable == b.IsAvailable &&
		a.LastChecked.Equal(b.LastChecked) &&
		a.ErrorCount == b.ErrorCount &&
		a.AverageResponseTime == b.AverageResponseTime
}
