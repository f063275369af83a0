// Package store holds the working set of seismic events.
//
// Events are indexed in a B-tree ordered by occurrence time (newest first) and
// then by ID, so range queries walk the tree in result order and expiry pops
// from the oldest end. A side map keyed by ID enforces identity: inserting an
// event whose ID is already stored replaces the earlier record.
package store

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/geomath"
)

const btreeDegree = 32

// Observer is notified synchronously of every mutation, while the store's
// write lock is held. Implementations must not call back into the store.
type Observer interface {
	// OnInsert is called after ev is indexed. previous is the record ev
	// replaced, or nil for a fresh insert.
	OnInsert(ev domain.SeismicEvent, previous *domain.SeismicEvent)
	// OnExpire is called with the events removed by one expiry pass, oldest first.
	OnExpire(removed []domain.SeismicEvent)
}

// Store is safe for concurrent use. Mutations are serialized; readers see
// either the state before or after an insert and its observer notifications.
type Store struct {
	mu        sync.RWMutex
	index     *btree.BTreeG[domain.SeismicEvent]
	byID      map[string]domain.SeismicEvent
	observers []Observer
}

// New returns an empty store.
func New() *Store {
	return &Store{
		index: btree.NewG(btreeDegree, newestFirst),
		byID:  make(map[string]domain.SeismicEvent),
	}
}

// newestFirst orders by OccurredAt descending, then ID ascending.
func newestFirst(a, b domain.SeismicEvent) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.After(b.OccurredAt)
	}
	return a.ID < b.ID
}

// Observe registers o for all subsequent mutations.
func (s *Store) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Insert indexes ev. An existing record with the same ID is replaced
// regardless of which one occurred later.
func (s *Store) Insert(ev domain.SeismicEvent) domain.InsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var previous *domain.SeismicEvent
	result := domain.Inserted
	if old, ok := s.byID[ev.ID]; ok {
		s.index.Delete(old)
		previous = &old
		result = domain.Replaced
	}
	s.index.ReplaceOrInsert(ev)
	s.byID[ev.ID] = ev

	for _, o := range s.observers {
		o.OnInsert(ev, previous)
	}
	return result
}

// ExpireBefore removes every event that occurred strictly before cutoff and
// returns their IDs, oldest first.
func (s *Store) ExpireBefore(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []domain.SeismicEvent
	for {
		oldest, ok := s.index.Max()
		if !ok || !oldest.OccurredAt.Before(cutoff) {
			break
		}
		s.index.DeleteMax()
		delete(s.byID, oldest.ID)
		removed = append(removed, oldest)
	}
	if len(removed) == 0 {
		return nil
	}

	for _, o := range s.observers {
		o.OnExpire(removed)
	}

	ids := make([]string, len(removed))
	for i, ev := range removed {
		ids[i] = ev.ID
	}
	return ids
}

// Query returns the events whose OccurredAt lies in r, optionally restricted
// to geo, ordered by OccurredAt descending with ties broken by ID ascending.
// The geo filter is a linear scan over the time-filtered subset.
func (s *Store) Query(r domain.TimeRange, geo *domain.GeoFilter) []domain.SeismicEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SeismicEvent
	visit := func(ev domain.SeismicEvent) bool {
		if !ev.OccurredAt.After(r.From) {
			return false
		}
		if geo != nil && !geomath.Within(geo.Center, ev.Epicenter, geo.RadiusKm) {
			return true
		}
		out = append(out, ev)
		return true
	}

	if r.To.IsZero() {
		s.index.Ascend(visit)
	} else {
		s.index.AscendGreaterOrEqual(domain.SeismicEvent{OccurredAt: r.To}, visit)
	}
	return out
}

// Get returns the stored record for id.
func (s *Store) Get(id string) (domain.SeismicEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byID[id]
	return ev, ok
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Snapshot returns every stored event in query order.
func (s *Store) Snapshot() []domain.SeismicEvent {
	return s.Query(domain.TimeRange{}, nil)
}
