// Package stats maintains rolling aggregates over a sliding time window.
package stats

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Alert thresholds for the dashboard banner.
const (
	highAlertMagnitude     = 5.0
	moderateAlertMagnitude = 4.0
	moderateAlertCount     = 2
)

// Window keeps count, sum and max of the magnitudes of events that occurred
// within the last Duration. It implements store.Observer, so it is fed by the
// event store's insert and expiry notifications.
//
// An event belongs to the window at instant now iff now-OccurredAt < Duration.
// Aged entries are evicted lazily on every read, so reads are exact between
// sweeps. Sweep only bounds how long aged entries stay resident.
type Window struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	duration time.Duration

	entries *btree.BTreeG[domain.SeismicEvent] // oldest first
	byID    map[string]domain.SeismicEvent

	sum      float64
	max      float64
	atLeast4 int
	atLeast5 int
}

// NewWindow creates an empty window of length d using clock for the current instant.
func NewWindow(d time.Duration, clock clockwork.Clock) *Window {
	return &Window{
		clock:    clock,
		duration: d,
		entries:  btree.NewG(16, oldestFirst),
		byID:     make(map[string]domain.SeismicEvent),
	}
}

func oldestFirst(a, b domain.SeismicEvent) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.ID < b.ID
}

// Duration returns the window length.
func (w *Window) Duration() time.Duration {
	return w.duration
}

// OnInsert adds ev to the window if it is inside it. A replaced record is
// removed first so a revised magnitude is never counted twice.
func (w *Window) OnInsert(ev domain.SeismicEvent, previous *domain.SeismicEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if previous != nil {
		w.removeLocked(previous.ID)
	}
	now := w.clock.Now()
	w.evictLocked(now)
	if w.contains(ev, now) {
		w.addLocked(ev)
	}
}

// OnExpire drops events the store no longer holds.
func (w *Window) OnExpire(removed []domain.SeismicEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ev := range removed {
		w.removeLocked(ev.ID)
	}
}

// Sweep evicts every entry that has aged out and returns how many were removed.
func (w *Window) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.evictLocked(w.clock.Now())
}

// Count returns the number of events inside the window right now.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictLocked(w.clock.Now())
	return len(w.byID)
}

// Snapshot returns the current aggregate.
func (w *Window) Snapshot() domain.RollingWindowStat {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.evictLocked(now)

	stat := domain.RollingWindowStat{
		Count:       len(w.byID),
		Window:      w.duration,
		ComputedAt:  now.UTC(),
		AlertStatus: w.alertStatusLocked(),
	}
	if stat.Count > 0 {
		stat.AverageMagnitude = w.sum / float64(stat.Count)
		stat.MaxMagnitude = w.max
	}
	return stat
}

// AlertStatus returns the banner level for the events currently in the window.
func (w *Window) AlertStatus() domain.AlertStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictLocked(w.clock.Now())
	return w.alertStatusLocked()
}

func (w *Window) alertStatusLocked() domain.AlertStatus {
	switch {
	case w.atLeast5 > 0:
		return domain.AlertHigh
	case w.atLeast4 > moderateAlertCount:
		return domain.AlertModerate
	default:
		return domain.AlertNormal
	}
}

func (w *Window) contains(ev domain.SeismicEvent, now time.Time) bool {
	return now.Sub(ev.OccurredAt) < w.duration
}

func (w *Window) addLocked(ev domain.SeismicEvent) {
	w.entries.ReplaceOrInsert(ev)
	w.byID[ev.ID] = ev
	w.sum += ev.Magnitude
	if len(w.byID) == 1 || ev.Magnitude > w.max {
		w.max = ev.Magnitude
	}
	if ev.Magnitude >= moderateAlertMagnitude {
		w.atLeast4++
	}
	if ev.Magnitude >= highAlertMagnitude {
		w.atLeast5++
	}
}

func (w *Window) removeLocked(id string) {
	ev, ok := w.byID[id]
	if !ok {
		return
	}
	w.entries.Delete(ev)
	w.forgetLocked(ev)
}

// forgetLocked undoes addLocked for an entry already removed from the tree.
func (w *Window) forgetLocked(ev domain.SeismicEvent) {
	delete(w.byID, ev.ID)
	w.sum -= ev.Magnitude
	if ev.Magnitude >= moderateAlertMagnitude {
		w.atLeast4--
	}
	if ev.Magnitude >= highAlertMagnitude {
		w.atLeast5--
	}

	if len(w.byID) == 0 {
		w.sum = 0
		w.max = 0
		return
	}
	if ev.Magnitude >= w.max {
		w.recomputeMaxLocked()
	}
}

// recomputeMaxLocked rescans the window. Only needed when the max leaves.
func (w *Window) recomputeMaxLocked() {
	first := true
	w.entries.Ascend(func(ev domain.SeismicEvent) bool {
		if first || ev.Magnitude > w.max {
			w.max = ev.Magnitude
			first = false
		}
		return true
	})
}

func (w *Window) evictLocked(now time.Time) int {
	evicted := 0
	for {
		oldest, ok := w.entries.Min()
		if !ok || w.contains(oldest, now) {
			return evicted
		}
		w.entries.DeleteMin()
		w.forgetLocked(oldest)
		evicted++
	}
}
