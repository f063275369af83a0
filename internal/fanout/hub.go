// Package fanout broadcasts engine updates to UI-facing listeners.
package fanout

import (
	"sync"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Kind identifies the payload carried by an Update.
type Kind string

const (
	// KindEvent carries a newly inserted event. Replacements are not published.
	KindEvent Kind = "earthquake"
	// KindStats carries a fresh rolling window snapshot.
	KindStats Kind = "stats"
	// KindRisk carries the ranked region scores.
	KindRisk Kind = "risk"
	// KindConnectivity reports a terminal feed connectivity failure.
	KindConnectivity Kind = "connectivity"
)

// Update is one message to listeners. Exactly one payload field is set, matching Kind.
type Update struct {
	Kind  Kind                      `json:"type"`
	Event *domain.SeismicEvent      `json:"event,omitempty"`
	Stats *domain.RollingWindowStat `json:"stats,omitempty"`
	Risk  []domain.RiskScore        `json:"risk,omitempty"`
	Error string                    `json:"error,omitempty"`
}

// EventUpdate wraps an inserted event.
func EventUpdate(ev domain.SeismicEvent) Update {
	return Update{Kind: KindEvent, Event: &ev}
}

// StatsUpdate wraps a rolling window snapshot.
func StatsUpdate(s domain.RollingWindowStat) Update {
	return Update{Kind: KindStats, Stats: &s}
}

// RiskUpdate wraps ranked region scores.
func RiskUpdate(scores []domain.RiskScore) Update {
	return Update{Kind: KindRisk, Risk: scores}
}

// ConnectivityUpdate reports err as a connectivity failure.
func ConnectivityUpdate(err error) Update {
	return Update{Kind: KindConnectivity, Error: err.Error()}
}

type subscription struct {
	id uint64
	fn func(Update)
}

// Hub delivers every published Update to each subscriber in subscription
// order. Callbacks run synchronously on the publisher's goroutine and must
// not block.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewHub returns a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (h *Hub) Subscribe(fn func(Update)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscription{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers u to every current subscriber.
func (h *Hub) Publish(u Update) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()

	for _, s := range subs {
		s.fn(u)
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// SubscribeChan subscribes a buffered channel. Updates that arrive while the
// buffer is full are dropped so a slow reader never stalls the publisher.
// The channel is not closed on unsubscribe.
func (h *Hub) SubscribeChan(buffer int) (<-chan Update, func()) {
	ch := make(chan Update, buffer)
	unsubscribe := h.Subscribe(func(u Update) {
		select {
		case ch <- u:
		default:
		}
	})
	return ch, unsubscribe
}
