package monitor

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/couchcryptid/quake-alert-service/internal/risk"
	"github.com/couchcryptid/quake-alert-service/internal/stats"
	"github.com/couchcryptid/quake-alert-service/internal/store"
)

// Engine owns the working set and the aggregates derived from it. The
// window and scorer observe the store, so every insert or expiry reaches
// them before the store's write lock is released.
type Engine struct {
	Store  *store.Store
	Window *stats.Window
	Scorer *risk.Scorer
}

// NewEngine builds an empty engine scoring the given regions.
func NewEngine(regions []domain.RegionProfile, statsWindow, riskWindow time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *Engine {
	s := store.New()
	w := stats.NewWindow(statsWindow, clock)
	sc := risk.NewScorer(s, regions, riskWindow, clock, metrics)
	s.Observe(w)
	s.Observe(sc)
	return &Engine{Store: s, Window: w, Scorer: sc}
}

// Load inserts events without notifying anyone. Used for seeding and replay.
func (e *Engine) Load(events []domain.SeismicEvent) (inserted int) {
	for _, ev := range events {
		if e.Store.Insert(ev) == domain.Inserted {
			inserted++
		}
	}
	return inserted
}
