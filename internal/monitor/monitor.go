// Package monitor seeds the engine, runs the periodic expiry sweep, and
// reports readiness.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/fanout"
	"github.com/couchcryptid/quake-alert-service/internal/feed"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/couchcryptid/quake-alert-service/internal/storage"
)

// Catalog fetches historical events for the seed.
type Catalog interface {
	Query(ctx context.Context, q domain.CatalogQuery) ([]domain.SeismicEvent, error)
}

// FeedState reports the live feed's connection state.
type FeedState interface {
	State() feed.State
}

// Publisher fans updates out to UI listeners.
type Publisher interface {
	Publish(u fanout.Update)
}

// Options configures seeding and the sweep cadence.
type Options struct {
	RiskWindow    time.Duration
	SweepInterval time.Duration

	// Seed query filters. A nil Center fetches worldwide.
	CatalogCenter       *domain.Geo
	CatalogRadiusKm     float64
	CatalogMinMagnitude float64
}

// Monitor is the single owner of the engine's periodic work.
type Monitor struct {
	engine    *Engine
	catalog   Catalog
	snapshots storage.SnapshotStore
	feed      FeedState
	publisher Publisher
	clock     clockwork.Clock
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics

	seeded atomic.Bool

	mu      sync.Mutex
	pending map[string]domain.SeismicEvent
}

// New creates a monitor. catalog, snapshots and feed may be nil.
func New(engine *Engine, catalog Catalog, snapshots storage.SnapshotStore, feedState FeedState, publisher Publisher, clock clockwork.Clock, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Monitor {
	m := &Monitor{
		engine:    engine,
		catalog:   catalog,
		snapshots: snapshots,
		feed:      feedState,
		publisher: publisher,
		clock:     clock,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
		pending:   make(map[string]domain.SeismicEvent),
	}
	if snapshots != nil {
		engine.Store.Observe(m)
	}
	return m
}

// OnInsert queues ev for the next snapshot write.
func (m *Monitor) OnInsert(ev domain.SeismicEvent, _ *domain.SeismicEvent) {
	m.mu.Lock()
	m.pending[ev.ID] = ev
	m.mu.Unlock()
}

// OnExpire drops expired events that were never written.
func (m *Monitor) OnExpire(removed []domain.SeismicEvent) {
	m.mu.Lock()
	for _, ev := range removed {
		delete(m.pending, ev.ID)
	}
	m.mu.Unlock()
}

// forget unqueues events that are already persisted in their current form.
func (m *Monitor) forget(persisted []domain.SeismicEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range persisted {
		if queued, ok := m.pending[ev.ID]; ok && queued == ev {
			delete(m.pending, ev.ID)
		}
	}
}

// CheckReadiness returns nil once the working set has been seeded or the
// live feed has connected.
func (m *Monitor) CheckReadiness(_ context.Context) error {
	if m.seeded.Load() {
		return nil
	}
	if m.feed != nil && m.feed.State() == feed.Connected {
		return nil
	}
	return errors.New("working set not seeded and feed not connected")
}

// Seed loads the persisted snapshot and then the historical catalog into the
// engine. Failures are logged and returned, but the engine stays usable and
// starts from whatever was loaded.
func (m *Monitor) Seed(ctx context.Context) error {
	start := m.clock.Now()
	defer func() {
		m.metrics.SeedDuration.Observe(m.clock.Since(start).Seconds())
	}()

	now := start.UTC()
	from := now.Add(-m.opts.RiskWindow)
	var errs []error

	if m.snapshots != nil {
		events, err := m.snapshots.LoadSince(ctx, from)
		if err != nil {
			m.logger.Error("snapshot load failed", "error", err)
			errs = append(errs, fmt.Errorf("load snapshot: %w", err))
		} else {
			n := m.engine.Load(events)
			m.forget(events)
			m.seeded.Store(true)
			m.logger.Info("snapshot loaded", "events", n)
		}
	}

	if m.catalog != nil {
		events, err := m.catalog.Query(ctx, domain.CatalogQuery{
			WindowStart:  from,
			WindowEnd:    now,
			Center:       m.opts.CatalogCenter,
			RadiusKm:     m.opts.CatalogRadiusKm,
			MinMagnitude: m.opts.CatalogMinMagnitude,
		})
		if err != nil {
			m.logger.Error("catalog seed failed, starting from current working set", "error", err)
			errs = append(errs, fmt.Errorf("seed catalog: %w", err))
		} else {
			n := m.engine.Load(events)
			m.seeded.Store(true)
			m.logger.Info("catalog seeded", "fetched", len(events), "inserted", n)
		}
	}

	m.metrics.StoreSize.Set(float64(m.engine.Store.Len()))
	m.publishAggregates()
	return errors.Join(errs...)
}

// Run sweeps on every SweepInterval tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started", "sweep_interval", m.opts.SweepInterval, "risk_window", m.opts.RiskWindow)
	ticker := m.clock.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping", "reason", ctx.Err())
			if m.snapshots != nil {
				// Flush with a fresh context; ctx is already done.
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				m.persist(flushCtx, m.clock.Now().UTC().Add(-m.opts.RiskWindow))
				cancel()
			}
			return nil
		case <-ticker.Chan():
			m.Sweep(ctx)
		}
	}
}

// Sweep expires events older than the risk window, evicts aged events from
// the stats window, publishes fresh aggregates, and writes the snapshot.
func (m *Monitor) Sweep(ctx context.Context) {
	start := m.clock.Now()
	cutoff := start.UTC().Add(-m.opts.RiskWindow)

	expired := m.engine.Store.ExpireBefore(cutoff)
	evicted := m.engine.Window.Sweep()

	m.metrics.EventsExpired.Add(float64(len(expired)))
	m.metrics.StoreSize.Set(float64(m.engine.Store.Len()))
	if len(expired) > 0 || evicted > 0 {
		m.logger.Debug("sweep", "expired", len(expired), "evicted", evicted)
	}

	m.publishAggregates()
	if m.snapshots != nil {
		m.persist(ctx, cutoff)
	}
	m.metrics.SweepDuration.Observe(m.clock.Since(start).Seconds())
}

func (m *Monitor) publishAggregates() {
	m.publisher.Publish(fanout.StatsUpdate(m.engine.Window.Snapshot()))
	m.publisher.Publish(fanout.RiskUpdate(m.engine.Scorer.Rank()))
}

// persist writes queued inserts and prunes rows before cutoff. Events that
// fail to write are requeued unless a newer revision arrived meanwhile.
func (m *Monitor) persist(ctx context.Context, cutoff time.Time) {
	m.mu.Lock()
	batch := make([]domain.SeismicEvent, 0, len(m.pending))
	for _, ev := range m.pending {
		batch = append(batch, ev)
	}
	clear(m.pending)
	m.mu.Unlock()

	if err := m.snapshots.UpsertEvents(ctx, batch); err != nil {
		m.logger.Warn("snapshot write failed", "error", err, "events", len(batch))
		m.mu.Lock()
		for _, ev := range batch {
			if _, ok := m.pending[ev.ID]; !ok {
				m.pending[ev.ID] = ev
			}
		}
		m.mu.Unlock()
	}
	if n, err := m.snapshots.DeleteBefore(ctx, cutoff); err != nil {
		m.logger.Warn("snapshot prune failed", "error", err)
	} else if n > 0 {
		m.logger.Debug("snapshot pruned", "rows", n)
	}
}
