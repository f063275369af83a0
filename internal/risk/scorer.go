// Package risk scores fixed geographic regions from the events in the working set.
//
// For each region, over the scoring window:
//
//	score = clamp(avgMagnitude*40 + count*30 + len(staticRiskFactors)*10, 0, 100)
//
// Scores are cached per region and recomputed lazily on the next read after
// an event enters or leaves the region, or after the oldest sample ages out
// of the window.
package risk

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/geomath"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

const (
	magnitudeWeight  = 40
	countWeight      = 30
	riskFactorWeight = 10
	maxScore         = 100
)

// EventQuerier is the read side of the event store.
type EventQuerier interface {
	Query(r domain.TimeRange, geo *domain.GeoFilter) []domain.SeismicEvent
}

type cacheEntry struct {
	score domain.RiskScore
	// validUntil is when the oldest sample leaves the window. Zero means
	// the score has no samples and only an insert can change it.
	validUntil time.Time
}

// Scorer implements store.Observer to invalidate cached region scores.
type Scorer struct {
	events  EventQuerier
	window  time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu      sync.Mutex
	regions []domain.RegionProfile
	cache   map[string]cacheEntry
	// generation is bumped per region on invalidation so a recompute that
	// raced with an insert is not cached.
	generation map[string]uint64
}

// NewScorer creates a scorer over the given regions.
func NewScorer(events EventQuerier, regions []domain.RegionProfile, window time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *Scorer {
	s := &Scorer{
		events:  events,
		window:  window,
		clock:   clock,
		metrics: metrics,
	}
	s.SetRegions(regions)
	return s
}

// SetRegions replaces the region set and drops every cached score.
func (s *Scorer) SetRegions(regions []domain.RegionProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = slices.Clone(regions)
	s.cache = make(map[string]cacheEntry, len(regions))
	s.generation = make(map[string]uint64, len(regions))
}

// Regions returns the configured region profiles.
func (s *Scorer) Regions() []domain.RegionProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.regions)
}

// OnInsert invalidates every region containing the new or the replaced epicenter.
func (s *Scorer) OnInsert(ev domain.SeismicEvent, previous *domain.SeismicEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked(ev.Epicenter)
	if previous != nil {
		s.invalidateLocked(previous.Epicenter)
	}
}

// OnExpire invalidates every region that contained a removed event.
func (s *Scorer) OnExpire(removed []domain.SeismicEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range removed {
		s.invalidateLocked(ev.Epicenter)
	}
}

func (s *Scorer) invalidateLocked(p domain.Geo) {
	for _, r := range s.regions {
		if geomath.Within(r.Center, p, r.RadiusKm) {
			delete(s.cache, r.Name)
			s.generation[r.Name]++
		}
	}
}

// Score returns the current score for the named region.
func (s *Scorer) Score(name string) (domain.RiskScore, error) {
	s.mu.Lock()
	idx := slices.IndexFunc(s.regions, func(r domain.RegionProfile) bool { return r.Name == name })
	if idx < 0 {
		s.mu.Unlock()
		return domain.RiskScore{}, fmt.Errorf("unknown region %q", name)
	}
	region := s.regions[idx]
	s.mu.Unlock()

	return s.score(region), nil
}

// Scores returns every region's score in configuration order.
func (s *Scorer) Scores() []domain.RiskScore {
	regions := s.Regions()
	out := make([]domain.RiskScore, len(regions))
	for i, r := range regions {
		out[i] = s.score(r)
	}
	return out
}

// Rank returns every region's score ordered by score descending, ties broken
// by region name ascending.
func (s *Scorer) Rank() []domain.RiskScore {
	scores := s.Scores()
	slices.SortFunc(scores, func(a, b domain.RiskScore) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Region, b.Region)
	})
	return scores
}

// score serves from cache when possible. The store is queried without
// holding s.mu because store observers call back into the scorer under the
// store's write lock.
func (s *Scorer) score(region domain.RegionProfile) domain.RiskScore {
	now := s.clock.Now()

	s.mu.Lock()
	entry, ok := s.cache[region.Name]
	gen := s.generation[region.Name]
	s.mu.Unlock()
	if ok && (entry.validUntil.IsZero() || now.Before(entry.validUntil)) {
		return entry.score
	}

	entry = s.compute(region, now)
	if s.metrics != nil {
		s.metrics.RiskRecomputations.Inc()
	}

	s.mu.Lock()
	if s.generation[region.Name] == gen {
		s.cache[region.Name] = entry
	}
	s.mu.Unlock()
	return entry.score
}

func (s *Scorer) compute(region domain.RegionProfile, now time.Time) cacheEntry {
	nearby := s.events.Query(
		domain.TimeRange{From: now.Add(-s.window)},
		&domain.GeoFilter{Center: region.Center, RadiusKm: region.RadiusKm},
	)

	var sum float64
	var oldest time.Time
	for i, ev := range nearby {
		sum += ev.Magnitude
		if i == 0 || ev.OccurredAt.Before(oldest) {
			oldest = ev.OccurredAt
		}
	}
	avg := 0.0
	if len(nearby) > 0 {
		avg = sum / float64(len(nearby))
	}

	score := Compute(avg, len(nearby), len(region.StaticRiskFactors))
	entry := cacheEntry{
		score: domain.RiskScore{
			Region:       region.Name,
			Score:        score,
			Level:        domain.LevelForScore(score),
			SampleSize:   len(nearby),
			AvgMagnitude: avg,
			ComputedAt:   now.UTC(),
		},
	}
	if len(nearby) > 0 {
		entry.validUntil = oldest.Add(s.window)
	}
	return entry
}

// Compute applies the weighting and clamps the result to [0, 100].
func Compute(avgMagnitude float64, count, riskFactors int) float64 {
	raw := avgMagnitude*magnitudeWeight + float64(count)*countWeight + float64(riskFactors)*riskFactorWeight
	return min(max(raw, 0), maxScore)
}
