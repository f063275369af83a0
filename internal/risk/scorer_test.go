package risk

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/couchcryptid/quake-alert-service/internal/store"
)

const riskWindow = 90 * 24 * time.Hour

var now = time.Date(2024, 4, 26, 12, 0, 0, 0, time.UTC)

var addis = domain.RegionProfile{
	Name:              "Addis Ababa Metropolitan",
	Center:            domain.Geo{Lat: 9.0, Lng: 38.7},
	RadiusKm:          100,
	StaticRiskFactors: []string{"urban density", "building codes", "fault proximity"},
}

var tigray = domain.RegionProfile{
	Name:              "Tigray Highlands",
	Center:            domain.Geo{Lat: 13.5, Lng: 39.5},
	RadiusKm:          200,
	StaticRiskFactors: []string{"highland faults", "seismic history", "infrastructure"},
}

func setup(t *testing.T, regions ...domain.RegionProfile) (*Scorer, *store.Store, *clockwork.FakeClock, *observability.Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	metrics := observability.NewMetricsForTesting()
	s := store.New()
	scorer := NewScorer(s, regions, riskWindow, clock, metrics)
	s.Observe(scorer)
	return scorer, s, clock, metrics
}

func quakeAt(id string, mag float64, geo domain.Geo, at time.Time) domain.SeismicEvent {
	return domain.SeismicEvent{ID: id, Magnitude: mag, Epicenter: geo, OccurredAt: at}
}

func TestScore_ClampedToCritical(t *testing.T) {
	scorer, s, _, _ := setup(t, addis)
	s.Insert(quakeAt("a", 5.0, addis.Center, now.Add(-time.Hour)))
	s.Insert(quakeAt("b", 4.0, addis.Center, now.Add(-2*time.Hour)))
	s.Insert(quakeAt("c", 3.0, addis.Center, now.Add(-3*time.Hour)))

	got, err := scorer.Score(addis.Name)
	require.NoError(t, err)
	assert.InDelta(t, 100, got.Score, 1e-9)
	assert.Equal(t, domain.RiskCritical, got.Level)
	assert.Equal(t, 3, got.SampleSize)
	assert.InDelta(t, 4.0, got.AvgMagnitude, 1e-9)
	assert.Equal(t, now, got.ComputedAt)
}

func TestScore_EmptyRegionUsesStaticFactorsOnly(t *testing.T) {
	scorer, _, _, _ := setup(t, addis)

	got, err := scorer.Score(addis.Name)
	require.NoError(t, err)
	assert.InDelta(t, 30, got.Score, 1e-9)
	assert.Equal(t, domain.RiskLow, got.Level)
	assert.Equal(t, 0, got.SampleSize)
	assert.Zero(t, got.AvgMagnitude)
}

func TestScore_IgnoresEventsOutsideRadiusAndWindow(t *testing.T) {
	scorer, s, _, _ := setup(t, addis)
	s.Insert(quakeAt("far", 6.0, tigray.Center, now.Add(-time.Hour)))
	s.Insert(quakeAt("stale", 6.0, addis.Center, now.Add(-riskWindow)))

	got, err := scorer.Score(addis.Name)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SampleSize)
}

func TestScore_UnknownRegion(t *testing.T) {
	scorer, _, _, _ := setup(t, addis)
	_, err := scorer.Score("Atlantis")
	require.Error(t, err)
}

func TestScore_CachedUntilInvalidated(t *testing.T) {
	scorer, s, _, metrics := setup(t, addis, tigray)
	s.Insert(quakeAt("a", 1.0, addis.Center, now.Add(-time.Hour)))

	first, err := scorer.Score(addis.Name)
	require.NoError(t, err)
	_, err = scorer.Score(addis.Name)
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RiskRecomputations), 0)

	// An event in another region leaves the cached score alone.
	s.Insert(quakeAt("b", 4.0, tigray.Center, now.Add(-time.Hour)))
	_, err = scorer.Score(addis.Name)
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RiskRecomputations), 0)

	s.Insert(quakeAt("c", 1.0, addis.Center, now.Add(-time.Minute)))
	second, err := scorer.Score(addis.Name)
	require.NoError(t, err)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RiskRecomputations), 0)
	assert.Equal(t, 1, first.SampleSize)
	assert.Equal(t, 2, second.SampleSize)
}

func TestScore_ReplacementInvalidatesOldRegion(t *testing.T) {
	scorer, s, _, _ := setup(t, addis, tigray)
	s.Insert(quakeAt("a", 4.0, addis.Center, now.Add(-time.Hour)))
	before, _ := scorer.Score(addis.Name)
	require.Equal(t, 1, before.SampleSize)

	// Relocated by a later revision.
	s.Insert(quakeAt("a", 4.0, tigray.Center, now.Add(-time.Hour)))

	after, _ := scorer.Score(addis.Name)
	assert.Equal(t, 0, after.SampleSize)
	moved, _ := scorer.Score(tigray.Name)
	assert.Equal(t, 1, moved.SampleSize)
}

func TestScore_SampleAgesOutWithoutStoreMutation(t *testing.T) {
	scorer, s, clock, _ := setup(t, addis)
	s.Insert(quakeAt("a", 2.0, addis.Center, now.Add(-riskWindow+time.Hour)))

	got, _ := scorer.Score(addis.Name)
	require.Equal(t, 1, got.SampleSize)

	clock.Advance(time.Hour)
	got, _ = scorer.Score(addis.Name)
	assert.Equal(t, 0, got.SampleSize)
}

func TestScore_ExpiryInvalidates(t *testing.T) {
	scorer, s, _, _ := setup(t, addis)
	s.Insert(quakeAt("a", 2.0, addis.Center, now.Add(-48*time.Hour)))
	got, _ := scorer.Score(addis.Name)
	require.Equal(t, 1, got.SampleSize)

	s.ExpireBefore(now.Add(-24 * time.Hour))
	got, _ = scorer.Score(addis.Name)
	assert.Equal(t, 0, got.SampleSize)
}

func TestRank_ScoreDescendingThenName(t *testing.T) {
	quiet := domain.RegionProfile{Name: "Zeta Plain", Center: domain.Geo{Lat: -30, Lng: 20}, RadiusKm: 10}
	twin := domain.RegionProfile{Name: "Alpha Plain", Center: domain.Geo{Lat: -40, Lng: 20}, RadiusKm: 10}
	scorer, s, _, _ := setup(t, quiet, tigray, twin, addis)
	s.Insert(quakeAt("a", 2.0, addis.Center, now.Add(-time.Hour)))

	var names []string
	for _, rs := range scorer.Rank() {
		names = append(names, rs.Region)
	}
	want := []string{addis.Name, tigray.Name, twin.Name, quiet.Name}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("rank mismatch (-want +got):\n%s", diff)
	}
}

func TestSetRegions_ResetsCache(t *testing.T) {
	scorer, _, _, _ := setup(t, addis)
	scorer.SetRegions([]domain.RegionProfile{tigray})

	_, err := scorer.Score(addis.Name)
	require.Error(t, err)
	got, err := scorer.Score(tigray.Name)
	require.NoError(t, err)
	assert.Equal(t, tigray.Name, got.Region)
}

func TestCompute_Bounded(t *testing.T) {
	assert.InDelta(t, 100, Compute(4.0, 3, 3), 0)
	assert.InDelta(t, 0, Compute(-5, 0, 0), 0)
	assert.InDelta(t, 30+30+40, Compute(1.0, 1, 3), 1e-9)

	rng := rand.New(rand.NewPCG(7, 11))
	for range 1000 {
		avg := rng.Float64()*14 - 2
		score := Compute(avg, rng.IntN(50), rng.IntN(6))
		require.GreaterOrEqual(t, score, 0.0)
		require.LessOrEqual(t, score, 100.0)
	}
}
