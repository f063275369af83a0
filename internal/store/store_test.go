package store

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

var base = time.Date(2024, 4, 26, 12, 0, 0, 0, time.UTC)

func event(id string, mag float64, ago time.Duration, lat, lng float64) domain.SeismicEvent {
	return domain.SeismicEvent{
		ID:         id,
		Magnitude:  mag,
		Epicenter:  domain.Geo{Lat: lat, Lng: lng},
		DepthKm:    10,
		OccurredAt: base.Add(-ago),
	}
}

func ids(events []domain.SeismicEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

type recordingObserver struct {
	inserts  []domain.SeismicEvent
	previous []*domain.SeismicEvent
	expired  [][]domain.SeismicEvent
}

func (r *recordingObserver) OnInsert(ev domain.SeismicEvent, previous *domain.SeismicEvent) {
	r.inserts = append(r.inserts, ev)
	r.previous = append(r.previous, previous)
}

func (r *recordingObserver) OnExpire(removed []domain.SeismicEvent) {
	r.expired = append(r.expired, removed)
}

func TestInsert_FreshAndReplace(t *testing.T) {
	s := New()

	assert.Equal(t, domain.Inserted, s.Insert(event("us1", 4.0, time.Hour, 9, 38)))
	assert.Equal(t, domain.Inserted, s.Insert(event("us2", 3.0, 2*time.Hour, 9, 38)))
	assert.Equal(t, 2, s.Len())

	revised := event("us1", 4.6, time.Hour, 9, 38)
	assert.Equal(t, domain.Replaced, s.Insert(revised))
	assert.Equal(t, 2, s.Len())

	got, ok := s.Get("us1")
	require.True(t, ok)
	assert.InDelta(t, 4.6, got.Magnitude, 1e-9)
}

func TestInsert_ReplaceMovesIndexPosition(t *testing.T) {
	s := New()
	s.Insert(event("a", 3.0, 3*time.Hour, 9, 38))
	s.Insert(event("b", 3.0, 2*time.Hour, 9, 38))

	// Later arrival wins even though it reports an older occurrence time.
	s.Insert(event("b", 3.1, 5*time.Hour, 9, 38))

	if diff := cmp.Diff([]string{"a", "b"}, ids(s.Snapshot())); diff != "" {
		t.Errorf("snapshot order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, s.Len())
}

func TestInsert_IdempotentReplay(t *testing.T) {
	s := New()
	ev := event("us1", 4.0, time.Hour, 9, 38)

	for range 5 {
		s.Insert(ev)
	}
	assert.Equal(t, 1, s.Len())
	assert.Len(t, s.Snapshot(), 1)
}

func TestQuery_OrderingAndTies(t *testing.T) {
	s := New()
	s.Insert(event("c", 3.0, time.Hour, 9, 38))
	s.Insert(event("a", 3.0, time.Hour, 9, 38))
	s.Insert(event("z", 3.0, 30*time.Minute, 9, 38))
	s.Insert(event("b", 3.0, time.Hour, 9, 38))
	s.Insert(event("old", 3.0, 10*time.Hour, 9, 38))

	got := s.Query(domain.TimeRange{From: base.Add(-24 * time.Hour)}, nil)
	want := []string{"z", "a", "b", "c", "old"}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("query order mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_TimeRangeIsHalfOpen(t *testing.T) {
	s := New()
	s.Insert(event("at-from", 3.0, 2*time.Hour, 9, 38))
	s.Insert(event("inside", 3.0, 90*time.Minute, 9, 38))
	s.Insert(event("at-to", 3.0, time.Hour, 9, 38))
	s.Insert(event("after-to", 3.0, 30*time.Minute, 9, 38))

	got := s.Query(domain.TimeRange{From: base.Add(-2 * time.Hour), To: base.Add(-time.Hour)}, nil)
	if diff := cmp.Diff([]string{"at-to", "inside"}, ids(got)); diff != "" {
		t.Errorf("range mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_GeoFilter(t *testing.T) {
	s := New()
	s.Insert(event("addis", 4.0, time.Hour, 9.0, 38.7))
	s.Insert(event("near-addis", 3.5, 2*time.Hour, 9.1, 38.8))
	s.Insert(event("afar", 5.0, 3*time.Hour, 11.5, 40.5))

	filter := &domain.GeoFilter{Center: domain.Geo{Lat: 9.0, Lng: 38.7}, RadiusKm: 100}
	got := s.Query(domain.TimeRange{From: base.Add(-24 * time.Hour)}, filter)
	if diff := cmp.Diff([]string{"addis", "near-addis"}, ids(got)); diff != "" {
		t.Errorf("geo filter mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_Empty(t *testing.T) {
	s := New()
	assert.Empty(t, s.Query(domain.TimeRange{From: base.Add(-time.Hour)}, nil))
}

func TestExpireBefore(t *testing.T) {
	s := New()
	s.Insert(event("new", 3.0, time.Hour, 9, 38))
	s.Insert(event("old", 3.0, 30*time.Hour, 9, 38))
	s.Insert(event("older", 3.0, 40*time.Hour, 9, 38))
	s.Insert(event("edge", 3.0, 24*time.Hour, 9, 38))

	removed := s.ExpireBefore(base.Add(-24 * time.Hour))
	assert.Equal(t, []string{"older", "old"}, removed)
	assert.Equal(t, 2, s.Len())

	_, ok := s.Get("old")
	assert.False(t, ok)

	assert.Nil(t, s.ExpireBefore(base.Add(-24*time.Hour)))
}

func TestExpireBefore_AllowsReinsertOfExpiredID(t *testing.T) {
	s := New()
	s.Insert(event("us1", 3.0, 30*time.Hour, 9, 38))
	s.ExpireBefore(base.Add(-24 * time.Hour))

	assert.Equal(t, domain.Inserted, s.Insert(event("us1", 3.0, time.Hour, 9, 38)))
}

func TestObserversNotified(t *testing.T) {
	s := New()
	obs := &recordingObserver{}
	s.Observe(obs)

	s.Insert(event("us1", 4.0, time.Hour, 9, 38))
	s.Insert(event("us1", 4.2, time.Hour, 9, 38))
	s.Insert(event("us2", 3.0, 48*time.Hour, 9, 38))
	s.ExpireBefore(base.Add(-24 * time.Hour))
	s.ExpireBefore(base.Add(-24 * time.Hour))

	require.Len(t, obs.inserts, 3)
	assert.Nil(t, obs.previous[0])
	require.NotNil(t, obs.previous[1])
	assert.InDelta(t, 4.0, obs.previous[1].Magnitude, 1e-9)
	assert.Nil(t, obs.previous[2])

	require.Len(t, obs.expired, 1, "an empty expiry pass does not notify")
	assert.Equal(t, []string{"us2"}, ids(obs.expired[0]))
}
