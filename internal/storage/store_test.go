package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

var base = time.Date(2024, 4, 26, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) SnapshotStore {
	t.Helper()
	s, err := NewSQLite("file:" + filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

func event(id string, mag float64, age time.Duration) domain.SeismicEvent {
	return domain.SeismicEvent{
		ID:         id,
		Magnitude:  mag,
		Epicenter:  domain.Geo{Lat: 9.0, Lng: 38.7},
		DepthKm:    10,
		OccurredAt: base.Add(-age),
		Place:      "near Addis Ababa",
	}
}

func TestSQLite_UpsertAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := event("a", 4.2, 3*time.Hour)
	b := event("b", 5.1, time.Hour)
	b.TsunamiFlag = true
	require.NoError(t, s.UpsertEvents(ctx, []domain.SeismicEvent{b, a}))

	got, err := s.LoadSince(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	if diff := cmp.Diff([]domain.SeismicEvent{a, b}, got); diff != "" {
		t.Errorf("LoadSince mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLite_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertEvents(ctx, []domain.SeismicEvent{event("a", 4.2, time.Hour)}))
	revised := event("a", 4.6, time.Hour)
	require.NoError(t, s.UpsertEvents(ctx, []domain.SeismicEvent{revised}))

	got, err := s.LoadSince(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 4.6, got[0].Magnitude, 1e-9)
}

func TestSQLite_DeleteBefore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertEvents(ctx, []domain.SeismicEvent{
		event("old", 3.0, 8*24*time.Hour),
		event("edge", 3.0, 7*24*time.Hour),
		event("new", 3.0, time.Hour),
	}))

	n, err := s.DeleteBefore(ctx, base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.LoadSince(ctx, time.Time{})
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, ev := range got {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"edge", "new"}, ids)
}

func TestSQLite_LoadSinceIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertEvents(ctx, []domain.SeismicEvent{event("edge", 3.0, time.Hour)}))
	got, err := s.LoadSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_EmptyUpsert(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.UpsertEvents(context.Background(), nil))
}

func TestNew(t *testing.T) {
	s, err := New(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = New(&config.Config{StorageDriver: "mongo"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(&config.Config{StorageDriver: "postgres"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	s, err = New(&config.Config{StorageDriver: "sqlite", StorageDSN: "file:" + filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NoError(t, s.Close())
}
