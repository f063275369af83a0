package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/quake-alert-service/internal/adapter/http"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/fanout"
	"github.com/couchcryptid/quake-alert-service/internal/feed"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/couchcryptid/quake-alert-service/internal/store"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type fixedStats domain.RollingWindowStat

func (f fixedStats) Snapshot() domain.RollingWindowStat { return domain.RollingWindowStat(f) }

type fixedRisk []domain.RiskScore

func (f fixedRisk) Rank() []domain.RiskScore { return f }

type fixedFeed feed.Status

func (f fixedFeed) Status() feed.Status { return feed.Status(f) }

var now = time.Date(2024, 4, 26, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv     *httpadapter.Server
	store   *store.Store
	hub     *fanout.Hub
	metrics *observability.Metrics
}

func newFixture(readyErr error) fixture {
	st := store.New()
	hub := fanout.NewHub()
	metrics := observability.NewMetricsForTesting()
	srv := httpadapter.NewServer(":0", httpadapter.Deps{
		Ready: &mockReadiness{err: readyErr},
		Stats: fixedStats{Count: 3, AverageMagnitude: 4.2, MaxMagnitude: 5.1, Window: 24 * time.Hour, AlertStatus: domain.AlertHigh},
		Risk: fixedRisk{
			{Region: "Afar Triangle", Score: 100, Level: domain.RiskCritical},
			{Region: "Tigray Highlands", Score: 30, Level: domain.RiskLow},
		},
		Events:  st,
		Feed:    fixedFeed{State: feed.Disconnected, ReconnectAttempt: 2, LastError: "dial failed"},
		Updates: hub,
		Metrics: metrics,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return fixture{srv: srv, store: st, hub: hub, metrics: metrics}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	f := newFixture(nil)
	assert.Equal(t, http.StatusOK, get(t, f.srv, "/healthz").Code)
}

func TestReadyz(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, newFixture(nil).srv, "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, newFixture(fmt.Errorf("not ready yet")).srv, "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newFixture(nil).srv, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStats(t *testing.T) {
	rec := get(t, newFixture(nil).srv, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body domain.RollingWindowStat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)
	assert.Equal(t, domain.AlertHigh, body.AlertStatus)
}

func TestRisk(t *testing.T) {
	rec := get(t, newFixture(nil).srv, "/api/v1/risk")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Regions []struct {
			Region string  `json:"region"`
			Score  float64 `json:"score"`
			Level  string  `json:"level"`
		} `json:"regions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Regions, 2)
	assert.Equal(t, "Afar Triangle", body.Regions[0].Region)
	assert.Equal(t, "critical", body.Regions[0].Level)
}

func TestFeed(t *testing.T) {
	rec := get(t, newFixture(nil).srv, "/api/v1/feed")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"disconnected","reconnectAttempt":2,"exhausted":false,"lastError":"dial failed"}`, rec.Body.String())
}

func TestEvents(t *testing.T) {
	f := newFixture(nil)
	f.store.Insert(domain.SeismicEvent{ID: "addis", Magnitude: 4.5, Epicenter: domain.Geo{Lat: 9.0, Lng: 38.7}, OccurredAt: now.Add(-time.Hour)})
	f.store.Insert(domain.SeismicEvent{ID: "afar", Magnitude: 5.0, Epicenter: domain.Geo{Lat: 11.5, Lng: 40.5}, OccurredAt: now.Add(-2 * time.Hour)})
	f.store.Insert(domain.SeismicEvent{ID: "old", Magnitude: 3.0, Epicenter: domain.Geo{Lat: 9.0, Lng: 38.7}, OccurredAt: now.Add(-48 * time.Hour)})

	since := now.Add(-24 * time.Hour).Format(time.RFC3339)
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"window", "since=" + since, []string{"addis", "afar"}},
		{"geo", "since=" + since + "&lat=9.0&lng=38.7&radius_km=50", []string{"addis"}},
		{"limit", "since=" + since + "&limit=1", []string{"addis"}},
		{"until", "since=" + since + "&until=" + now.Add(-90*time.Minute).Format(time.RFC3339), []string{"afar"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, f.srv, "/api/v1/events?"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var body struct {
				Count  int                   `json:"count"`
				Events []domain.SeismicEvent `json:"events"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			ids := make([]string, 0, len(body.Events))
			for _, ev := range body.Events {
				ids = append(ids, ev.ID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, len(tt.want), body.Count)
		})
	}
}

func TestEvents_BadRequest(t *testing.T) {
	f := newFixture(nil)
	for _, q := range []string{
		"since=yesterday",
		"since=2024-04-26T12:00:00Z&until=2024-04-26T11:00:00Z",
		"limit=0",
		"limit=abc",
		"lat=9&lng=38",
		"lat=x&lng=38&radius_km=5",
		"lat=95&lng=38&radius_km=5",
		"lat=9&lng=38&radius_km=-1",
	} {
		rec := get(t, f.srv, "/api/v1/events?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestStream_ForwardsUpdates(t *testing.T) {
	f := newFixture(nil)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.StreamClients), 1e-9)

	f.hub.Publish(fanout.EventUpdate(domain.SeismicEvent{ID: "us7000abcd", Magnitude: 5.4, OccurredAt: now}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var u fanout.Update
	require.NoError(t, conn.ReadJSON(&u))
	assert.Equal(t, fanout.KindEvent, u.Kind)
	require.NotNil(t, u.Event)
	assert.Equal(t, "us7000abcd", u.Event.ID)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_ShutdownClosesClients(t *testing.T) {
	f := newFixture(nil)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/stream", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, gorillaws.IsCloseError(err, gorillaws.CloseGoingAway), "got %v", err)
}
