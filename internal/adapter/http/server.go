// Package http serves health, metrics, the dashboard query API, and the live
// update stream.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/fanout"
	"github.com/couchcryptid/quake-alert-service/internal/feed"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// StatsSource supplies the rolling window snapshot.
type StatsSource interface {
	Snapshot() domain.RollingWindowStat
}

// RiskRanker supplies region scores, highest first.
type RiskRanker interface {
	Rank() []domain.RiskScore
}

// EventQuerier is the read side of the event store.
type EventQuerier interface {
	Query(r domain.TimeRange, geo *domain.GeoFilter) []domain.SeismicEvent
}

// FeedStatus reports the live feed connection.
type FeedStatus interface {
	Status() feed.Status
}

// UpdateSource hands out buffered update subscriptions.
type UpdateSource interface {
	SubscribeChan(buffer int) (<-chan fanout.Update, func())
}

// Deps are the engine views the server reads from.
type Deps struct {
	Ready   sharedobs.ReadinessChecker
	Stats   StatsSource
	Risk    RiskRanker
	Events  EventQuerier
	Feed    FeedStatus
	Updates UpdateSource
	Metrics *observability.Metrics
}

// Server exposes health, readiness, metrics, and the /api/v1 routes.
type Server struct {
	httpServer *http.Server
	deps       Deps
	upgrader   gorillaws.Upgrader
	logger     *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
	streams   sync.WaitGroup
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps: deps,
		upgrader: gorillaws.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		logger:  logger,
		closing: make(chan struct{}),
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(deps.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/risk", s.handleRisk)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/feed", s.handleFeed)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown closes open streams and gracefully drains connections within the
// given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Stats.Snapshot())
}

func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"regions": s.deps.Risk.Rank()})
}

func (s *Server) handleFeed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Feed.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r.URL.Query(), domain.Now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	events := s.deps.Events.Query(q.Range, q.Geo)
	if len(events) > q.Limit {
		events = events[:q.Limit]
	}
	if events == nil {
		events = []domain.SeismicEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
