package http

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
)

const (
	streamBuffer = 64
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
	pongWait     = 2 * pingPeriod
)

// handleStream upgrades to a websocket and forwards every hub update as JSON.
// A client that falls behind loses updates rather than stalling the hub.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("stream upgrade failed", "error", err)
		return
	}
	s.streams.Add(1)
	defer s.streams.Done()
	defer conn.Close()

	updates, unsubscribe := s.deps.Updates.SubscribeChan(streamBuffer)
	defer unsubscribe()

	s.deps.Metrics.StreamClients.Inc()
	defer s.deps.Metrics.StreamClients.Dec()
	s.logger.Debug("stream client connected", "remote", r.RemoteAddr)

	// The read loop only services control frames and detects the close.
	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			s.logger.Debug("stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-s.closing:
			_ = conn.WriteControl(gorillaws.CloseMessage,
				gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case u := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				s.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(gorillaws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
