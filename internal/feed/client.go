// Package feed keeps a live connection to the upstream event feed and
// ingests what it receives.
//
// The client cycles Disconnected -> Connecting -> Connected -> Disconnected,
// waiting min(BaseDelay*2^attempt, MaxDelay) before each reconnect. The
// attempt counter resets on every successful handshake. When a connection is
// lost with the counter at MaxReconnectAttempts the client stays
// Disconnected and publishes a connectivity failure; Connect resumes it.
// Disconnect moves to the terminal Closed state and cancels any pending
// reconnect.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/fanout"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// EventInserter is the write side of the event store.
type EventInserter interface {
	Insert(ev domain.SeismicEvent) domain.InsertResult
}

// Notifier evaluates subscribers for a freshly inserted event.
type Notifier interface {
	Dispatch(ctx context.Context, ev domain.SeismicEvent) int
}

// Publisher fans updates out to UI listeners.
type Publisher interface {
	Publish(u fanout.Update)
}

// Options tunes reconnection and parsing.
type Options struct {
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	MaxFutureSkew        time.Duration
	// Retention drops events that occurred at or before now-Retention, the
	// same horizon the working set expires at. Zero keeps everything.
	Retention time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	dialer    Dialer
	store     EventInserter
	notifier  Notifier
	publisher Publisher
	clock     clockwork.Clock
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu        sync.Mutex
	state     State
	attempt   int
	exhausted bool
	lastErr   error
	parent    context.Context
	session   uint64
	cancel    context.CancelFunc
	timer     clockwork.Timer
	wg        sync.WaitGroup
}

// NewClient creates a disconnected client.
func NewClient(d Dialer, store EventInserter, notifier Notifier, publisher Publisher, clock clockwork.Clock, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		dialer:    d,
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		clock:     clock,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
		state:     Disconnected,
	}
}

// Connect starts connecting in the background. Sessions live until ctx is
// cancelled or Disconnect is called. Calling Connect while connecting or
// connected is a no-op; calling it while Disconnected resets the attempt
// counter and dials immediately.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Closed:
		return domain.ErrClientClosed
	case Connecting, Connected:
		return nil
	}

	c.parent = ctx
	c.stopTimerLocked()
	c.attempt = 0
	c.exhausted = false
	c.startSessionLocked()
	return nil
}

// Disconnect closes the client for good. It cancels any pending reconnect,
// closes the open connection, and waits for the receive loop to exit. It is
// idempotent and must not be called from a listener callback.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Closed)
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("feed client closed")
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the state with reconnect details.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, ReconnectAttempt: c.attempt, Exhausted: c.exhausted}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	c.metrics.FeedState.Set(float64(s))
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) startSessionLocked() {
	c.setStateLocked(Connecting)
	c.session++
	ctx, cancel := context.WithCancel(c.parent)
	c.cancel = cancel
	c.wg.Add(1)
	go c.runSession(ctx, c.session)
}

func (c *Client) runSession(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	dialCtx, cancelDial := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	conn, err := c.dialer.Dial(dialCtx)
	cancelDial()
	if err != nil {
		c.sessionEnded(ctx, gen, fmt.Errorf("%w: dial: %w", domain.ErrTransport, err))
		return
	}

	if !c.markConnected(gen) {
		_ = conn.Close()
		return
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			_ = conn.Close()
			c.sessionEnded(ctx, gen, fmt.Errorf("%w: read: %w", domain.ErrTransport, err))
			return
		}
		c.handleMessage(ctx, data)
	}
}

func (c *Client) markConnected(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.session || c.state != Connecting {
		return false
	}
	c.setStateLocked(Connected)
	c.attempt = 0
	c.lastErr = nil
	c.metrics.FeedConnects.Inc()
	c.logger.Info("feed connected")
	return true
}

// sessionEnded handles a failed dial or a dropped connection.
func (c *Client) sessionEnded(ctx context.Context, gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.session || c.state == Closed {
		c.mu.Unlock()
		return
	}
	parentDone := ctx.Err() != nil
	c.cancel()
	c.lastErr = cause
	if parentDone {
		c.setStateLocked(Disconnected)
		c.mu.Unlock()
		return
	}

	c.metrics.FeedDisconnects.Inc()
	c.setStateLocked(Disconnected)

	if c.attempt >= c.opts.MaxReconnectAttempts {
		c.exhausted = true
		attempts := c.attempt
		c.mu.Unlock()

		c.metrics.FeedExhausted.Inc()
		err := fmt.Errorf("%w after %d attempts: %w", domain.ErrReconnectExhausted, attempts, cause)
		c.logger.Error("feed reconnect attempts exhausted", "attempts", attempts, "error", cause)
		c.publisher.Publish(fanout.ConnectivityUpdate(err))
		return
	}

	delay := backoffDelay(c.opts.BaseDelay, c.opts.MaxDelay, c.attempt)
	c.attempt++
	c.timer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
	c.metrics.FeedReconnects.Inc()
	c.logger.Warn("feed disconnected, reconnecting",
		"error", cause,
		"attempt", c.attempt,
		"delay", delay,
	)
	c.mu.Unlock()
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.session || c.state != Disconnected {
		return
	}
	c.timer = nil
	c.startSessionLocked()
}

func (c *Client) handleMessage(ctx context.Context, data []byte) {
	c.metrics.MessagesReceived.Inc()

	ev, ok, err := domain.ParseFeedMessage(data, c.opts.MaxFutureSkew)
	if err != nil {
		c.metrics.MalformedMessages.Inc()
		c.logger.Warn("dropping malformed feed message", "error", err, "size", len(data))
		return
	}
	if !ok {
		c.logger.Debug("ignoring feed control message")
		return
	}
	c.Ingest(ctx, ev)
}

// Ingest inserts ev into the store. Only a fresh insert notifies
// subscribers and listeners; a replacement of a known ID is silent. Events
// already past the retention horizon are dropped and ok is false, so an event
// that was notified and later expired cannot be notified again.
func (c *Client) Ingest(ctx context.Context, ev domain.SeismicEvent) (result domain.InsertResult, ok bool) {
	if c.opts.Retention > 0 && !ev.OccurredAt.After(c.clock.Now().Add(-c.opts.Retention)) {
		c.metrics.StaleEvents.Inc()
		c.logger.Debug("dropping event older than retention", "event_id", ev.ID, "occurred_at", ev.OccurredAt)
		return domain.Inserted, false
	}

	result = c.store.Insert(ev)
	c.metrics.EventsIngested.WithLabelValues(result.String()).Inc()
	if result == domain.Replaced {
		c.logger.Debug("event revised", "event_id", ev.ID, "magnitude", ev.Magnitude)
		return result, true
	}

	if n := c.notifier.Dispatch(ctx, ev); n > 0 {
		c.logger.Info("notifications delivered", "event_id", ev.ID, "count", n)
	}
	c.publisher.Publish(fanout.EventUpdate(ev))
	return result, true
}
