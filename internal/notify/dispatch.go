package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

const defaultConcurrency = 8

// Deliverer hands a notification to an external delivery transport.
type Deliverer interface {
	Deliver(ctx context.Context, n domain.Notification) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, n domain.Notification) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, n domain.Notification) error {
	return f(ctx, n)
}

// SubscriberSource supplies the current subscriber snapshot.
type SubscriberSource interface {
	Subscribers() []domain.SubscriberConfig
}

// Dispatcher evaluates every subscriber for an event in parallel and delivers
// the eligible notifications. Delivery failures are logged and counted, never
// retried.
type Dispatcher struct {
	subscribers SubscriberSource
	deliverer   Deliverer
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewDispatcher creates a Dispatcher. Each Deliver call is bounded by timeout.
func NewDispatcher(subscribers SubscriberSource, deliverer Deliverer, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		subscribers: subscribers,
		deliverer:   deliverer,
		timeout:     timeout,
		concurrency: defaultConcurrency,
		logger:      logger,
		metrics:     metrics,
	}
}

// Dispatch notifies every eligible subscriber about ev and returns how many
// deliveries succeeded. It blocks until all deliveries finish or time out.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.SeismicEvent) int {
	subs := d.subscribers.Subscribers()
	if len(subs) == 0 {
		return 0
	}

	now := domain.Now()
	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for _, sub := range subs {
		if !IsEligible(ev, sub) {
			continue
		}
		g.Go(func() error {
			if d.deliver(ctx, Compose(ev, sub, now)) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(delivered.Load())
}

func (d *Dispatcher) deliver(ctx context.Context, n domain.Notification) bool {
	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.deliverer.Deliver(dctx, n); err != nil {
		d.logger.Error("notification delivery failed",
			"error", err,
			"subscriber_id", n.SubscriberID,
			"event_id", n.EventID,
			"timed_out", errors.Is(err, context.DeadlineExceeded),
		)
		d.metrics.Notifications.WithLabelValues("failed").Inc()
		return false
	}
	d.metrics.Notifications.WithLabelValues("delivered").Inc()
	return true
}
