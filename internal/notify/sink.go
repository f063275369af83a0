package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// LogSink writes notifications to the service log. It is the delivery sink
// when no external transport is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Deliver logs n at info level.
func (s *LogSink) Deliver(_ context.Context, n domain.Notification) error {
	s.logger.Info("notification",
		"notification_id", n.ID,
		"subscriber_id", n.SubscriberID,
		"event_id", n.EventID,
		"title", n.Title,
		"body", n.Body,
	)
	return nil
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Deliverer

// Deliver calls every sink, even after a failure.
func (m MultiSink) Deliver(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
