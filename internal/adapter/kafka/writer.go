package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// NotificationWriter publishes notifications to a Kafka topic for an
// external push gateway. It implements notify.Deliverer.
type NotificationWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotificationWriter creates a Kafka producer for the configured notification topic.
func NewNotificationWriter(cfg *config.Config, logger *slog.Logger) *NotificationWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaNotificationTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &NotificationWriter{writer: w, logger: logger}
}

// Deliver writes one notification. Messages are keyed by subscriber so each
// subscriber's notifications stay ordered within a partition.
func (w *NotificationWriter) Deliver(ctx context.Context, n domain.Notification) error {
	msg, err := serializeToMessage(n)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notification %s: %w", n.ID, err)
	}
	w.logger.Debug("notification published", "notification_id", n.ID, "subscriber_id", n.SubscriberID)
	return nil
}

func (w *NotificationWriter) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Notification into a Kafka message.
func serializeToMessage(n domain.Notification) (kafkago.Message, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(n.SubscriberID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_id", Value: []byte(n.EventID)},
			{Key: "created_at", Value: []byte(n.CreatedAt.Format(time.RFC3339))},
		},
	}, nil
}
