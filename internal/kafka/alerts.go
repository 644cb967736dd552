package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

// DefaultAlertTopic receives alerts when no topic is configured.
const DefaultAlertTopic = "lakemon-alerts"

// Publisher is satisfied by Producer.
type Publisher interface {
	Produce(ctx context.Context, rs ...lakemon.Record) error
}

var _ lakemon.AlertSink = (*AlertPublisher)(nil)

// AlertPublisher publishes every alert of a batch as one JSON record keyed
// by its category.
type AlertPublisher struct {
	publisher Publisher
	logger    *slog.Logger
	topic     string
}

// NewAlertPublisher is a constructor of AlertPublisher.
func NewAlertPublisher(publisher Publisher, topic string, logger *slog.Logger) *AlertPublisher {
	if topic == "" {
		topic = DefaultAlertTopic
	}
	return &AlertPublisher{publisher: publisher, topic: topic, logger: logger}
}

// AlertMessage is the value of an alert record.
type AlertMessage struct {
	GeneratedAt time.Time     `json:"generated_at"`
	SnapshotID  string        `json:"snapshot_id"`
	Alert       lakemon.Alert `json:"alert"`
	Days        int           `json:"days"`
}

// Name implements lakemon.AlertSink.
func (ap *AlertPublisher) Name() string {
	return "kafka"
}

// Send implements lakemon.AlertSink.
func (ap *AlertPublisher) Send(ctx context.Context, batch *lakemon.AlertBatch) error {
	if len(batch.Alerts) == 0 {
		return nil
	}
	records := make([]lakemon.Record, 0, len(batch.Alerts))
	for i := range batch.Alerts {
		value, err := json.Marshal(AlertMessage{
			GeneratedAt: batch.GeneratedAt,
			SnapshotID:  batch.SnapshotID,
			Days:        batch.Days,
			Alert:       batch.Alerts[i],
		})
		if err != nil {
			return fmt.Errorf("kafka: marshal alert: %w", err)
		}
		records = append(records, lakemon.Record{
			Topic:       ap.topic,
			OrderingKey: []byte(batch.Alerts[i].Category),
			Value:       value,
		})
	}

	ctx = Enrich(ctx, "snapshot_id", batch.SnapshotID)
	if err := ap.publisher.Produce(ctx, records...); err != nil {
		return fmt.Errorf("kafka: publish alerts: %w", err)
	}
	ap.logger.Debug("alerts published", slog.String("topic", ap.topic), slog.Int("records", len(records)))
	return nil
}
