package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-monitor-service/internal/config"
	"github.com/couchcryptid/quake-monitor-service/internal/domain"
)

// AlertPublisher produces alert records to a Kafka topic.
type AlertPublisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewAlertPublisher creates a Kafka producer for the configured alert topic.
func NewAlertPublisher(cfg *config.Config, logger *slog.Logger) *AlertPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	return &AlertPublisher{writer: w, logger: logger}
}

// Publish serializes and writes one alert. Alerts for the same event share a
// key and so land on the same partition.
func (p *AlertPublisher) Publish(ctx context.Context, alert domain.AlertRecord) error {
	msg, err := serializeToMessage(alert)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.AlertID, err)
	}
	p.logger.Debug("alert published", "alert_id", alert.AlertID, "topic", p.writer.Topic)
	return nil
}

func (p *AlertPublisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals an AlertRecord into a Kafka message.
func serializeToMessage(alert domain.AlertRecord) (kafkago.Message, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(alert.EventID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "task", Value: []byte(alert.Task.String())},
			{Key: "detected_at", Value: []byte(alert.DetectedAt.Format(time.RFC3339))},
		},
	}, nil
}
