package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/metrics"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// ItemEvent represents a lifecycle event about a linked connection
type ItemEvent struct {
	EventType     string          `json:"event_type"` // linked, status_changed, sync_completed
	ClientID      string          `json:"client_id"`
	ItemID        string          `json:"item_id"`
	InstitutionID string          `json:"institution_id,omitempty"`
	Status        string          `json:"status,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// PublishItemEvent publishes an item event to Kafka
func (p *Producer) PublishItemEvent(ctx context.Context, event *ItemEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishItemEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.ItemID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "client_id", Value: []byte(event.ClientID)},
		},
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish item event")
		return err
	}
	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"item_id":    event.ItemID,
		"client_id":  event.ClientID,
	}).Debug("Published item event")

	return nil
}
