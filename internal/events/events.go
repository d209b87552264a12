package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Actions carried by mutation events.
const (
	ActionSchedulesCreated = "schedules.created"
	ActionScheduleUpdated  = "schedule.updated"
	ActionScheduleDeleted  = "schedule.deleted"
)

// MutationEvent describes one committed schedule mutation. Events are keyed
// by deployment id so all mutations of a deployment land on one partition in
// commit order.
type MutationEvent struct {
	Action       string      `json:"action"`
	DeploymentID uuid.UUID   `json:"deploymentId"`
	ScheduleIDs  []uuid.UUID `json:"scheduleIds"`
	Invalidated  bool        `json:"invalidated"`
	OccurredAt   time.Time   `json:"occurredAt"`
}

// Publisher emits mutation events. Emission is best-effort: the coordinator
// never fails a committed mutation because its event could not be delivered.
type Publisher interface {
	Publish(ctx context.Context, ev MutationEvent) error
	Close() error
}

// KafkaPublisherConfig configures the Kafka-backed Publisher.
type KafkaPublisherConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic is the topic mutation events are written to.
	Topic string

	// WriteTimeout is the per-write timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// messageWriter is the subset of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher wraps a segmentio/kafka-go Writer. Messages with the same
// deployment key hash to the same partition, preserving per-deployment order.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})
	return &KafkaPublisher{writer: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev MutationEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.DeploymentID.String()),
		Value: value,
		Time:  ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
