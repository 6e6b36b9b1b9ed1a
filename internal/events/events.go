// Package events publishes transaction lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"payments/internal/domain"
)

// DefaultTopic carries every transaction and refund change.
const DefaultTopic = "payments.transaction.updated"

// Event types.
const (
	TypeTransactionCreated = "transaction.created"
	TypeTransactionUpdated = "transaction.updated"
	TypeRefundCreated      = "refund.created"
	TypeRefundUpdated      = "refund.updated"
)

// Event is the message body. Exactly one of Transaction or Refund is set.
type Event struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	Source      string              `json:"source"`
	OccurredAt  time.Time           `json:"occurred_at"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	Refund      *domain.Refund      `json:"refund,omitempty"`
}

// NewTransactionEvent builds a transaction event.
func NewTransactionEvent(eventType, source string, tx *domain.Transaction) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Source:      source,
		OccurredAt:  time.Now().UTC(),
		Transaction: tx,
	}
}

// NewRefundEvent builds a refund event.
func NewRefundEvent(eventType, source string, r *domain.Refund) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Source:     source,
		OccurredAt: time.Now().UTC(),
		Refund:     r,
	}
}

// key partitions by transaction so consumers see one transaction's events in order.
func (e Event) key() string {
	switch {
	case e.Transaction != nil:
		return e.Transaction.ID
	case e.Refund != nil:
		return e.Refund.TransactionID
	}
	return e.ID
}

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON.
type KafkaPublisher struct {
	writer Writer
	logger *zap.Logger
}

// NewKafkaPublisher connects a writer to the given brokers (comma separated).
func NewKafkaPublisher(brokers, topic string, logger *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return NewKafkaPublisherWithWriter(w, logger)
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(w Writer, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

// Publish writes one event.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.key()),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("event_id", e.ID),
			zap.String("event_type", e.Type),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events. Used when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
