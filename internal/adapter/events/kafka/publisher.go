package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"nebripop-wallet-service/internal/core/domain"

	"github.com/segmentio/kafka-go"
)

// Publisher emits transaction events to Kafka. It implements
// ports.EventPublisher.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Kafka publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish writes one transaction event, keyed by user ID so events for
// a user stay ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, event domain.TransactionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.UserID, 10)),
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
