package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"

	"ms-admission/internal/issuance"
)

// Consumer reads finalized registrations from the purchase collaborator
// and feeds them to issuance.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// Start consumes until the context is cancelled.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, fin issuance.Finalization)) {
	log.Println("Kafka consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error reading message: %v", err)
			continue
		}

		var fin issuance.Finalization
		if err := json.Unmarshal(msg.Value, &fin); err != nil {
			log.Printf("Failed to unmarshal finalization: %v", err)
			continue
		}

		handler(ctx, fin)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
