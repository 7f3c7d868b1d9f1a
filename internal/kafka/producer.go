package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-admission/internal/models"
)

// Producer streams issuance and admission events to collaborators
// (analytics, email delivery). It is strictly after-the-fact: nothing on
// the admission-decision path waits on Kafka.
type Producer struct {
	Writer *kafka.Writer
}

// NewProducer creates a producer that routes messages by per-message topic.
func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer}
}

type ticketEvent struct {
	TicketID   string    `json:"ticket_id"`
	EventID    string    `json:"event_id"`
	TicketType string    `json:"ticket_type"`
	HolderRef  string    `json:"holder_ref"`
	Status     string    `json:"status"`
	DeviceID   string    `json:"device_id,omitempty"`
	RedeemedAt time.Time `json:"redeemed_at,omitzero"`
	IssuedAt   time.Time `json:"issued_at"`
}

// TicketIssued publishes a credential-minted event. The event carries no
// credential secret.
func (p *Producer) TicketIssued(ctx context.Context, ticket *models.Ticket) error {
	return p.publish(ctx, TopicTicketIssued, ticket.TicketID, ticketEvent{
		TicketID:   ticket.TicketID,
		EventID:    ticket.EventID,
		TicketType: ticket.TicketType,
		HolderRef:  ticket.HolderRef,
		Status:     ticket.Status,
		IssuedAt:   ticket.IssuedAt,
	})
}

// TicketAdmitted publishes a successful redemption.
func (p *Producer) TicketAdmitted(ctx context.Context, ticket *models.Ticket, deviceID string) error {
	return p.publish(ctx, TopicTicketAdmitted, ticket.TicketID, ticketEvent{
		TicketID:   ticket.TicketID,
		EventID:    ticket.EventID,
		TicketType: ticket.TicketType,
		HolderRef:  ticket.HolderRef,
		Status:     ticket.Status,
		DeviceID:   deviceID,
		RedeemedAt: ticket.RedeemedAt,
		IssuedAt:   ticket.IssuedAt,
	})
}

func (p *Producer) publish(ctx context.Context, topic, key string, event ticketEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
