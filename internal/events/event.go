package events

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// ExchangeName is the durable topic exchange every delivery event goes through.
	ExchangeName = "timecapsule.events"

	RoutingKeyDelivered = "message.delivered"

	// DeliveredQueueName holds delivered events for downstream consumers.
	DeliveredQueueName = "timecapsule.message.delivered"
)

// DeliveryEvent is published after the ledger records a delivered attempt.
type DeliveryEvent struct {
	MessageID         string    `json:"messageId"`
	OwnerID           string    `json:"ownerId"`
	AttemptNumber     int       `json:"attemptNumber"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	DeliveredAt       time.Time `json:"deliveredAt"`
}

func (e DeliveryEvent) Validate() error {
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if strings.TrimSpace(e.OwnerID) == "" {
		return fmt.Errorf("ownerId is required")
	}
	if e.AttemptNumber < 1 {
		return fmt.Errorf("attemptNumber must be positive")
	}
	if e.DeliveredAt.IsZero() {
		return fmt.Errorf("deliveredAt is required")
	}
	return nil
}

// IdempotencyKey matches the key sent to the email provider for the same attempt.
func (e DeliveryEvent) IdempotencyKey() string {
	return fmt.Sprintf("%s-%d", e.MessageID, e.AttemptNumber)
}

type Publisher interface {
	PublishDelivered(ctx context.Context, event DeliveryEvent) error
	Close() error
}

// NopPublisher drops every event. Used when RABBITMQ_URL is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishDelivered(context.Context, DeliveryEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
