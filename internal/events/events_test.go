package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func validEvent() DeliveryEvent {
	return DeliveryEvent{
		MessageID:         "msg-1",
		OwnerID:           "owner-1",
		AttemptNumber:     2,
		ProviderMessageID: "prov-9",
		DeliveredAt:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestDeliveryEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(e *DeliveryEvent)
		wantErr bool
	}{
		{name: "valid", mutate: func(*DeliveryEvent) {}},
		{name: "missing message id", mutate: func(e *DeliveryEvent) { e.MessageID = " " }, wantErr: true},
		{name: "missing owner id", mutate: func(e *DeliveryEvent) { e.OwnerID = "" }, wantErr: true},
		{name: "zero attempt", mutate: func(e *DeliveryEvent) { e.AttemptNumber = 0 }, wantErr: true},
		{name: "zero time", mutate: func(e *DeliveryEvent) { e.DeliveredAt = time.Time{} }, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			event := validEvent()
			tc.mutate(&event)
			err := event.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewPublishing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC)
	publishing, err := newPublishing(validEvent(), now)
	if err != nil {
		t.Fatalf("newPublishing error: %v", err)
	}

	if publishing.DeliveryMode != amqp.Persistent {
		t.Fatalf("delivery mode = %d, want persistent", publishing.DeliveryMode)
	}
	if publishing.MessageId != "msg-1-2" {
		t.Fatalf("message id = %q, want msg-1-2", publishing.MessageId)
	}
	if publishing.CorrelationId != "msg-1" {
		t.Fatalf("correlation id = %q, want msg-1", publishing.CorrelationId)
	}
	if !publishing.Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v, want %v", publishing.Timestamp, now)
	}

	var decoded DeliveryEvent
	if err := json.Unmarshal(publishing.Body, &decoded); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if decoded.ProviderMessageID != "prov-9" || decoded.AttemptNumber != 2 {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
}

func TestNewPublishingRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	event := validEvent()
	event.OwnerID = ""
	if _, err := newPublishing(event, time.Now()); err == nil {
		t.Fatal("expected error for invalid event")
	}
}

func TestNewRabbitMQRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRabbitMQ(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestNilPublisher(t *testing.T) {
	t.Parallel()

	var p *RabbitMQPublisher
	if err := p.PublishDelivered(context.Background(), validEvent()); err == nil {
		t.Fatal("expected error from nil publisher")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close on nil publisher: %v", err)
	}

	var nop Publisher = NopPublisher{}
	if err := nop.PublishDelivered(context.Background(), validEvent()); err != nil {
		t.Fatalf("NopPublisher error: %v", err)
	}
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	if got := nextBackoff(time.Second); got != 2*time.Second {
		t.Fatalf("nextBackoff(1s) = %v, want 2s", got)
	}
	if got := nextBackoff(20 * time.Second); got != maxBackoff {
		t.Fatalf("nextBackoff(20s) = %v, want %v", got, maxBackoff)
	}
}
