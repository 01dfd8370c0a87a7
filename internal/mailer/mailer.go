package mailer

import (
	"context"
	"fmt"
	"strings"
)

// Email is one composed outbound message.
type Email struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	// IdempotencyKey lets the provider drop a resend of the same attempt.
	IdempotencyKey string
}

// SendResult carries the provider-assigned identity of an accepted email.
type SendResult struct {
	ProviderMessageID string
	StatusCode        int
}

// Transport is the outbound email port. Implementations normalize provider
// failures into *TransportError.
type Transport interface {
	Name() string
	Send(ctx context.Context, email Email) (*SendResult, error)
}

func (e Email) validate() error {
	if strings.TrimSpace(e.From) == "" {
		return fmt.Errorf("from address is required")
	}
	if strings.TrimSpace(e.To) == "" {
		return fmt.Errorf("recipient is required")
	}
	return nil
}
