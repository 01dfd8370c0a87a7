package domain

import "time"

// AttemptStatus is the state of one entry in the idempotency ledger.
type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusDelivered AttemptStatus = "delivered"
	AttemptStatusSent      AttemptStatus = "sent"
	AttemptStatusBounced   AttemptStatus = "bounced"
	AttemptStatusFailed    AttemptStatus = "failed"
)

func (s AttemptStatus) String() string { return string(s) }

func (s AttemptStatus) IsValid() bool {
	switch s {
	case AttemptStatusPending, AttemptStatusDelivered, AttemptStatusSent, AttemptStatusBounced, AttemptStatusFailed:
		return true
	}
	return false
}

// DeliveryAttempt records one try at delivering a message. Attempt numbers
// form a dense 1..N sequence per message and rows are never updated except to
// move out of pending.
type DeliveryAttempt struct {
	ID                string
	MessageID         string
	AttemptNumber     int
	Status            AttemptStatus
	ProviderMessageID *string
	ErrorDetail       *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
