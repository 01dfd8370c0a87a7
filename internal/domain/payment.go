package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) String() string { return string(s) }

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	}
	return false
}

// Payment tracks one checkout session through (absent) -> pending -> completed
// or pending -> failed.
type Payment struct {
	ID                string
	OwnerID           string
	CheckoutSessionID string
	Status            PaymentStatus
	AmountTotal       int64
	Currency          string
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
