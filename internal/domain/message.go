package domain

import (
	"fmt"
	"strings"
	"time"
)

// MessageStatus is the lifecycle state of a message. It is a projection of the
// delivery ledger; the ledger stays authoritative.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
)

func (s MessageStatus) String() string { return string(s) }

func (s MessageStatus) IsValid() bool {
	switch s {
	case MessageStatusPending, MessageStatusDelivered, MessageStatusFailed:
		return true
	}
	return false
}

func ParseMessageStatus(s string) (MessageStatus, error) {
	st := MessageStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid message status %q", ErrValidation, s)
	}
	return st, nil
}

const (
	MaxBodyLength      = 10000
	MaxRecipientLength = 254

	// DateLayout is the wire format of a delivery date.
	DateLayout = "2006-01-02"
)

// Message is a time-locked message waiting for its delivery date.
type Message struct {
	ID                   string
	OwnerID              string
	Body                 string
	VideoKey             *string
	VideoSizeBytes       int64
	VideoDurationSeconds *int
	RecipientEmail       string
	DeliverOn            time.Time
	Status               MessageStatus
	DeliveredAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (m *Message) HasVideo() bool {
	return m != nil && m.VideoKey != nil && strings.TrimSpace(*m.VideoKey) != ""
}

// IsDue reports whether the message is scheduled on or before asOf.
func (m *Message) IsDue(asOf time.Time) bool {
	return !DateOf(m.DeliverOn).After(DateOf(asOf))
}

// Validate checks a message at creation time.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if !ValidRecipient(m.RecipientEmail) {
		return fmt.Errorf("%w: recipient email %q is invalid", ErrValidation, m.RecipientEmail)
	}
	if len(m.RecipientEmail) > MaxRecipientLength {
		return fmt.Errorf("%w: recipient email exceeds %d characters", ErrValidation, MaxRecipientLength)
	}
	if bodyLen := len([]rune(m.Body)); bodyLen > MaxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters (got %d)", ErrValidation, MaxBodyLength, bodyLen)
	}
	if m.DeliverOn.IsZero() {
		return fmt.Errorf("%w: delivery date is required", ErrValidation)
	}
	if m.VideoSizeBytes < 0 {
		return fmt.Errorf("%w: video size must not be negative", ErrValidation)
	}
	return nil
}

// ValidRecipient reports whether addr has a non-empty local part and domain
// around an @ separator.
func ValidRecipient(addr string) bool {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	return at > 0 && at < len(addr)-1
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	return t, nil
}
