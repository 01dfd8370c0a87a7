package repository

import (
	"time"

	"github.com/kursadbilgin/timecapsule/internal/domain"
)

// MessageModel is the persistence model for the messages table.
type MessageModel struct {
	ID                   string               `gorm:"type:uuid;primaryKey"`
	OwnerID              string               `gorm:"type:uuid;not null"`
	Body                 string               `gorm:"type:text;not null;default:''"`
	VideoKey             *string              `gorm:"type:varchar(512)"`
	VideoSizeBytes       int64                `gorm:"not null;default:0"`
	VideoDurationSeconds *int                 `gorm:"type:int"`
	RecipientEmail       string               `gorm:"type:varchar(254);not null"`
	DeliverOn            time.Time            `gorm:"type:date;not null"`
	Status               domain.MessageStatus `gorm:"type:varchar(20);not null"`
	DeliveredAt          *time.Time           `gorm:"type:timestamptz"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (MessageModel) TableName() string {
	return "messages"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts, the
// idempotency ledger.
type DeliveryAttemptModel struct {
	ID                string               `gorm:"type:uuid;primaryKey"`
	MessageID         string               `gorm:"type:uuid;not null"`
	AttemptNumber     int                  `gorm:"not null"`
	Status            domain.AttemptStatus `gorm:"type:varchar(20);not null"`
	ProviderMessageID *string              `gorm:"type:varchar(255)"`
	ErrorDetail       *string              `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

// BatchLockModel is the singleton row backing the batch mutex. The table
// carries CHECK (id = 1) so at most one row can ever exist.
type BatchLockModel struct {
	ID         int16     `gorm:"primaryKey;autoIncrement:false"`
	Token      string    `gorm:"type:uuid;not null"`
	Holder     string    `gorm:"type:varchar(255);not null"`
	AcquiredAt time.Time `gorm:"type:timestamptz;not null"`
}

func (BatchLockModel) TableName() string {
	return "batch_locks"
}

type OwnerModel struct {
	ID                string      `gorm:"type:uuid;primaryKey"`
	Email             string      `gorm:"type:varchar(254);not null"`
	Tier              domain.Tier `gorm:"type:varchar(10);not null;default:'free'"`
	FreeMessageUsed   bool        `gorm:"not null;default:false"`
	StorageUsedBytes  int64       `gorm:"not null;default:0"`
	StorageQuotaBytes int64       `gorm:"not null;default:0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (OwnerModel) TableName() string {
	return "owners"
}

type PaymentModel struct {
	ID                string               `gorm:"type:uuid;primaryKey"`
	OwnerID           string               `gorm:"type:uuid;not null"`
	CheckoutSessionID string               `gorm:"type:varchar(255);not null"`
	Status            domain.PaymentStatus `gorm:"type:varchar(20);not null"`
	AmountTotal       int64                `gorm:"not null;default:0"`
	Currency          string               `gorm:"type:varchar(10);not null;default:''"`
	CompletedAt       *time.Time           `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (PaymentModel) TableName() string {
	return "payments"
}

func messageModelFromDomain(m *domain.Message) *MessageModel {
	if m == nil {
		return nil
	}

	return &MessageModel{
		ID:                   m.ID,
		OwnerID:              m.OwnerID,
		Body:                 m.Body,
		VideoKey:             m.VideoKey,
		VideoSizeBytes:       m.VideoSizeBytes,
		VideoDurationSeconds: m.VideoDurationSeconds,
		RecipientEmail:       m.RecipientEmail,
		DeliverOn:            domain.DateOf(m.DeliverOn),
		Status:               m.Status,
		DeliveredAt:          m.DeliveredAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func messageModelToDomain(m *MessageModel) *domain.Message {
	if m == nil {
		return nil
	}

	return &domain.Message{
		ID:                   m.ID,
		OwnerID:              m.OwnerID,
		Body:                 m.Body,
		VideoKey:             m.VideoKey,
		VideoSizeBytes:       m.VideoSizeBytes,
		VideoDurationSeconds: m.VideoDurationSeconds,
		RecipientEmail:       m.RecipientEmail,
		DeliverOn:            domain.DateOf(m.DeliverOn),
		Status:               m.Status,
		DeliveredAt:          m.DeliveredAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:                m.ID,
		MessageID:         m.MessageID,
		AttemptNumber:     m.AttemptNumber,
		Status:            m.Status,
		ProviderMessageID: m.ProviderMessageID,
		ErrorDetail:       m.ErrorDetail,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func ownerModelToDomain(m *OwnerModel) *domain.Owner {
	if m == nil {
		return nil
	}

	return &domain.Owner{
		ID:                m.ID,
		Email:             m.Email,
		Tier:              m.Tier,
		FreeMessageUsed:   m.FreeMessageUsed,
		StorageUsedBytes:  m.StorageUsedBytes,
		StorageQuotaBytes: m.StorageQuotaBytes,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	if p == nil {
		return nil
	}

	return &PaymentModel{
		ID:                p.ID,
		OwnerID:           p.OwnerID,
		CheckoutSessionID: p.CheckoutSessionID,
		Status:            p.Status,
		AmountTotal:       p.AmountTotal,
		Currency:          p.Currency,
		CompletedAt:       p.CompletedAt,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func paymentModelToDomain(m *PaymentModel) *domain.Payment {
	if m == nil {
		return nil
	}

	return &domain.Payment{
		ID:                m.ID,
		OwnerID:           m.OwnerID,
		CheckoutSessionID: m.CheckoutSessionID,
		Status:            m.Status,
		AmountTotal:       m.AmountTotal,
		Currency:          m.Currency,
		CompletedAt:       m.CompletedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
