package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/domain"
	"gorm.io/gorm"
)

type PaymentRepository interface {
	GetByCheckoutSession(ctx context.Context, sessionID string) (*domain.Payment, error)
	CreatePending(ctx context.Context, p *domain.Payment) error
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string) error
}

type GormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) *GormPaymentRepo {
	return &GormPaymentRepo{db: db}
}

// GetByCheckoutSession looks the payment up without a status filter.
func (r *GormPaymentRepo) GetByCheckoutSession(ctx context.Context, sessionID string) (*domain.Payment, error) {
	var model PaymentModel
	err := r.db.WithContext(ctx).
		Where("checkout_session_id = ?", sessionID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return paymentModelToDomain(&model), nil
}

func (r *GormPaymentRepo) CreatePending(ctx context.Context, p *domain.Payment) error {
	model := paymentModelFromDomain(p)
	model.Status = domain.PaymentStatusPending
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	*p = *paymentModelToDomain(model)
	return nil
}

func (r *GormPaymentRepo) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ? AND status = ?", id, domain.PaymentStatusPending).
		Updates(map[string]any{
			"status":       domain.PaymentStatusCompleted,
			"completed_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormPaymentRepo) MarkFailed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ? AND status = ?", id, domain.PaymentStatusPending).
		Update("status", domain.PaymentStatusFailed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}
