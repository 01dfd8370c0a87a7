package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/timecapsule/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttemptRepository is the idempotency ledger. It is the only authority on
// whether a message was delivered.
type AttemptRepository interface {
	IsDelivered(ctx context.Context, messageID string) (bool, error)
	BeginAttempt(ctx context.Context, messageID string) (int, error)
	CompleteAttempt(ctx context.Context, messageID string, attemptNumber int, providerMessageID string) error
	FailAttempt(ctx context.Context, messageID string, attemptNumber int, detail string) error
	ListByMessage(ctx context.Context, messageID string) ([]domain.DeliveryAttempt, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormAttemptRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db, now: time.Now}
}

func (r *GormAttemptRepo) IsDelivered(ctx context.Context, messageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Where("message_id = ? AND status = ?", messageID, domain.AttemptStatusDelivered).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// BeginAttempt appends a pending row numbered one past the highest existing
// attempt, so numbering survives the retention sweep removing older rows. The
// message row is locked for the duration so concurrent callers cannot claim
// the same number.
func (r *GormAttemptRepo) BeginAttempt(ctx context.Context, messageID string) (int, error) {
	var attemptNumber int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg MessageModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&msg, "id = ?", messageID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		var last int
		err = tx.Model(&DeliveryAttemptModel{}).
			Select("COALESCE(MAX(attempt_number), 0)").
			Where("message_id = ?", messageID).
			Row().
			Scan(&last)
		if err != nil {
			return err
		}

		now := r.now().UTC()
		attemptNumber = last + 1
		model := &DeliveryAttemptModel{
			ID:            uuid.NewString(),
			MessageID:     messageID,
			AttemptNumber: attemptNumber,
			Status:        domain.AttemptStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(model).Error; err != nil {
			if IsUniqueViolation(err) {
				return fmt.Errorf("%w: attempt %d for message %s already exists", domain.ErrConflict, attemptNumber, messageID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attemptNumber, nil
}

func (r *GormAttemptRepo) CompleteAttempt(ctx context.Context, messageID string, attemptNumber int, providerMessageID string) error {
	updates := map[string]any{"status": domain.AttemptStatusDelivered}
	if providerMessageID != "" {
		updates["provider_message_id"] = providerMessageID
	}
	return r.transition(ctx, messageID, attemptNumber, updates)
}

func (r *GormAttemptRepo) FailAttempt(ctx context.Context, messageID string, attemptNumber int, detail string) error {
	return r.transition(ctx, messageID, attemptNumber, map[string]any{
		"status":       domain.AttemptStatusFailed,
		"error_detail": detail,
	})
}

// transition moves exactly the addressed pending row.
func (r *GormAttemptRepo) transition(ctx context.Context, messageID string, attemptNumber int, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Where("message_id = ? AND attempt_number = ? AND status = ?", messageID, attemptNumber, domain.AttemptStatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: pending attempt %d for message %s", domain.ErrNotFound, attemptNumber, messageID)
	}
	return nil
}

func (r *GormAttemptRepo) ListByMessage(ctx context.Context, messageID string) ([]domain.DeliveryAttempt, error) {
	var models []DeliveryAttemptModel
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

// DeleteOlderThan is the retention sweep. It ignores message status.
func (r *GormAttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&DeliveryAttemptModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
