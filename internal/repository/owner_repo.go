package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/timecapsule/internal/domain"
	"gorm.io/gorm"
)

type OwnerRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Owner, error)
	ConsumeFreeMessage(ctx context.Context, id string) error
	ReleaseFreeMessage(ctx context.Context, id string) error
	ApplyStorageDelta(ctx context.Context, id string, delta int64) error
	UpgradeToPaid(ctx context.Context, id string, quotaBytes int64) error
}

type GormOwnerRepo struct {
	db *gorm.DB
}

func NewGormOwnerRepo(db *gorm.DB) *GormOwnerRepo {
	return &GormOwnerRepo{db: db}
}

func (r *GormOwnerRepo) GetByID(ctx context.Context, id string) (*domain.Owner, error) {
	var model OwnerModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ownerModelToDomain(&model), nil
}

// ConsumeFreeMessage flips free_message_used from false to true. Zero affected
// rows means a concurrent request already consumed it.
func (r *GormOwnerRepo) ConsumeFreeMessage(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&OwnerModel{}).
		Where("id = ? AND free_message_used = ?", id, false).
		Update("free_message_used", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrFreeTierConsumed
	}
	return nil
}

func (r *GormOwnerRepo) ReleaseFreeMessage(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&OwnerModel{}).
		Where("id = ? AND free_message_used = ?", id, true).
		Update("free_message_used", false).Error
}

// ApplyStorageDelta adds delta to storage_used_bytes with a floor of zero.
// Positive deltas only apply while the result stays within quota.
func (r *GormOwnerRepo) ApplyStorageDelta(ctx context.Context, id string, delta int64) error {
	query := r.db.WithContext(ctx).Model(&OwnerModel{}).Where("id = ?", id)
	if delta > 0 {
		query = query.Where("storage_used_bytes + ? <= storage_quota_bytes", delta)
	}

	result := query.Update("storage_used_bytes", gorm.Expr("GREATEST(storage_used_bytes + ?, 0)", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrQuotaExceeded
}

// UpgradeToPaid is idempotent and never lowers an existing quota.
func (r *GormOwnerRepo) UpgradeToPaid(ctx context.Context, id string, quotaBytes int64) error {
	result := r.db.WithContext(ctx).
		Model(&OwnerModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"tier":                domain.TierPaid,
			"storage_quota_bytes": gorm.Expr("GREATEST(storage_quota_bytes, ?)", quotaBytes),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
