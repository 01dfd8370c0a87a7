package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/domain"
	"gorm.io/gorm"
)

// DueParams bounds one selection of due messages.
type DueParams struct {
	AsOf  time.Time
	Limit int
	// IncludeFailed also selects failed messages whose highest attempt
	// number is below MaxAttempts.
	IncludeFailed bool
	MaxAttempts   int
}

type ListParams struct {
	Status   *domain.MessageStatus
	Page     int
	PageSize int
}

type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	ListByOwner(ctx context.Context, ownerID string, params ListParams) ([]domain.Message, int64, error)
	Delete(ctx context.Context, id string) error
	DeletePending(ctx context.Context, ownerID string, id string) (*domain.Message, error)
	SelectDue(ctx context.Context, params DueParams) ([]domain.Message, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string) error
	ListStaleProjections(ctx context.Context, limit int) ([]domain.Message, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) Create(ctx context.Context, m *domain.Message) error {
	model := messageModelFromDomain(m)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if m != nil {
		*m = *messageModelToDomain(model)
	}
	return nil
}

func (r *GormMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) ListByOwner(ctx context.Context, ownerID string, params ListParams) ([]domain.Message, int64, error) {
	query := r.db.WithContext(ctx).Model(&MessageModel{}).Where("owner_id = ?", ownerID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []MessageModel
	err := query.
		Order("deliver_on ASC, created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return messagesToDomain(models), total, nil
}

// Delete removes a message regardless of status. It exists for undo steps.
func (r *GormMessageRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&MessageModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeletePending removes a still-pending message owned by ownerID and returns
// the deleted row. A message that has left pending yields ErrConflict.
func (r *GormMessageRepo) DeletePending(ctx context.Context, ownerID string, id string) (*domain.Message, error) {
	var deleted *domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model MessageModel
		err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		result := tx.Where("id = ? AND status = ?", id, domain.MessageStatusPending).Delete(&MessageModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}
		deleted = messageModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *GormMessageRepo) SelectDue(ctx context.Context, params DueParams) ([]domain.Message, error) {
	if params.Limit <= 0 {
		return nil, nil
	}

	asOf := domain.DateOf(params.AsOf).Format(domain.DateLayout)
	query := r.db.WithContext(ctx).Where("deliver_on <= CAST(? AS date)", asOf)
	if params.IncludeFailed {
		query = query.Where(
			"status = ? OR (status = ? AND (SELECT COALESCE(MAX(a.attempt_number), 0) FROM delivery_attempts a WHERE a.message_id = messages.id) < ?)",
			domain.MessageStatusPending, domain.MessageStatusFailed, params.MaxAttempts,
		)
	} else {
		query = query.Where("status = ?", domain.MessageStatusPending)
	}

	var models []MessageModel
	err := query.
		Order("deliver_on ASC, created_at ASC, id ASC").
		Limit(params.Limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return messagesToDomain(models), nil
}

func (r *GormMessageRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.MessageStatusDelivered,
			"delivered_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed never downgrades a delivered message.
func (r *GormMessageRepo) MarkFailed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ? AND status <> ?", id, domain.MessageStatusDelivered).
		Update("status", domain.MessageStatusFailed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ListStaleProjections returns messages whose status disagrees with a
// delivered ledger row.
func (r *GormMessageRepo) ListStaleProjections(ctx context.Context, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("status <> ?", domain.MessageStatusDelivered).
		Where("EXISTS (SELECT 1 FROM delivery_attempts a WHERE a.message_id = messages.id AND a.status = ?)", domain.AttemptStatusDelivered).
		Order("deliver_on ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return messagesToDomain(models), nil
}

func messagesToDomain(models []MessageModel) []domain.Message {
	messages := make([]domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}
	return messages
}
