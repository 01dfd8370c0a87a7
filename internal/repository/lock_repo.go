package repository

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/timecapsule/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchLockRowID = 1

// GormBatchLock is the batch mutex backed by the singleton batch_locks row.
// Acquisition is a single INSERT ... ON CONFLICT DO NOTHING, so the
// check-and-create is atomic in the database.
type GormBatchLock struct {
	db     *gorm.DB
	holder string
	now    func() time.Time
}

func NewGormBatchLock(db *gorm.DB) *GormBatchLock {
	holder, err := os.Hostname()
	if err != nil || holder == "" {
		holder = "unknown"
	}
	return &GormBatchLock{db: db, holder: fmt.Sprintf("%s/%d", holder, os.Getpid()), now: time.Now}
}

func (l *GormBatchLock) Acquire(ctx context.Context) (*domain.LockHandle, error) {
	model := &BatchLockModel{
		ID:         batchLockRowID,
		Token:      uuid.NewString(),
		Holder:     l.holder,
		AcquiredAt: l.now().UTC(),
	}

	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to acquire batch lock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrAlreadyLocked
	}

	return &domain.LockHandle{Token: model.Token, Holder: model.Holder, AcquiredAt: model.AcquiredAt}, nil
}

// Release deletes the row only if it still carries the handle's token.
// Releasing a missing or foreign lock is a no-op.
func (l *GormBatchLock) Release(ctx context.Context, handle *domain.LockHandle) error {
	if handle == nil {
		return nil
	}

	err := l.db.WithContext(ctx).
		Where("id = ? AND token = ?", batchLockRowID, handle.Token).
		Delete(&BatchLockModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to release batch lock: %w", err)
	}
	return nil
}
