package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"gorm.io/gorm"
)

// The CHECK constraint pins the table to a single row; the primary key makes
// a second insert conflict.
func createBatchLocksTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_batch_locks",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchLockModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`ALTER TABLE batch_locks ADD CONSTRAINT chk_batch_locks_singleton CHECK (id = 1)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchLockModel{})
		},
	}
}
