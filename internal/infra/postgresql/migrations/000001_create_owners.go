package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"gorm.io/gorm"
)

func createOwnersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_owners",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.OwnerModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`ALTER TABLE owners ADD CONSTRAINT chk_owners_storage_used_non_negative CHECK (storage_used_bytes >= 0)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_owners_email ON owners (email)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.OwnerModel{})
		},
	}
}
