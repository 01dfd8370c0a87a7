package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"gorm.io/gorm"
)

func createPaymentsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_payments",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PaymentModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`ALTER TABLE payments ADD CONSTRAINT fk_payments_owner FOREIGN KEY (owner_id) REFERENCES owners (id) ON DELETE CASCADE`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_checkout_session ON payments (checkout_session_id)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PaymentModel{})
		},
	}
}
