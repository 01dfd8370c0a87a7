package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_delivery_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`ALTER TABLE delivery_attempts ADD CONSTRAINT fk_attempts_message FOREIGN KEY (message_id) REFERENCES messages (id) ON DELETE CASCADE`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_message_number ON delivery_attempts (message_id, attempt_number)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_delivered ON delivery_attempts (message_id) WHERE status = 'delivered'`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_created_at ON delivery_attempts (created_at)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryAttemptModel{})
		},
	}
}
