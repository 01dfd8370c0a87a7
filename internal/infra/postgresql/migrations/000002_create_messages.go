package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"gorm.io/gorm"
)

func createMessagesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_messages",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MessageModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`ALTER TABLE messages ADD CONSTRAINT fk_messages_owner FOREIGN KEY (owner_id) REFERENCES owners (id) ON DELETE CASCADE`,
				`ALTER TABLE messages ADD CONSTRAINT chk_messages_status CHECK (status IN ('pending', 'delivered', 'failed'))`,
				`ALTER TABLE messages ADD CONSTRAINT chk_messages_body_length CHECK (char_length(body) <= 10000)`,
				`CREATE INDEX IF NOT EXISTS idx_messages_due ON messages (deliver_on, created_at) WHERE status IN ('pending', 'failed')`,
				`CREATE INDEX IF NOT EXISTS idx_messages_owner ON messages (owner_id, deliver_on)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MessageModel{})
		},
	}
}
