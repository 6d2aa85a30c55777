package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/phone-notifier/internal/repository"
	"gorm.io/gorm"
)

func createStatusEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_status_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.StatusEventModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_status_events_record_id ON status_events (record_id, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.StatusEventModel{})
		},
	}
}
