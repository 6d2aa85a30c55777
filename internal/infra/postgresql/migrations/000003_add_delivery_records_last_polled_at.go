package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/phone-notifier/internal/repository"
	"gorm.io/gorm"
)

func addDeliveryRecordsLastPolledAt() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_delivery_records_last_polled_at",
		Migrate: func(tx *gorm.DB) error {
			// 000001 auto-migrates the current model, so fresh databases already have the column.
			if !tx.Migrator().HasColumn(&repository.DeliveryRecordModel{}, "LastPolledAt") {
				if err := tx.Migrator().AddColumn(&repository.DeliveryRecordModel{}, "LastPolledAt"); err != nil {
					return err
				}
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_delivery_records_poll_queue ON delivery_records (kind, status, provider_alias, (COALESCE(last_polled_at, updated_at))) WHERE vendor_correlation_id IS NOT NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Exec(`DROP INDEX IF EXISTS idx_delivery_records_poll_queue`).Error; err != nil {
				return err
			}
			return tx.Migrator().DropColumn(&repository.DeliveryRecordModel{}, "LastPolledAt")
		},
	}
}
