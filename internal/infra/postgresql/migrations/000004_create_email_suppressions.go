package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/optoutly/removal-engine/internal/repository"
)

func createEmailSuppressionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_email_suppressions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EmailSuppressionModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_email_suppressions_suppressed ON email_suppressions (last_bounced_at) WHERE suppressed = true`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EmailSuppressionModel{})
		},
	}
}
