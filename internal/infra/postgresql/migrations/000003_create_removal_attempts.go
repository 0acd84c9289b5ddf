package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/optoutly/removal-engine/internal/repository"
)

func createRemovalAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_removal_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RemovalAttemptModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_removal_attempts_removal_id ON removal_attempts (removal_id)`,
				`CREATE INDEX IF NOT EXISTS idx_removal_attempts_broker_created ON removal_attempts (broker_key, created_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RemovalAttemptModel{})
		},
	}
}
