package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/optoutly/removal-engine/internal/repository"
)

func createExposuresTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_exposures",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ExposureModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_exposures_user_id ON exposures (user_id)`,
				`CREATE INDEX IF NOT EXISTS idx_exposures_broker_status ON exposures (broker_key, status)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ExposureModel{})
		},
	}
}
