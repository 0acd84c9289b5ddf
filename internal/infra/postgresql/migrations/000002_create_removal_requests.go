package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/optoutly/removal-engine/internal/repository"
)

func createRemovalRequestsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_removal_requests",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RemovalRequestModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_removal_requests_status_created ON removal_requests (status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_removal_requests_user_id ON removal_requests (user_id)`,
				`CREATE INDEX IF NOT EXISTS idx_removal_requests_exposure_id ON removal_requests (exposure_id)`,
				`CREATE INDEX IF NOT EXISTS idx_removal_requests_retry ON removal_requests (next_retry_at) WHERE status = 'FAILED' AND next_retry_at IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_removal_requests_verify ON removal_requests (verify_after) WHERE status IN ('SUBMITTED', 'IN_PROGRESS', 'ACKNOWLEDGED') AND verify_after IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RemovalRequestModel{})
		},
	}
}
