package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/optoutly/removal-engine/internal/repository"
)

func createJobRunsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_job_runs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.JobRunModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_job_runs_name_started ON job_runs (job_name, started_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.JobRunModel{})
		},
	}
}
