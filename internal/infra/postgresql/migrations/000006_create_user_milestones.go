package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/optoutly/removal-engine/internal/repository"
)

func createUserMilestonesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000006_create_user_milestones",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.UserMilestoneModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.UserMilestoneModel{})
		},
	}
}
