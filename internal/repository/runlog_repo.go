package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/optoutly/removal-engine/internal/domain"
)

type RunLogRepository interface {
	Create(ctx context.Context, run *domain.JobRun) error
	ListRecent(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error)
}

type MilestoneRepository interface {
	// InsertIfAbsent records a milestone and reports whether this call was
	// the one that created it. Repeated calls return false.
	InsertIfAbsent(ctx context.Context, userID, name string) (bool, error)
}

type GormRunLogRepo struct {
	db *gorm.DB
}

func NewGormRunLogRepo(db *gorm.DB) *GormRunLogRepo {
	return &GormRunLogRepo{db: db}
}

func (r *GormRunLogRepo) Create(ctx context.Context, run *domain.JobRun) error {
	model := jobRunModelFromDomain(run)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if run != nil {
		*run = *jobRunModelToDomain(model)
	}
	return nil
}

func (r *GormRunLogRepo) ListRecent(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error) {
	query := r.db.WithContext(ctx).Model(&JobRunModel{})
	if jobName != "" {
		query = query.Where("job_name = ?", jobName)
	}

	var models []JobRunModel
	err := query.
		Order("started_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	runs := make([]domain.JobRun, 0, len(models))
	for i := range models {
		runs = append(runs, *jobRunModelToDomain(&models[i]))
	}
	return runs, nil
}

type GormMilestoneRepo struct {
	db *gorm.DB
}

func NewGormMilestoneRepo(db *gorm.DB) *GormMilestoneRepo {
	return &GormMilestoneRepo{db: db}
}

func (r *GormMilestoneRepo) InsertIfAbsent(ctx context.Context, userID, name string) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&UserMilestoneModel{UserID: userID, Name: name})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
