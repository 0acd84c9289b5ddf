package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/optoutly/removal-engine/internal/domain"
)

type ExposureRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Exposure, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Exposure, error)
	UpdateStatus(ctx context.Context, id string, status domain.ExposureStatus) error
}

type GormExposureRepo struct {
	db *gorm.DB
}

func NewGormExposureRepo(db *gorm.DB) *GormExposureRepo {
	return &GormExposureRepo{db: db}
}

func (r *GormExposureRepo) GetByID(ctx context.Context, id string) (*domain.Exposure, error) {
	var model ExposureModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return exposureModelToDomain(&model), nil
}

func (r *GormExposureRepo) ListByUser(ctx context.Context, userID string) ([]domain.Exposure, error) {
	var models []ExposureModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	exposures := make([]domain.Exposure, 0, len(models))
	for i := range models {
		exposures = append(exposures, *exposureModelToDomain(&models[i]))
	}
	return exposures, nil
}

func (r *GormExposureRepo) UpdateStatus(ctx context.Context, id string, status domain.ExposureStatus) error {
	result := r.db.WithContext(ctx).
		Model(&ExposureModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
