package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/optoutly/removal-engine/internal/domain"
)

// BrokerOutcome aggregates attempt results for one broker over a window.
type BrokerOutcome struct {
	BrokerKey string `gorm:"column:broker_key"`
	Total     int64  `gorm:"column:total"`
	Failed    int64  `gorm:"column:failed"`
}

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.RemovalAttempt) error
	ListByRemoval(ctx context.Context, removalID string) ([]domain.RemovalAttempt, error)
	Outcomes(ctx context.Context, brokerKey string, from, to time.Time) (BrokerOutcome, error)
	OutcomesByBroker(ctx context.Context, from, to time.Time) ([]BrokerOutcome, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.RemovalAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		a.ID = model.ID
		a.CreatedAt = model.CreatedAt
	}
	return nil
}

func (r *GormAttemptRepo) ListByRemoval(ctx context.Context, removalID string) ([]domain.RemovalAttempt, error) {
	var models []RemovalAttemptModel
	err := r.db.WithContext(ctx).
		Where("removal_id = ?", removalID).
		Order("attempt_num ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.RemovalAttempt, 0, len(models))
	for _, m := range models {
		attempts = append(attempts, domain.RemovalAttempt{
			ID:         m.ID,
			RemovalID:  m.RemovalID,
			BrokerKey:  m.BrokerKey,
			AttemptNum: m.AttemptNum,
			StatusCode: m.StatusCode,
			Response:   m.Response,
			Error:      m.Error,
			CreatedAt:  m.CreatedAt,
		})
	}
	return attempts, nil
}

func (r *GormAttemptRepo) Outcomes(ctx context.Context, brokerKey string, from, to time.Time) (BrokerOutcome, error) {
	var outcome BrokerOutcome
	err := r.db.WithContext(ctx).
		Model(&RemovalAttemptModel{}).
		Select("broker_key, COUNT(*) as total, COUNT(error) as failed").
		Where("broker_key = ? AND created_at >= ? AND created_at < ?", brokerKey, from, to).
		Group("broker_key").
		Scan(&outcome).Error
	if err != nil {
		return BrokerOutcome{}, err
	}
	if outcome.BrokerKey == "" {
		outcome.BrokerKey = brokerKey
	}
	return outcome, nil
}

func (r *GormAttemptRepo) OutcomesByBroker(ctx context.Context, from, to time.Time) ([]BrokerOutcome, error) {
	var outcomes []BrokerOutcome
	err := r.db.WithContext(ctx).
		Model(&RemovalAttemptModel{}).
		Select("broker_key, COUNT(*) as total, COUNT(error) as failed").
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("broker_key").
		Scan(&outcomes).Error
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}
