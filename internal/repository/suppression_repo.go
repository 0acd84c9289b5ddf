package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/optoutly/removal-engine/internal/domain"
)

type SuppressionRepository interface {
	Get(ctx context.Context, email string) (*domain.EmailSuppression, error)
	Mutate(ctx context.Context, email string, fn func(*domain.EmailSuppression)) (*domain.EmailSuppression, error)
	ListSuppressed(ctx context.Context, limit int) ([]domain.EmailSuppression, error)
}

type GormSuppressionRepo struct {
	db *gorm.DB
}

func NewGormSuppressionRepo(db *gorm.DB) *GormSuppressionRepo {
	return &GormSuppressionRepo{db: db}
}

func (r *GormSuppressionRepo) Get(ctx context.Context, email string) (*domain.EmailSuppression, error) {
	var model EmailSuppressionModel
	err := r.db.WithContext(ctx).First(&model, "email = ?", domain.NormalizeEmail(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return suppressionModelToDomain(&model), nil
}

// Mutate loads or creates the suppression row for an address under a row
// lock, applies fn, and writes the result back. Concurrent bounce events for
// the same address serialize on the lock.
func (r *GormSuppressionRepo) Mutate(ctx context.Context, email string, fn func(*domain.EmailSuppression)) (*domain.EmailSuppression, error) {
	email = domain.NormalizeEmail(email)
	var result *domain.EmailSuppression

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&EmailSuppressionModel{Email: email}).Error
		if err != nil {
			return err
		}

		var model EmailSuppressionModel
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "email = ?", email).Error
		if err != nil {
			return err
		}

		entry := suppressionModelToDomain(&model)
		fn(entry)

		updated := suppressionModelFromDomain(entry)
		updated.CreatedAt = model.CreatedAt
		if err := tx.Save(updated).Error; err != nil {
			return err
		}

		result = suppressionModelToDomain(updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *GormSuppressionRepo) ListSuppressed(ctx context.Context, limit int) ([]domain.EmailSuppression, error) {
	var models []EmailSuppressionModel
	err := r.db.WithContext(ctx).
		Where("suppressed = ?", true).
		Order("last_bounced_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.EmailSuppression, 0, len(models))
	for i := range models {
		entries = append(entries, *suppressionModelToDomain(&models[i]))
	}
	return entries, nil
}
