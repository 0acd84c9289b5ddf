package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/optoutly/removal-engine/internal/domain"
)

type ListParams struct {
	UserID    *string
	BrokerKey *string
	Status    *domain.RemovalStatus
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

type RemovalRepository interface {
	Create(ctx context.Context, r *domain.RemovalRequest) error
	GetByID(ctx context.Context, id string) (*domain.RemovalRequest, error)
	GetByExposureID(ctx context.Context, exposureID string) (*domain.RemovalRequest, error)
	List(ctx context.Context, params ListParams) ([]domain.RemovalRequest, int64, error)
	ListPending(ctx context.Context, limit, perBroker int) ([]domain.RemovalRequest, error)
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.RemovalRequest, error)
	ListDueForVerification(ctx context.Context, now time.Time, limit int) ([]domain.RemovalRequest, error)
	Transition(ctx context.Context, id string, to domain.RemovalStatus, apply func(*domain.RemovalRequest)) (*domain.RemovalRequest, error)
	UpdateVerification(ctx context.Context, id string, verifiedAt, verifyAfter time.Time) error
	CountByUserAndStatus(ctx context.Context, userID string, status domain.RemovalStatus) (int64, error)
}

// GormRemovalRepo persists removal requests and keeps the linked exposure's
// status in lockstep inside the same transaction.
type GormRemovalRepo struct {
	db *gorm.DB
}

func NewGormRemovalRepo(db *gorm.DB) *GormRemovalRepo {
	return &GormRemovalRepo{db: db}
}

func (r *GormRemovalRepo) Create(ctx context.Context, req *domain.RemovalRequest) error {
	model := removalModelFromDomain(req)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if req != nil {
		*req = *removalModelToDomain(model)
	}
	return nil
}

func (r *GormRemovalRepo) GetByID(ctx context.Context, id string) (*domain.RemovalRequest, error) {
	var model RemovalRequestModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return removalModelToDomain(&model), nil
}

func (r *GormRemovalRepo) GetByExposureID(ctx context.Context, exposureID string) (*domain.RemovalRequest, error) {
	var model RemovalRequestModel
	err := r.db.WithContext(ctx).
		Where("exposure_id = ?", exposureID).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return removalModelToDomain(&model), nil
}

func (r *GormRemovalRepo) List(ctx context.Context, params ListParams) ([]domain.RemovalRequest, int64, error) {
	query := r.db.WithContext(ctx).Model(&RemovalRequestModel{})

	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.BrokerKey != nil {
		query = query.Where("broker_key = ?", *params.BrokerKey)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []RemovalRequestModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	removals := make([]domain.RemovalRequest, 0, len(models))
	for i := range models {
		removals = append(removals, *removalModelToDomain(&models[i]))
	}

	return removals, total, nil
}

// ListPending returns PENDING requests oldest first so that starved brokers
// surface before fresh arrivals. perBroker bounds how many items a single
// broker contributes, otherwise a backlogged broker at its daily send cap
// fills the whole pick list run after run.
func (r *GormRemovalRepo) ListPending(ctx context.Context, limit, perBroker int) ([]domain.RemovalRequest, error) {
	if perBroker < 1 {
		perBroker = limit
	}

	ranked := r.db.
		Model(&RemovalRequestModel{}).
		Select("id, ROW_NUMBER() OVER (PARTITION BY broker_key ORDER BY created_at ASC) AS broker_rank").
		Where("status = ?", domain.RemovalPending)

	var models []RemovalRequestModel
	err := r.db.WithContext(ctx).
		Joins("JOIN (?) ranked ON ranked.id = removal_requests.id", ranked).
		Where("ranked.broker_rank <= ?", perBroker).
		Order("removal_requests.created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	removals := make([]domain.RemovalRequest, 0, len(models))
	for i := range models {
		removals = append(removals, *removalModelToDomain(&models[i]))
	}
	return removals, nil
}

func (r *GormRemovalRepo) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.RemovalRequest, error) {
	var models []RemovalRequestModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", domain.RemovalFailed, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	removals := make([]domain.RemovalRequest, 0, len(models))
	for i := range models {
		removals = append(removals, *removalModelToDomain(&models[i]))
	}
	return removals, nil
}

func (r *GormRemovalRepo) ListDueForVerification(ctx context.Context, now time.Time, limit int) ([]domain.RemovalRequest, error) {
	awaiting := []domain.RemovalStatus{
		domain.RemovalSubmitted,
		domain.RemovalInProgress,
		domain.RemovalAcknowledged,
	}

	var models []RemovalRequestModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND verify_after IS NOT NULL AND verify_after <= ?", awaiting, now).
		Order("verify_after ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	removals := make([]domain.RemovalRequest, 0, len(models))
	for i := range models {
		removals = append(removals, *removalModelToDomain(&models[i]))
	}
	return removals, nil
}

// Transition moves a request to a new status under a row lock, validates the
// move against the transition table, applies the optional mutation, and
// projects the new status onto the linked exposure. Everything commits or
// rolls back together.
func (r *GormRemovalRepo) Transition(ctx context.Context, id string, to domain.RemovalStatus, apply func(*domain.RemovalRequest)) (*domain.RemovalRequest, error) {
	var result *domain.RemovalRequest

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model RemovalRequestModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if !domain.CanTransition(model.Status, to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, model.Status, to)
		}

		req := removalModelToDomain(&model)
		req.Status = to
		if apply != nil {
			apply(req)
		}

		updated := removalModelFromDomain(req)
		updated.CreatedAt = model.CreatedAt
		if err := tx.Save(updated).Error; err != nil {
			return err
		}

		if projected, ok := domain.ExposureStatusFor(to); ok {
			res := tx.Model(&ExposureModel{}).
				Where("id = ? AND status <> ?", req.ExposureID, domain.ExposureWhitelisted).
				Update("status", projected)
			if res.Error != nil {
				return res.Error
			}
		}

		result = removalModelToDomain(updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateVerification records a still-listed probe without changing status.
func (r *GormRemovalRepo) UpdateVerification(ctx context.Context, id string, verifiedAt, verifyAfter time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&RemovalRequestModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_verified_at": verifiedAt,
			"verify_after":     verifyAfter,
			"verify_count":     gorm.Expr("verify_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRemovalRepo) CountByUserAndStatus(ctx context.Context, userID string, status domain.RemovalStatus) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&RemovalRequestModel{}).
		Where("user_id = ? AND status = ?", userID, status).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
