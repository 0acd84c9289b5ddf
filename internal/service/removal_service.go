package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/queue"
	"github.com/optoutly/removal-engine/internal/repository"
)

// RemovalService owns the request lifecycle outside of batch processing:
// creation, lookups, cancellation, and the side effects of completion.
type RemovalService struct {
	removals   repository.RemovalRepository
	milestones repository.MilestoneRepository
	publisher  queue.Publisher
	logger     *zap.Logger

	now func() time.Time
}

func NewRemovalService(
	removals repository.RemovalRepository,
	milestones repository.MilestoneRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*RemovalService, error) {
	if removals == nil {
		return nil, fmt.Errorf("removal repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RemovalService{
		removals:   removals,
		milestones: milestones,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Create registers a new PENDING removal request for an exposure.
func (s *RemovalService) Create(ctx context.Context, req *domain.RemovalRequest) (*domain.RemovalRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: removal request is required", domain.ErrValidation)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = domain.RemovalPending
	}
	if req.Status != domain.RemovalPending {
		return nil, fmt.Errorf("%w: new requests must start as PENDING", domain.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if existing, err := s.removals.GetByExposureID(ctx, req.ExposureID); err == nil && !existing.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: exposure %s already has an active removal request", domain.ErrConflict, req.ExposureID)
	}

	if err := s.removals.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create removal request: %w", err)
	}

	s.logger.Info("removal request created",
		zap.String("removalId", req.ID),
		zap.String("broker", req.BrokerKey),
		zap.String("method", req.Method.String()),
	)
	return req, nil
}

func (s *RemovalService) Get(ctx context.Context, id string) (*domain.RemovalRequest, error) {
	return s.removals.GetByID(ctx, id)
}

func (s *RemovalService) List(ctx context.Context, params repository.ListParams) ([]domain.RemovalRequest, int64, error) {
	return s.removals.List(ctx, params)
}

// Cancel moves a request to CANCELLED. This is the only user-initiated exit;
// the transition table rejects it on already-terminal requests.
func (s *RemovalService) Cancel(ctx context.Context, id string, reason string) (*domain.RemovalRequest, error) {
	now := s.now()
	updated, err := s.removals.Transition(ctx, id, domain.RemovalCancelled, func(r *domain.RemovalRequest) {
		r.NextRetryAt = nil
		if reason == "" {
			reason = "cancelled by user"
		}
		r.AppendNote(now, "cancelled: "+reason)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("removal request cancelled",
		zap.String("removalId", id),
		zap.String("reason", reason),
	)
	return updated, nil
}

// Complete commits the terminal COMPLETED transition and fires its side
// effects. The state change is the source of truth; alert publishing is
// best-effort and never rolls it back.
func (s *RemovalService) Complete(ctx context.Context, id string, note string) (*domain.RemovalRequest, error) {
	now := s.now()
	updated, err := s.removals.Transition(ctx, id, domain.RemovalCompleted, func(r *domain.RemovalRequest) {
		at := now
		r.CompletedAt = &at
		r.NextRetryAt = nil
		if note != "" {
			r.AppendNote(now, note)
		}
	})
	if err != nil {
		return nil, err
	}

	s.publishCompletionAlerts(ctx, updated)
	return updated, nil
}

func (s *RemovalService) publishCompletionAlerts(ctx context.Context, req *domain.RemovalRequest) {
	if s.publisher == nil {
		return
	}

	alert := queue.AlertMessage{
		UserID:    req.UserID,
		Kind:      queue.AlertRemovalCompleted,
		RemovalID: req.ID,
		BrokerKey: req.BrokerKey,
	}
	if err := s.publisher.Publish(ctx, alert); err != nil {
		s.logger.Warn("failed to publish completion alert",
			zap.Error(err),
			zap.String("removalId", req.ID),
		)
	}

	if s.milestones == nil {
		return
	}
	landed, err := s.milestones.InsertIfAbsent(ctx, req.UserID, domain.MilestoneFirstRemoval)
	if err != nil {
		s.logger.Warn("failed to record first-removal milestone",
			zap.Error(err),
			zap.String("userId", req.UserID),
		)
		return
	}
	if !landed {
		return
	}

	first := queue.AlertMessage{
		UserID:    req.UserID,
		Kind:      queue.AlertFirstRemoval,
		RemovalID: req.ID,
		BrokerKey: req.BrokerKey,
	}
	if err := s.publisher.Publish(ctx, first); err != nil {
		s.logger.Warn("failed to publish first-removal alert",
			zap.Error(err),
			zap.String("userId", req.UserID),
		)
	}
}
