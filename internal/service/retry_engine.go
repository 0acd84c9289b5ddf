package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/repository"
)

// RetrySummary reports what one retry sweep did.
type RetrySummary struct {
	Due         int  `json:"due"`
	Requeued    int  `json:"requeued"`
	Manual      int  `json:"manual"`
	Errors      int  `json:"errors"`
	DeadlineHit bool `json:"deadlineHit"`
}

// RetryEngine requeues FAILED requests whose backoff has elapsed. Requests
// that already burned every attempt go to manual handling instead; the batch
// processor never sees them again.
type RetryEngine struct {
	removals repository.RemovalRepository
	logger   *zap.Logger

	batchSize       int
	maxSendAttempts int

	now func() time.Time
}

func NewRetryEngine(removals repository.RemovalRepository, batchSize, maxSendAttempts int, logger *zap.Logger) (*RetryEngine, error) {
	if removals == nil {
		return nil, fmt.Errorf("removal repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize < 1 {
		batchSize = 50
	}
	if maxSendAttempts < 1 {
		maxSendAttempts = 3
	}

	return &RetryEngine{
		removals:        removals,
		logger:          logger,
		batchSize:       batchSize,
		maxSendAttempts: maxSendAttempts,
		now:             time.Now,
	}, nil
}

// Run requeues due retries until the list is drained or the deadline passes.
func (e *RetryEngine) Run(ctx context.Context, deadline time.Time) (RetrySummary, error) {
	var summary RetrySummary

	items, err := e.removals.ListDueForRetry(ctx, e.now(), e.batchSize)
	if err != nil {
		return summary, fmt.Errorf("list due retries: %w", err)
	}
	summary.Due = len(items)

	for i := range items {
		if !e.now().Before(deadline) {
			summary.DeadlineHit = true
			break
		}
		e.requeueOne(ctx, &items[i], &summary)
	}

	return summary, nil
}

func (e *RetryEngine) requeueOne(ctx context.Context, req *domain.RemovalRequest, summary *RetrySummary) {
	now := e.now()
	log := e.logger.With(
		zap.String("removalId", req.ID),
		zap.String("broker", req.BrokerKey),
	)

	if req.AttemptCount >= e.maxSendAttempts {
		_, err := e.removals.Transition(ctx, req.ID, domain.RemovalRequiresManual, func(r *domain.RemovalRequest) {
			r.NextRetryAt = nil
			r.AppendNote(now, fmt.Sprintf("retry budget exhausted after %d attempts", r.AttemptCount))
		})
		if err != nil {
			summary.Errors++
			log.Error("failed to route exhausted retry to manual handling", zap.Error(err))
			return
		}
		summary.Manual++
		log.Warn("retry budget exhausted, routed to manual handling",
			zap.Int("attempts", req.AttemptCount),
		)
		return
	}

	_, err := e.removals.Transition(ctx, req.ID, domain.RemovalPending, func(r *domain.RemovalRequest) {
		r.NextRetryAt = nil
		r.AppendNote(now, fmt.Sprintf("requeued for retry, attempt %d of %d upcoming", r.AttemptCount+1, e.maxSendAttempts))
	})
	if err != nil {
		summary.Errors++
		log.Error("failed to requeue retry", zap.Error(err))
		return
	}
	summary.Requeued++
	log.Info("failed request requeued for retry")
}
