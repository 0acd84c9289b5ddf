package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/optoutly/removal-engine/internal/brokerdir"
	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/provider"
	"github.com/optoutly/removal-engine/internal/repository"
)

// RiskProfiler grades a broker's reliability for verification scheduling.
type RiskProfiler interface {
	GetBrokerIntelligence(ctx context.Context, brokerKey string) (*domain.BrokerIntelligence, error)
}

// VerifySummary reports what one verification sweep did.
type VerifySummary struct {
	Due         int  `json:"due"`
	Confirmed   int  `json:"confirmed"`
	StillListed int  `json:"stillListed"`
	Errors      int  `json:"errors"`
	DeadlineHit bool `json:"deadlineHit"`
}

// VerifyEngine re-probes brokers after a submitted removal's waiting period
// and confirms removals that actually took effect. Submissions are claims;
// only a probe that no longer finds the listing completes the request.
type VerifyEngine struct {
	removals  repository.RemovalRepository
	service   *RemovalService
	directory brokerdir.Directory
	verifier  provider.Verifier
	profiler  RiskProfiler
	logger    *zap.Logger

	batchSize      int
	recheckDays    int
	highRiskFactor int

	now func() time.Time
}

func NewVerifyEngine(
	removals repository.RemovalRepository,
	service *RemovalService,
	directory brokerdir.Directory,
	verifier provider.Verifier,
	profiler RiskProfiler,
	batchSize, recheckDays, highRiskFactor int,
	logger *zap.Logger,
) (*VerifyEngine, error) {
	if removals == nil {
		return nil, fmt.Errorf("removal repository is required")
	}
	if service == nil {
		return nil, fmt.Errorf("removal service is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize < 1 {
		batchSize = 50
	}
	if recheckDays < 1 {
		recheckDays = 14
	}
	if highRiskFactor < 1 {
		highRiskFactor = 2
	}

	return &VerifyEngine{
		removals:       removals,
		service:        service,
		directory:      directory,
		verifier:       verifier,
		profiler:       profiler,
		logger:         logger,
		batchSize:      batchSize,
		recheckDays:    recheckDays,
		highRiskFactor: highRiskFactor,
		now:            time.Now,
	}, nil
}

func (e *VerifyEngine) Run(ctx context.Context, deadline time.Time) (VerifySummary, error) {
	var summary VerifySummary

	items, err := e.removals.ListDueForVerification(ctx, e.now(), e.batchSize)
	if err != nil {
		return summary, fmt.Errorf("list due verification: %w", err)
	}
	summary.Due = len(items)

	for i := range items {
		if !e.now().Before(deadline) {
			summary.DeadlineHit = true
			break
		}
		e.verifyOne(ctx, &items[i], &summary)
	}

	return summary, nil
}

func (e *VerifyEngine) verifyOne(ctx context.Context, req *domain.RemovalRequest, summary *VerifySummary) {
	now := e.now()
	log := e.logger.With(
		zap.String("removalId", req.ID),
		zap.String("broker", req.BrokerKey),
	)

	broker, err := e.directory.GetBrokerInfo(req.BrokerKey)
	if err != nil {
		summary.Errors++
		log.Error("cannot verify, broker unknown", zap.Error(err))
		return
	}

	listed, err := e.verifier.StillListed(ctx, *req, broker)
	if err != nil {
		// Probe failures leave the schedule untouched; the sweep retries
		// next run.
		summary.Errors++
		log.Warn("verification probe failed", zap.Error(err))
		return
	}

	if !listed {
		note := fmt.Sprintf("verified removed after %d check(s)", req.VerifyCount+1)
		if _, err := e.service.Complete(ctx, req.ID, note); err != nil {
			summary.Errors++
			log.Error("failed to complete verified removal", zap.Error(err))
			return
		}
		summary.Confirmed++
		log.Info("removal verified and completed")
		return
	}

	recheckAfter := now.AddDate(0, 0, e.recheckDays*e.riskFactor(ctx, broker.Key))

	// First still-listed probe moves a fresh submission to IN_PROGRESS so
	// the age of the claim is visible.
	if req.Status == domain.RemovalSubmitted {
		verifiedAt := now
		_, err = e.removals.Transition(ctx, req.ID, domain.RemovalInProgress, func(r *domain.RemovalRequest) {
			r.LastVerifiedAt = &verifiedAt
			r.VerifyAfter = &recheckAfter
			r.VerifyCount++
			r.AppendNote(now, "still listed, broker processing")
		})
	} else {
		err = e.removals.UpdateVerification(ctx, req.ID, now, recheckAfter)
	}
	if err != nil {
		summary.Errors++
		log.Error("failed to record verification result", zap.Error(err))
		return
	}

	summary.StillListed++
	log.Info("listing still present, recheck scheduled",
		zap.Time("verifyAfter", recheckAfter),
	)
}

// riskFactor stretches the recheck interval for unreliable brokers; probing
// them on the base cadence wastes budget on listings that rarely clear early.
func (e *VerifyEngine) riskFactor(ctx context.Context, brokerKey string) int {
	if e.profiler == nil {
		return 1
	}
	intel, err := e.profiler.GetBrokerIntelligence(ctx, brokerKey)
	if err != nil {
		e.logger.Warn("risk lookup failed, using base recheck interval",
			zap.Error(err),
			zap.String("broker", brokerKey),
		)
		return 1
	}
	if intel.Risk == domain.RiskHigh {
		return e.highRiskFactor
	}
	return 1
}
