// Package intelligence derives per-broker reliability signals from the
// attempt audit trail. Everything here is a projection over recorded
// outcomes; nothing is persisted.
package intelligence

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/repository"
)

const recentWindow = 24 * time.Hour

type Service struct {
	attempts repository.AttemptRepository
	logger   *zap.Logger

	windowDays    int
	lowThreshold  float64
	highThreshold float64
	zThreshold    float64
	minSamples    int

	now func() time.Time
}

type Options struct {
	WindowDays           int
	LowSuccessThreshold  float64
	HighSuccessThreshold float64
	ZScoreThreshold      float64
	MinSamples           int
}

func NewService(attempts repository.AttemptRepository, opts Options, logger *zap.Logger) (*Service, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = 30
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 10
	}

	return &Service{
		attempts:      attempts,
		logger:        logger,
		windowDays:    opts.WindowDays,
		lowThreshold:  opts.LowSuccessThreshold,
		highThreshold: opts.HighSuccessThreshold,
		zThreshold:    opts.ZScoreThreshold,
		minSamples:    opts.MinSamples,
		now:           time.Now,
	}, nil
}

// GetBrokerIntelligence computes the rolling success profile for one broker.
// Brokers with no recorded attempts default to MEDIUM risk; there is no
// evidence either way.
func (s *Service) GetBrokerIntelligence(ctx context.Context, brokerKey string) (*domain.BrokerIntelligence, error) {
	now := s.now()
	from := now.AddDate(0, 0, -s.windowDays)

	outcome, err := s.attempts.Outcomes(ctx, brokerKey, from, now)
	if err != nil {
		return nil, fmt.Errorf("load broker outcomes: %w", err)
	}

	intel := &domain.BrokerIntelligence{
		BrokerKey:  brokerKey,
		Attempts:   int(outcome.Total),
		Failures:   int(outcome.Failed),
		Successes:  int(outcome.Total - outcome.Failed),
		WindowFrom: from,
	}

	if outcome.Total == 0 {
		intel.SuccessRate = 0
		intel.Risk = domain.RiskMedium
		return intel, nil
	}

	intel.SuccessRate = float64(intel.Successes) / float64(intel.Attempts)
	intel.Risk = s.classify(intel.SuccessRate)
	return intel, nil
}

func (s *Service) classify(successRate float64) domain.RiskLevel {
	switch {
	case successRate >= s.highThreshold:
		return domain.RiskLow
	case successRate >= s.lowThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// AnalyzePatterns compares each broker's failure rate over the last day
// against its historical baseline and flags statistically unusual spikes.
// The failure count is modeled as binomial under the baseline rate; the
// z-score measures how far the recent count sits from that expectation.
func (s *Service) AnalyzePatterns(ctx context.Context) ([]domain.Prediction, error) {
	now := s.now()
	recentFrom := now.Add(-recentWindow)
	baselineFrom := now.AddDate(0, 0, -s.windowDays)

	baseline, err := s.attempts.OutcomesByBroker(ctx, baselineFrom, recentFrom)
	if err != nil {
		return nil, fmt.Errorf("load baseline outcomes: %w", err)
	}
	recent, err := s.attempts.OutcomesByBroker(ctx, recentFrom, now)
	if err != nil {
		return nil, fmt.Errorf("load recent outcomes: %w", err)
	}

	baselineByBroker := make(map[string]repository.BrokerOutcome, len(baseline))
	for _, b := range baseline {
		baselineByBroker[b.BrokerKey] = b
	}

	var predictions []domain.Prediction
	for _, r := range recent {
		if r.Total < int64(s.minSamples) {
			continue
		}
		base, ok := baselineByBroker[r.BrokerKey]
		if !ok || base.Total < int64(s.minSamples) {
			continue
		}

		baseRate := float64(base.Failed) / float64(base.Total)
		recentRate := float64(r.Failed) / float64(r.Total)

		z := failureZScore(r.Failed, r.Total, baseRate)
		if z < s.zThreshold {
			continue
		}

		severity := domain.SeverityWarning
		if recentRate >= 2*baseRate || recentRate >= 0.5 {
			severity = domain.SeverityCritical
		}

		p := domain.Prediction{
			BrokerKey:    r.BrokerKey,
			Severity:     severity,
			Message:      fmt.Sprintf("failure spike: %.0f%% recent vs %.0f%% baseline", recentRate*100, baseRate*100),
			RecentRate:   recentRate,
			BaselineRate: baseRate,
			ZScore:       z,
			DetectedAt:   now,
		}
		predictions = append(predictions, p)

		s.logger.Warn("broker anomaly detected",
			zap.String("broker", p.BrokerKey),
			zap.String("severity", string(p.Severity)),
			zap.Float64("zScore", p.ZScore),
			zap.Float64("recentRate", p.RecentRate),
			zap.Float64("baselineRate", p.BaselineRate),
		)
	}

	return predictions, nil
}

// BatchSizeMultiplier returns the throttle factor for a broker given current
// predictions. A CRITICAL anomaly halves the effective batch share.
func BatchSizeMultiplier(predictions []domain.Prediction, brokerKey string) float64 {
	for _, p := range predictions {
		if p.BrokerKey == brokerKey && p.Severity == domain.SeverityCritical {
			return 0.5
		}
	}
	return 1.0
}

// RiskMultiplier returns the scheduling share for a broker's risk level.
// Low-success brokers (HIGH risk) get half a run's batch share so reliable
// brokers are not crowded out by a consistently failing one.
func RiskMultiplier(risk domain.RiskLevel) float64 {
	if risk == domain.RiskHigh {
		return 0.5
	}
	return 1.0
}

// failureZScore is the normal approximation of how unusual the observed
// failure count is under the baseline failure rate.
func failureZScore(failed, total int64, baseRate float64) float64 {
	if total == 0 {
		return 0
	}
	expected := baseRate * float64(total)
	variance := float64(total) * baseRate * (1 - baseRate)
	if variance <= 0 {
		if float64(failed) > expected {
			return math.Inf(1)
		}
		return 0
	}
	return (float64(failed) - expected) / math.Sqrt(variance)
}
