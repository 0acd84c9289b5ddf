// Package mailgate decides whether the engine may email an address and
// maintains suppression records from inbound bounce signals.
package mailgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/repository"
)

const maxHistoryEntries = 20

type Gate struct {
	suppressions repository.SuppressionRepository
	logger       *zap.Logger

	softBounceThreshold int

	now func() time.Time
}

func NewGate(suppressions repository.SuppressionRepository, softBounceThreshold int, logger *zap.Logger) (*Gate, error) {
	if suppressions == nil {
		return nil, fmt.Errorf("suppression repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if softBounceThreshold < 1 {
		softBounceThreshold = 3
	}

	return &Gate{
		suppressions:        suppressions,
		logger:              logger,
		softBounceThreshold: softBounceThreshold,
		now:                 time.Now,
	}, nil
}

// Check reports whether an address may be emailed. Unknown addresses are
// allowed; only an explicit suppression blocks delivery.
func (g *Gate) Check(ctx context.Context, email string) (bool, *domain.EmailSuppression, error) {
	entry, err := g.suppressions.Get(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("suppression lookup: %w", err)
	}
	if entry.Suppressed {
		return false, entry, nil
	}
	return true, entry, nil
}

// RecordBounce folds one bounce signal into the address record. Permanent
// bounces and complaints suppress immediately; transient bounces suppress
// once the count crosses the threshold.
func (g *Gate) RecordBounce(ctx context.Context, signal domain.BounceSignal) (*domain.EmailSuppression, error) {
	if signal.Email == "" {
		return nil, fmt.Errorf("%w: bounce signal without email", domain.ErrValidation)
	}
	if !signal.Type.IsValid() {
		return nil, fmt.Errorf("%w: invalid bounce type %q", domain.ErrValidation, signal.Type)
	}
	occurredAt := signal.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = g.now()
	}

	entry, err := g.suppressions.Mutate(ctx, signal.Email, func(e *domain.EmailSuppression) {
		e.BounceCount++
		e.Category = signal.Category
		if e.FirstBouncedAt == nil {
			at := occurredAt
			e.FirstBouncedAt = &at
		}
		at := occurredAt
		e.LastBouncedAt = &at
		e.BounceHistory = appendHistory(e.BounceHistory, signal, occurredAt)

		if e.Suppressed {
			return
		}
		switch signal.Type {
		case domain.BouncePermanent:
			e.Suppressed = true
			reason := domain.ReasonHardBounce
			e.Reason = &reason
		case domain.BounceComplaint:
			e.Suppressed = true
			reason := domain.ReasonComplaint
			e.Reason = &reason
		case domain.BounceTransient:
			if e.BounceCount >= g.softBounceThreshold {
				e.Suppressed = true
				reason := domain.ReasonSoftBounceRepeated
				e.Reason = &reason
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("record bounce: %w", err)
	}

	if entry.Suppressed {
		g.logger.Info("address suppressed",
			zap.String("email", entry.Email),
			zap.String("reason", string(*entry.Reason)),
			zap.Int("bounceCount", entry.BounceCount),
		)
	}
	return entry, nil
}

// Unsuppress clears a suppression after manual review. The bounce history
// stays on the record.
func (g *Gate) Unsuppress(ctx context.Context, email string) (*domain.EmailSuppression, error) {
	entry, err := g.suppressions.Mutate(ctx, email, func(e *domain.EmailSuppression) {
		e.Suppressed = false
		e.Reason = nil
		e.BounceCount = 0
	})
	if err != nil {
		return nil, fmt.Errorf("unsuppress: %w", err)
	}

	g.logger.Info("address unsuppressed", zap.String("email", entry.Email))
	return entry, nil
}

// appendHistory keeps a bounded, newline-separated log of bounce events.
func appendHistory(history string, signal domain.BounceSignal, at time.Time) string {
	line := fmt.Sprintf("[%s] %s %s %s", at.UTC().Format(time.RFC3339), signal.Type, signal.Category, signal.Diagnostic)
	line = strings.TrimRight(line, " ")

	if history == "" {
		return line
	}
	lines := strings.Split(history, "\n")
	lines = append(lines, line)
	if len(lines) > maxHistoryEntries {
		lines = lines[len(lines)-maxHistoryEntries:]
	}
	return strings.Join(lines, "\n")
}
