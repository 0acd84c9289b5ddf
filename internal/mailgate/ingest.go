package mailgate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/queue"
)

// Ingestor drains the bounce event queue into the suppression gate.
type Ingestor struct {
	consumer queue.Consumer
	gate     *Gate
	logger   *zap.Logger
}

func NewIngestor(consumer queue.Consumer, gate *Gate, logger *zap.Logger) (*Ingestor, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ingestor{consumer: consumer, gate: gate, logger: logger}, nil
}

// Run consumes until the context is canceled.
func (i *Ingestor) Run(ctx context.Context) error {
	return i.consumer.Consume(ctx, i.handle)
}

func (i *Ingestor) handle(ctx context.Context, msg queue.BounceMessage) error {
	bounceType, err := domain.ParseBounceType(msg.Type)
	if err != nil {
		// Malformed events are dropped, not retried; redelivery cannot fix
		// them.
		i.logger.Warn("dropping bounce event with unknown type",
			zap.String("type", msg.Type),
			zap.String("email", msg.Email),
		)
		return nil
	}

	signal := domain.BounceSignal{
		Email:      msg.Email,
		Type:       bounceType,
		Category:   msg.Category,
		Diagnostic: msg.Diagnostic,
		OccurredAt: msg.OccurredAt,
	}

	if _, err := i.gate.RecordBounce(ctx, signal); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			i.logger.Warn("dropping invalid bounce event", zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}
