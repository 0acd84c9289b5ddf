package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	breakerOpenTimeout = 5 * time.Minute
	breakerMinRequests = 5
	breakerMaxFailRate = 0.6
)

// BreakerSubmitter wraps a Submitter with one circuit breaker per broker, so
// a broker whose endpoint is down stops consuming rate-limit slots and
// attempts until it cools off.
type BreakerSubmitter struct {
	inner  Submitter
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*SubmitResponse]
}

func NewBreakerSubmitter(inner Submitter, logger *zap.Logger) (*BreakerSubmitter, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner submitter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BreakerSubmitter{
		inner:    inner,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*SubmitResponse]),
	}, nil
}

func (p *BreakerSubmitter) Submit(ctx context.Context, request domain.RemovalRequest, broker domain.BrokerInfo) (*SubmitResponse, error) {
	if p == nil || p.inner == nil {
		return nil, fmt.Errorf("breaker submitter is not initialized")
	}

	cb := p.breakerFor(broker.Key)
	resp, err := cb.Execute(func() (*SubmitResponse, error) {
		return p.inner.Submit(ctx, request, broker)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, &SubmitError{
			Message:   fmt.Sprintf("circuit open for broker %s", broker.Key),
			Transient: true,
			Cause:     err,
		}
	}
	return resp, err
}

func (p *BreakerSubmitter) breakerFor(brokerKey string) *gobreaker.CircuitBreaker[*SubmitResponse] {
	name := strings.ToUpper(strings.TrimSpace(brokerKey))

	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[name]; ok {
		return cb
	}

	logger := p.logger
	cb := gobreaker.NewCircuitBreaker[*SubmitResponse](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= breakerMaxFailRate
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("submitter circuit state change",
				zap.String("broker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	p.breakers[name] = cb
	return cb
}
