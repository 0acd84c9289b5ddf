package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/optoutly/removal-engine/internal/brokerdir"
	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/intelligence"
	"github.com/optoutly/removal-engine/internal/observability"
	"github.com/optoutly/removal-engine/internal/provider"
	"github.com/optoutly/removal-engine/internal/queue"
	"github.com/optoutly/removal-engine/internal/ratelimit"
	"github.com/optoutly/removal-engine/internal/repository"
)

// SuppressionGate answers whether an address may be emailed.
type SuppressionGate interface {
	Check(ctx context.Context, email string) (bool, *domain.EmailSuppression, error)
}

// AnomalyAnalyzer surfaces broker failure spikes and reliability profiles
// before a batch run.
type AnomalyAnalyzer interface {
	AnalyzePatterns(ctx context.Context) ([]domain.Prediction, error)
	GetBrokerIntelligence(ctx context.Context, brokerKey string) (*domain.BrokerIntelligence, error)
}

// ProcessorOptions carries the batch tuning knobs. PerBrokerPick bounds how
// many items one broker may occupy in a single pick list, so a backlogged
// broker sitting at its daily cap cannot starve every other broker out of
// the run.
type ProcessorOptions struct {
	BatchSize          int
	PerBrokerPick      int
	MaxSendAttempts    int
	VerifyBaseWaitDays int
	RetryBackoff       func(attempts int) time.Duration
}

// BatchSummary reports what one processing run did. Errors counts items that
// hit an infrastructure failure before any send was attempted; they stay
// PENDING.
type BatchSummary struct {
	Picked      int  `json:"picked"`
	Sent        int  `json:"sent"`
	Failed      int  `json:"failed"`
	Manual      int  `json:"manual"`
	RateLimited int  `json:"rateLimited"`
	Suppressed  int  `json:"suppressed"`
	Throttled   int  `json:"throttled"`
	Errors      int  `json:"errors"`
	DeadlineHit bool `json:"deadlineHit"`

	SentPerBroker map[string]int `json:"sentPerBroker,omitempty"`
}

// BatchProcessor drains PENDING removal requests inside a bounded run. Items
// it cannot send this run (rate limited, throttled, out of time) simply stay
// PENDING; the next run picks them up again.
type BatchProcessor struct {
	removals  repository.RemovalRepository
	attempts  repository.AttemptRepository
	directory brokerdir.Directory
	email     provider.Submitter
	form      provider.Submitter
	gate      SuppressionGate
	limiter   ratelimit.RateLimiter
	analyzer  AnomalyAnalyzer
	publisher queue.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	opts      ProcessorOptions

	now func() time.Time
}

func NewBatchProcessor(
	removals repository.RemovalRepository,
	attempts repository.AttemptRepository,
	directory brokerdir.Directory,
	email provider.Submitter,
	form provider.Submitter,
	gate SuppressionGate,
	limiter ratelimit.RateLimiter,
	analyzer AnomalyAnalyzer,
	publisher queue.Publisher,
	opts ProcessorOptions,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*BatchProcessor, error) {
	if removals == nil {
		return nil, fmt.Errorf("removal repository is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("broker directory is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 50
	}
	if opts.PerBrokerPick < 1 {
		opts.PerBrokerPick = opts.BatchSize
	}
	if opts.MaxSendAttempts < 1 {
		opts.MaxSendAttempts = 3
	}
	if opts.VerifyBaseWaitDays < 1 {
		opts.VerifyBaseWaitDays = 7
	}
	if opts.RetryBackoff == nil {
		opts.RetryBackoff = func(int) time.Duration { return 4 * time.Hour }
	}

	return &BatchProcessor{
		removals:  removals,
		attempts:  attempts,
		directory: directory,
		email:     email,
		form:      form,
		gate:      gate,
		limiter:   limiter,
		analyzer:  analyzer,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// ProcessPending runs one batch. The deadline is checked before every item so
// a run never starts work it cannot finish inside its budget.
func (p *BatchProcessor) ProcessPending(ctx context.Context, deadline time.Time) (BatchSummary, error) {
	var summary BatchSummary

	items, err := p.removals.ListPending(ctx, p.opts.BatchSize, p.opts.PerBrokerPick)
	if err != nil {
		return summary, fmt.Errorf("list pending removals: %w", err)
	}
	summary.Picked = len(items)

	brokerBudgets := p.brokerBudgets(ctx, items)

	sentPerBroker := make(map[string]int)
	for i := range items {
		if !p.now().Before(deadline) {
			summary.DeadlineHit = true
			p.logger.Info("run budget exhausted, leaving remaining items pending",
				zap.Int("remaining", len(items)-i),
			)
			break
		}

		p.processOne(ctx, &items[i], brokerBudgets, sentPerBroker, &summary)
	}

	if len(sentPerBroker) > 0 {
		summary.SentPerBroker = sentPerBroker
	}
	return summary, nil
}

// brokerBudgets computes per-broker item budgets for this run, halved for
// brokers with a critical anomaly and for brokers whose track record puts
// them at high risk. Intelligence lookups are advisory; a failure leaves the
// broker unthrottled.
func (p *BatchProcessor) brokerBudgets(ctx context.Context, items []domain.RemovalRequest) map[string]int {
	budgets := make(map[string]int)
	if p.analyzer == nil {
		return budgets
	}

	predictions, err := p.analyzer.AnalyzePatterns(ctx)
	if err != nil {
		p.logger.Warn("anomaly analysis failed, skipping anomaly throttling", zap.Error(err))
		predictions = nil
	}

	critical := false
	for _, pred := range predictions {
		if pred.Severity != domain.SeverityCritical {
			continue
		}
		critical = true
		budgets[pred.BrokerKey] = int(float64(p.opts.BatchSize) * intelligence.BatchSizeMultiplier(predictions, pred.BrokerKey))
		p.logger.Warn("throttling broker after critical anomaly",
			zap.String("broker", pred.BrokerKey),
			zap.Int("budget", budgets[pred.BrokerKey]),
		)
	}
	if p.metrics != nil {
		p.metrics.SetAnomalyCritical(critical)
	}

	seen := make(map[string]bool)
	for i := range items {
		key := items[i].BrokerKey
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, throttled := budgets[key]; throttled {
			continue
		}

		intel, err := p.analyzer.GetBrokerIntelligence(ctx, key)
		if err != nil {
			p.logger.Warn("broker intelligence lookup failed, proceeding unthrottled",
				zap.Error(err),
				zap.String("broker", key),
			)
			continue
		}
		if intel == nil || intel.Risk != domain.RiskHigh {
			continue
		}

		budgets[key] = int(float64(p.opts.BatchSize) * intelligence.RiskMultiplier(intel.Risk))
		p.logger.Info("reducing batch share for high-risk broker",
			zap.String("broker", key),
			zap.Int("budget", budgets[key]),
		)
	}
	return budgets
}

func (p *BatchProcessor) processOne(ctx context.Context, req *domain.RemovalRequest, budgets map[string]int, sentPerBroker map[string]int, summary *BatchSummary) {
	log := p.logger.With(
		zap.String("removalId", req.ID),
		zap.String("broker", req.BrokerKey),
	)

	broker, err := p.directory.GetBrokerInfo(req.BrokerKey)
	if err != nil {
		// Unknown broker: route to a human without consuming an attempt.
		p.toManual(ctx, req, "unknown broker "+req.BrokerKey, summary, log)
		return
	}
	if !broker.Automatable() {
		p.toManual(ctx, req, "broker has no automated opt-out channel", summary, log)
		return
	}

	submitter, channel, ok := p.pickChannel(ctx, broker, summary, log)
	if !ok {
		p.toManual(ctx, req, "privacy address suppressed and no form fallback", summary, log)
		return
	}

	if budget, limited := budgets[broker.Key]; limited && sentPerBroker[broker.Key] >= budget {
		summary.Throttled++
		log.Info("skipping send, broker throttled this run")
		return
	}

	allowed, err := p.limiter.Reserve(ctx, broker.Key)
	if err != nil {
		// No send was attempted, so this is an infrastructure error rather
		// than a failed removal. The item stays PENDING.
		summary.Errors++
		log.Error("rate limiter unavailable, leaving item pending", zap.Error(err))
		return
	}
	if !allowed {
		summary.RateLimited++
		if p.metrics != nil {
			p.metrics.IncRateLimited(broker.Key)
		}
		log.Info("send deferred by broker rate limit")
		return
	}

	p.send(ctx, req, broker, submitter, channel, sentPerBroker, summary, log)
}

// pickChannel prefers email and falls back to the form channel when the
// broker's privacy address is suppressed. The third return is false when no
// usable channel remains.
func (p *BatchProcessor) pickChannel(ctx context.Context, broker domain.BrokerInfo, summary *BatchSummary, log *zap.Logger) (provider.Submitter, domain.RemovalMethod, bool) {
	if broker.SupportsEmail() {
		allowed := true
		if p.gate != nil {
			var err error
			allowed, _, err = p.gate.Check(ctx, broker.PrivacyEmail)
			if err != nil {
				// Fail closed on the email channel only.
				log.Warn("suppression check failed, avoiding email channel", zap.Error(err))
				allowed = false
			}
		}
		if allowed {
			return p.email, domain.MethodAutoEmail, true
		}

		summary.Suppressed++
		if p.metrics != nil {
			p.metrics.IncSuppressedSkip()
		}
		log.Info("privacy address suppressed, trying form fallback",
			zap.String("email", broker.PrivacyEmail),
		)
	}

	if broker.SupportsForm() {
		return p.form, domain.MethodAutoForm, true
	}
	return nil, "", false
}

func (p *BatchProcessor) send(ctx context.Context, req *domain.RemovalRequest, broker domain.BrokerInfo, submitter provider.Submitter, channel domain.RemovalMethod, sentPerBroker map[string]int, summary *BatchSummary, log *zap.Logger) {
	now := p.now()
	attemptNum := req.AttemptCount + 1

	start := now
	resp, sendErr := submitter.Submit(ctx, *req, broker)
	elapsed := p.now().Sub(start)
	if p.metrics != nil {
		p.metrics.ObserveSendDuration(broker.Key, elapsed)
	}

	p.recordAttempt(ctx, req, broker, attemptNum, resp, sendErr)

	if sendErr == nil {
		p.onSent(ctx, req, broker, channel, resp, summary, log)
		sentPerBroker[broker.Key]++
		return
	}

	p.onSendFailure(ctx, req, attemptNum, sendErr, summary, log)
}

func (p *BatchProcessor) onSent(ctx context.Context, req *domain.RemovalRequest, broker domain.BrokerInfo, channel domain.RemovalMethod, resp *provider.SubmitResponse, summary *BatchSummary, log *zap.Logger) {
	now := p.now()

	waitDays := p.opts.VerifyBaseWaitDays
	if broker.EstimatedDays > waitDays {
		waitDays = broker.EstimatedDays
	}
	verifyAfter := now.AddDate(0, 0, waitDays)

	_, err := p.removals.Transition(ctx, req.ID, domain.RemovalSubmitted, func(r *domain.RemovalRequest) {
		at := now
		r.SubmittedAt = &at
		r.Method = channel
		// A successful send clears the failure streak. Per-send numbering
		// lives on the attempt audit rows.
		r.AttemptCount = 0
		r.LastError = nil
		r.NextRetryAt = nil
		r.VerifyAfter = &verifyAfter
		note := "submitted via " + channel.String()
		if resp != nil && resp.ConfirmationID != "" {
			note += ", confirmation " + resp.ConfirmationID
		}
		r.AppendNote(now, note)
	})
	if err != nil {
		summary.Failed++
		log.Error("send succeeded but state commit failed", zap.Error(err))
		return
	}

	summary.Sent++
	if p.metrics != nil {
		p.metrics.IncRemovalSent(req.BrokerKey)
	}
	log.Info("removal request submitted",
		zap.String("channel", channel.String()),
		zap.Time("verifyAfter", verifyAfter),
	)
}

func (p *BatchProcessor) onSendFailure(ctx context.Context, req *domain.RemovalRequest, attemptNum int, sendErr error, summary *BatchSummary, log *zap.Logger) {
	now := p.now()
	transient := provider.IsTransient(sendErr)
	exhausted := attemptNum >= p.opts.MaxSendAttempts

	reason := "permanent"
	if transient {
		reason = "transient"
	}
	if p.metrics != nil {
		p.metrics.IncRemovalFailed(req.BrokerKey, reason)
	}

	if !transient || exhausted {
		msg := fmt.Sprintf("send failed (%s, attempt %d/%d): %v", reason, attemptNum, p.opts.MaxSendAttempts, sendErr)
		_, err := p.removals.Transition(ctx, req.ID, domain.RemovalRequiresManual, func(r *domain.RemovalRequest) {
			r.AttemptCount++
			errStr := sendErr.Error()
			r.LastError = &errStr
			r.NextRetryAt = nil
			r.AppendNote(now, msg)
		})
		if err != nil {
			log.Error("failed to mark request for manual handling", zap.Error(err))
		}
		summary.Manual++
		p.publishManualAlert(ctx, req, msg, log)
		log.Warn("removal request routed to manual handling", zap.Error(sendErr))
		return
	}

	nextRetry := now.Add(p.opts.RetryBackoff(attemptNum))
	_, err := p.removals.Transition(ctx, req.ID, domain.RemovalFailed, func(r *domain.RemovalRequest) {
		r.AttemptCount++
		errStr := sendErr.Error()
		r.LastError = &errStr
		r.NextRetryAt = &nextRetry
		r.AppendNote(now, fmt.Sprintf("transient failure, retry after %s: %v", nextRetry.UTC().Format(time.RFC3339), sendErr))
	})
	if err != nil {
		log.Error("failed to record transient failure", zap.Error(err))
	}
	summary.Failed++
	log.Warn("send failed, scheduled for retry",
		zap.Error(sendErr),
		zap.Time("nextRetryAt", nextRetry),
	)
}

func (p *BatchProcessor) toManual(ctx context.Context, req *domain.RemovalRequest, note string, summary *BatchSummary, log *zap.Logger) {
	_, err := p.removals.Transition(ctx, req.ID, domain.RemovalRequiresManual, func(r *domain.RemovalRequest) {
		r.AppendNote(p.now(), note)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error("failed to route request to manual handling", zap.Error(err))
		summary.Failed++
		return
	}
	summary.Manual++
	p.publishManualAlert(ctx, req, note, log)
	log.Info("removal request needs manual handling", zap.String("note", note))
}

// publishManualAlert raises the internal handling ticket for a request that
// left the automated path. Best effort: a publish failure never blocks the
// batch.
func (p *BatchProcessor) publishManualAlert(ctx context.Context, req *domain.RemovalRequest, note string, log *zap.Logger) {
	if p.publisher == nil {
		return
	}

	alert := queue.AlertMessage{
		UserID:    req.UserID,
		Kind:      queue.AlertManualRequired,
		RemovalID: req.ID,
		BrokerKey: req.BrokerKey,
		Message:   note,
	}
	if err := p.publisher.Publish(ctx, alert); err != nil {
		log.Warn("failed to publish manual-handling alert", zap.Error(err))
	}
}

func (p *BatchProcessor) recordAttempt(ctx context.Context, req *domain.RemovalRequest, broker domain.BrokerInfo, attemptNum int, resp *provider.SubmitResponse, sendErr error) {
	if p.attempts == nil {
		return
	}

	attempt := &domain.RemovalAttempt{
		ID:         uuid.NewString(),
		RemovalID:  req.ID,
		BrokerKey:  broker.Key,
		AttemptNum: attemptNum,
	}
	if resp != nil {
		code := resp.StatusCode
		attempt.StatusCode = &code
		if resp.Body != "" {
			body := resp.Body
			attempt.Response = &body
		}
	}
	if sendErr != nil {
		errStr := sendErr.Error()
		attempt.Error = &errStr
	}

	if err := p.attempts.Create(ctx, attempt); err != nil {
		p.logger.Warn("failed to record attempt",
			zap.Error(err),
			zap.String("removalId", req.ID),
		)
	}
}
