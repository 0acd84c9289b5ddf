package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/joblock"
	"github.com/optoutly/removal-engine/internal/observability"
	"github.com/optoutly/removal-engine/internal/repository"
)

// Job names accepted by the scheduler trigger endpoint.
const (
	JobProcessPending = "process_pending"
	JobRetryFailed    = "retry_failed"
	JobVerifyRemovals = "verify_removals"
)

// RunResult is what a job body reports back to the runner.
type RunResult struct {
	Status   domain.RunStatus
	Message  string
	Metadata any
}

// JobFunc is one schedulable unit of work, bounded by the deadline.
type JobFunc func(ctx context.Context, deadline time.Time) (RunResult, error)

// JobRunner wraps every scheduled job with the shared invocation contract:
// take the per-job lock, derive the run deadline, execute, release, and
// write a run log entry no matter how the run ended.
type JobRunner struct {
	locker  joblock.Locker
	runs    repository.RunLogRepository
	metrics *observability.Metrics
	logger  *zap.Logger

	lease    time.Duration
	deadline func(now time.Time) time.Time

	now func() time.Time
}

func NewJobRunner(
	locker joblock.Locker,
	runs repository.RunLogRepository,
	lease time.Duration,
	deadline func(now time.Time) time.Time,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*JobRunner, error) {
	if locker == nil {
		return nil, fmt.Errorf("job locker is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("run log repository is required")
	}
	if deadline == nil {
		return nil, fmt.Errorf("deadline function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}

	return &JobRunner{
		locker:   locker,
		runs:     runs,
		metrics:  metrics,
		logger:   logger,
		lease:    lease,
		deadline: deadline,
		now:      time.Now,
	}, nil
}

// Run executes one named job invocation. A contended lock produces a SKIPPED
// run log entry, not an error; overlapping triggers are normal operation.
func (j *JobRunner) Run(ctx context.Context, jobName string, fn JobFunc) (*domain.JobRun, error) {
	started := j.now()
	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	log := j.logger.With(
		zap.String("job", jobName),
		zap.String("runId", runID),
	)

	lease, err := j.locker.Acquire(ctx, jobName, j.lease)
	if err != nil {
		return nil, fmt.Errorf("acquire job lock: %w", err)
	}
	if !lease.Acquired {
		log.Info("job already running elsewhere, skipping",
			zap.Time("heldSince", lease.HeldSince),
		)
		return j.writeRun(ctx, runID, jobName, started, domain.RunSkipped,
			fmt.Sprintf("lock held since %s", lease.HeldSince.UTC().Format(time.RFC3339)), nil, log)
	}
	if lease.Recovered {
		log.Warn("recovered job lock from expired lease",
			zap.Time("previousHolderSince", lease.HeldSince),
		)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := j.locker.Release(releaseCtx, jobName); err != nil {
			log.Warn("failed to release job lock", zap.Error(err))
		}
	}()

	deadline := j.deadline(started)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	log.Info("job started", zap.Time("deadline", deadline))

	result, runErr := fn(runCtx, deadline)
	if runErr != nil {
		log.Error("job failed", zap.Error(runErr))
		run, writeErr := j.writeRun(ctx, runID, jobName, started, domain.RunFailed, runErr.Error(), result.Metadata, log)
		if writeErr != nil {
			return nil, writeErr
		}
		return run, runErr
	}

	status := result.Status
	if status == "" {
		status = domain.RunSuccess
	}
	log.Info("job finished",
		zap.String("status", status.String()),
		zap.Duration("elapsed", j.now().Sub(started)),
	)
	return j.writeRun(ctx, runID, jobName, started, status, result.Message, result.Metadata, log)
}

func (j *JobRunner) writeRun(ctx context.Context, runID, jobName string, started time.Time, status domain.RunStatus, message string, metadata any, log *zap.Logger) (*domain.JobRun, error) {
	run := &domain.JobRun{
		ID:         runID,
		JobName:    jobName,
		Status:     status,
		Message:    message,
		StartedAt:  started,
		DurationMS: j.now().Sub(started).Milliseconds(),
	}
	if metadata != nil {
		if encoded, err := json.Marshal(metadata); err == nil {
			run.Metadata = string(encoded)
		}
	}

	if j.metrics != nil {
		j.metrics.ObserveJobRun(jobName, status.String(), time.Duration(run.DurationMS)*time.Millisecond)
	}

	if err := j.runs.Create(ctx, run); err != nil {
		// The run already happened; a lost log line must not fail the
		// invocation.
		log.Error("failed to write run log", zap.Error(err))
		return run, nil
	}
	return run, nil
}
