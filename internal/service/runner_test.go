package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/optoutly/removal-engine/internal/domain"
)

func newTestRunner(t *testing.T, locker *fakeLocker, runs *fakeRunLogRepo) *JobRunner {
	t.Helper()
	runner, err := NewJobRunner(
		locker,
		runs,
		5*time.Minute,
		func(now time.Time) time.Time { return now.Add(4 * time.Minute) },
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("NewJobRunner: %v", err)
	}
	return runner
}

func TestRun_SuccessWritesRunLogAndReleases(t *testing.T) {
	t.Parallel()

	locker := newFakeLocker()
	runs := &fakeRunLogRepo{}
	runner := newTestRunner(t, locker, runs)

	var gotDeadline time.Time
	run, err := runner.Run(context.Background(), JobProcessPending, func(ctx context.Context, deadline time.Time) (RunResult, error) {
		gotDeadline = deadline
		return RunResult{
			Message:  "sent 25",
			Metadata: BatchSummary{Picked: 30, Sent: 25, RateLimited: 5},
		}, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.Status != domain.RunSuccess {
		t.Errorf("status = %s, want SUCCESS", run.Status)
	}
	if gotDeadline.IsZero() {
		t.Error("job body never saw a deadline")
	}

	logged := runs.last()
	if logged == nil {
		t.Fatal("no run log written")
	}
	if logged.JobName != JobProcessPending {
		t.Errorf("jobName = %s", logged.JobName)
	}
	if !strings.Contains(logged.Metadata, `"sent":25`) {
		t.Errorf("metadata = %q, want batch summary", logged.Metadata)
	}
	if locker.releases != 1 {
		t.Errorf("releases = %d, want 1", locker.releases)
	}
}

func TestRun_ContendedLockSkips(t *testing.T) {
	t.Parallel()

	locker := newFakeLocker()
	locker.contest = true
	runs := &fakeRunLogRepo{}
	runner := newTestRunner(t, locker, runs)

	invoked := false
	run, err := runner.Run(context.Background(), JobProcessPending, func(ctx context.Context, deadline time.Time) (RunResult, error) {
		invoked = true
		return RunResult{}, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if invoked {
		t.Error("job body ran despite contended lock")
	}
	if run.Status != domain.RunSkipped {
		t.Errorf("status = %s, want SKIPPED", run.Status)
	}
	if !strings.Contains(run.Message, "lock held since") {
		t.Errorf("message = %q, want holder info", run.Message)
	}
	if locker.releases != 0 {
		t.Errorf("releases = %d, want 0; a loser must not release the winner's lock", locker.releases)
	}
}

func TestRun_FailureStillWritesRunLogAndReleases(t *testing.T) {
	t.Parallel()

	locker := newFakeLocker()
	runs := &fakeRunLogRepo{}
	runner := newTestRunner(t, locker, runs)

	jobErr := errors.New("database unavailable")
	run, err := runner.Run(context.Background(), JobRetryFailed, func(ctx context.Context, deadline time.Time) (RunResult, error) {
		return RunResult{}, jobErr
	})
	if !errors.Is(err, jobErr) {
		t.Fatalf("err = %v, want the job error", err)
	}

	if run.Status != domain.RunFailed {
		t.Errorf("status = %s, want FAILED", run.Status)
	}
	logged := runs.last()
	if logged == nil {
		t.Fatal("no run log written for failed run")
	}
	if logged.Status != domain.RunFailed {
		t.Errorf("logged status = %s, want FAILED", logged.Status)
	}
	if locker.releases != 1 {
		t.Errorf("releases = %d, want 1", locker.releases)
	}
}

func TestRun_PartialStatusPreserved(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, newFakeLocker(), &fakeRunLogRepo{})

	run, err := runner.Run(context.Background(), JobVerifyRemovals, func(ctx context.Context, deadline time.Time) (RunResult, error) {
		return RunResult{Status: domain.RunPartial, Message: "budget exhausted"}, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunPartial {
		t.Errorf("status = %s, want PARTIAL", run.Status)
	}
}

func TestRun_SecondInvocationAfterReleaseSucceeds(t *testing.T) {
	t.Parallel()

	locker := newFakeLocker()
	runs := &fakeRunLogRepo{}
	runner := newTestRunner(t, locker, runs)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		run, err := runner.Run(ctx, JobProcessPending, func(ctx context.Context, deadline time.Time) (RunResult, error) {
			return RunResult{}, nil
		})
		if err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
		if run.Status != domain.RunSuccess {
			t.Errorf("run #%d status = %s, want SUCCESS", i+1, run.Status)
		}
	}
}
