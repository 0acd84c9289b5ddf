package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/queue"
)

func newTestRemovalService(t *testing.T, repo *fakeRemovalRepo, pub *fakePublisher) *RemovalService {
	t.Helper()
	svc, err := NewRemovalService(repo, newFakeMilestoneRepo(), pub, nil)
	if err != nil {
		t.Fatalf("NewRemovalService: %v", err)
	}
	return svc
}

func TestCreate_DefaultsAndValidation(t *testing.T) {
	t.Parallel()

	repo := newFakeRemovalRepo()
	svc := newTestRemovalService(t, repo, &fakePublisher{})

	req := pendingRemoval("RADARIS", time.Now())
	req.ID = ""
	req.Status = ""

	created, err := svc.Create(context.Background(), &req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Error("id not assigned")
	}
	if created.Status != domain.RemovalPending {
		t.Errorf("status = %s, want PENDING", created.Status)
	}

	bad := pendingRemoval("", time.Now())
	if _, err := svc.Create(context.Background(), &bad); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing broker: err = %v, want ErrValidation", err)
	}
}

func TestCreate_RejectsDuplicateActiveExposure(t *testing.T) {
	t.Parallel()

	repo := newFakeRemovalRepo()
	svc := newTestRemovalService(t, repo, &fakePublisher{})
	ctx := context.Background()

	first := pendingRemoval("RADARIS", time.Now())
	if _, err := svc.Create(ctx, &first); err != nil {
		t.Fatalf("Create first: %v", err)
	}

	dup := pendingRemoval("RADARIS", time.Now())
	dup.ExposureID = first.ExposureID
	if _, err := svc.Create(ctx, &dup); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate exposure: err = %v, want ErrConflict", err)
	}
}

func TestCancel_FromPending(t *testing.T) {
	t.Parallel()

	repo := newFakeRemovalRepo()
	req := pendingRemoval("RADARIS", time.Now())
	repo.add(req)
	svc := newTestRemovalService(t, repo, &fakePublisher{})

	got, err := svc.Cancel(context.Background(), req.ID, "user opted out of service")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != domain.RemovalCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
	if !strings.Contains(got.Notes, "user opted out") {
		t.Errorf("notes = %q, missing cancel reason", got.Notes)
	}
}

func TestCancel_TerminalRequestRejected(t *testing.T) {
	t.Parallel()

	repo := newFakeRemovalRepo()
	req := pendingRemoval("RADARIS", time.Now())
	req.Status = domain.RemovalCompleted
	repo.add(req)
	svc := newTestRemovalService(t, repo, &fakePublisher{})

	if _, err := svc.Cancel(context.Background(), req.ID, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("cancel completed: err = %v, want ErrInvalidTransition", err)
	}
}

func TestComplete_FirstRemovalMilestoneFiresOnce(t *testing.T) {
	t.Parallel()

	repo := newFakeRemovalRepo()
	pub := &fakePublisher{}
	svc := newTestRemovalService(t, repo, pub)
	ctx := context.Background()

	userID := "33333333-3333-4333-8333-333333333333"
	first := submittedRemoval("RADARIS", time.Now())
	first.UserID = userID
	second := submittedRemoval("SPOKEO", time.Now())
	second.UserID = userID
	repo.add(first)
	repo.add(second)

	if _, err := svc.Complete(ctx, first.ID, "verified removed"); err != nil {
		t.Fatalf("Complete first: %v", err)
	}
	if _, err := svc.Complete(ctx, second.ID, "verified removed"); err != nil {
		t.Fatalf("Complete second: %v", err)
	}

	var firstRemovalAlerts, completedAlerts int
	for _, alert := range pub.published() {
		switch alert.Kind {
		case queue.AlertFirstRemoval:
			firstRemovalAlerts++
		case queue.AlertRemovalCompleted:
			completedAlerts++
		}
	}
	if completedAlerts != 2 {
		t.Errorf("completion alerts = %d, want 2", completedAlerts)
	}
	if firstRemovalAlerts != 1 {
		t.Errorf("first-removal alerts = %d, want exactly 1", firstRemovalAlerts)
	}
}

func TestComplete_PublishFailureDoesNotRollBack(t *testing.T) {
	t.Parallel()

	repo := newFakeRemovalRepo()
	req := submittedRemoval("RADARIS", time.Now())
	repo.add(req)
	svc := newTestRemovalService(t, repo, &fakePublisher{err: errors.New("broker down")})

	got, err := svc.Complete(context.Background(), req.ID, "verified removed")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != domain.RemovalCompleted {
		t.Errorf("status = %s, want COMPLETED despite publish failure", got.Status)
	}
}
