package domain

import (
	"fmt"
	"strings"
	"time"
)

// RemovalStatus represents the lifecycle state of a removal request.
type RemovalStatus string

const (
	RemovalPending        RemovalStatus = "PENDING"
	RemovalSubmitted      RemovalStatus = "SUBMITTED"
	RemovalInProgress     RemovalStatus = "IN_PROGRESS"
	RemovalAcknowledged   RemovalStatus = "ACKNOWLEDGED"
	RemovalCompleted      RemovalStatus = "COMPLETED"
	RemovalRequiresManual RemovalStatus = "REQUIRES_MANUAL"
	RemovalFailed         RemovalStatus = "FAILED"
	RemovalCancelled      RemovalStatus = "CANCELLED"
	RemovalSkipped        RemovalStatus = "SKIPPED"
)

func (s RemovalStatus) String() string { return string(s) }

func (s RemovalStatus) IsValid() bool {
	switch s {
	case RemovalPending, RemovalSubmitted, RemovalInProgress, RemovalAcknowledged,
		RemovalCompleted, RemovalRequiresManual, RemovalFailed, RemovalCancelled, RemovalSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the status never transitions again without an
// administrative override.
func (s RemovalStatus) IsTerminal() bool {
	return s == RemovalCompleted || s == RemovalCancelled
}

func ParseRemovalStatus(s string) (RemovalStatus, error) {
	st := RemovalStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid removal status %q", ErrValidation, s)
	}
	return st, nil
}

// RemovalMethod represents how a removal request is delivered to the broker.
type RemovalMethod string

const (
	MethodAutoEmail   RemovalMethod = "AUTO_EMAIL"
	MethodAutoForm    RemovalMethod = "AUTO_FORM"
	MethodManualGuide RemovalMethod = "MANUAL_GUIDE"
)

func (m RemovalMethod) String() string { return string(m) }

func (m RemovalMethod) IsValid() bool {
	switch m {
	case MethodAutoEmail, MethodAutoForm, MethodManualGuide:
		return true
	}
	return false
}

func ParseRemovalMethod(s string) (RemovalMethod, error) {
	m := RemovalMethod(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid removal method %q", ErrValidation, s)
	}
	return m, nil
}

// RemovalRequest is the tracked unit of work asking one broker to remove one
// user's data. An exposure maps to at most one active removal request.
type RemovalRequest struct {
	ID         string
	UserID     string
	ExposureID string
	BrokerKey  string

	Status RemovalStatus
	Method RemovalMethod

	SubmittedAt    *time.Time
	CompletedAt    *time.Time
	LastVerifiedAt *time.Time
	VerifyAfter    *time.Time
	VerifyCount    int

	AttemptCount int
	LastError    *string
	NextRetryAt  *time.Time

	ProofBeforeRef *string
	ProofAfterRef  *string
	ProofFormRef   *string
	ProofTakenAt   *time.Time

	Notes string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *RemovalRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: removal request is required", ErrValidation)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(r.ExposureID) == "" {
		return fmt.Errorf("%w: exposure id is required", ErrValidation)
	}
	if strings.TrimSpace(r.BrokerKey) == "" {
		return fmt.Errorf("%w: broker key is required", ErrValidation)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, r.Status)
	}
	if !r.Method.IsValid() {
		return fmt.Errorf("%w: invalid method %q", ErrValidation, r.Method)
	}
	return nil
}

// AppendNote adds a timestamped system note to the audit trail.
func (r *RemovalRequest) AppendNote(at time.Time, note string) {
	line := fmt.Sprintf("[%s] %s", at.UTC().Format(time.RFC3339), note)
	if r.Notes == "" {
		r.Notes = line
		return
	}
	r.Notes = r.Notes + "\n" + line
}

// RemovalAttempt records a single outbound send attempt for audit.
type RemovalAttempt struct {
	ID         string
	RemovalID  string
	BrokerKey  string
	AttemptNum int
	StatusCode *int
	Response   *string
	Error      *string
	CreatedAt  time.Time
}
