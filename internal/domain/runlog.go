package domain

import "time"

// RunStatus is the outcome class of one job invocation.
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
	RunSkipped RunStatus = "SKIPPED"
	RunPartial RunStatus = "PARTIAL"
)

func (s RunStatus) String() string { return string(s) }

// JobRun is the execution log entry written for every invocation, regardless
// of outcome. It is the primary operational surface for humans auditing the
// system.
type JobRun struct {
	ID       string
	JobName  string
	Status   RunStatus
	Message  string
	Metadata string

	StartedAt  time.Time
	DurationMS int64

	CreatedAt time.Time
}

// UserMilestone records a once-per-user event, e.g. the first completed
// removal. The unique (user_id, name) index makes milestone side effects
// idempotent: only the insert that actually lands fires the user alert.
type UserMilestone struct {
	UserID    string
	Name      string
	CreatedAt time.Time
}

// Well-known milestone names.
const MilestoneFirstRemoval = "first_removal"
