package repository

import (
	"time"

	"github.com/optoutly/removal-engine/internal/domain"
)

// RemovalRequestModel is the persistence model for the removal_requests table.
type RemovalRequestModel struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	UserID     string `gorm:"type:uuid;not null"`
	ExposureID string `gorm:"type:uuid;not null"`
	BrokerKey  string `gorm:"type:varchar(64);not null"`

	Status domain.RemovalStatus `gorm:"type:varchar(20);not null"`
	Method domain.RemovalMethod `gorm:"type:varchar(20);not null"`

	SubmittedAt    *time.Time
	CompletedAt    *time.Time
	LastVerifiedAt *time.Time
	VerifyAfter    *time.Time
	VerifyCount    int `gorm:"not null;default:0"`

	AttemptCount int     `gorm:"not null;default:0"`
	LastError    *string `gorm:"type:text"`
	NextRetryAt  *time.Time

	ProofBeforeRef *string `gorm:"type:varchar(512)"`
	ProofAfterRef  *string `gorm:"type:varchar(512)"`
	ProofFormRef   *string `gorm:"type:varchar(512)"`
	ProofTakenAt   *time.Time

	Notes string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (RemovalRequestModel) TableName() string {
	return "removal_requests"
}

// RemovalAttemptModel is the persistence model for removal_attempts.
type RemovalAttemptModel struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	RemovalID  string  `gorm:"type:uuid;not null"`
	BrokerKey  string  `gorm:"type:varchar(64);not null"`
	AttemptNum int     `gorm:"not null"`
	StatusCode *int    `gorm:"type:int"`
	Response   *string `gorm:"type:text"`
	Error      *string `gorm:"type:text"`
	CreatedAt  time.Time
}

func (RemovalAttemptModel) TableName() string {
	return "removal_attempts"
}

// ExposureModel is the persistence model for exposures.
type ExposureModel struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	UserID     string `gorm:"type:uuid;not null"`
	BrokerKey  string `gorm:"type:varchar(64);not null"`
	SourceName string `gorm:"type:varchar(255);not null"`
	DataType   string `gorm:"type:varchar(64);not null"`
	Severity   string `gorm:"type:varchar(16);not null"`

	Status domain.ExposureStatus `gorm:"type:varchar(24);not null"`

	ProfileURL *string `gorm:"type:varchar(512)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ExposureModel) TableName() string {
	return "exposures"
}

// EmailSuppressionModel is the persistence model for email_suppressions.
type EmailSuppressionModel struct {
	Email string `gorm:"type:varchar(255);primaryKey"`

	Suppressed bool                      `gorm:"not null;default:false"`
	Reason     *domain.SuppressionReason `gorm:"type:varchar(32)"`

	BounceCount   int    `gorm:"not null;default:0"`
	BounceHistory string `gorm:"type:text"`
	Category      string `gorm:"type:varchar(64)"`

	FirstBouncedAt *time.Time
	LastBouncedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (EmailSuppressionModel) TableName() string {
	return "email_suppressions"
}

// JobRunModel is the persistence model for job_runs.
type JobRunModel struct {
	ID       string           `gorm:"type:uuid;primaryKey"`
	JobName  string           `gorm:"type:varchar(64);not null"`
	Status   domain.RunStatus `gorm:"type:varchar(16);not null"`
	Message  string           `gorm:"type:text"`
	Metadata string           `gorm:"type:jsonb"`

	StartedAt  time.Time `gorm:"not null"`
	DurationMS int64     `gorm:"not null"`

	CreatedAt time.Time
}

func (JobRunModel) TableName() string {
	return "job_runs"
}

// UserMilestoneModel is the persistence model for user_milestones.
type UserMilestoneModel struct {
	UserID    string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time
}

func (UserMilestoneModel) TableName() string {
	return "user_milestones"
}

func removalModelFromDomain(r *domain.RemovalRequest) *RemovalRequestModel {
	if r == nil {
		return nil
	}

	return &RemovalRequestModel{
		ID:             r.ID,
		UserID:         r.UserID,
		ExposureID:     r.ExposureID,
		BrokerKey:      r.BrokerKey,
		Status:         r.Status,
		Method:         r.Method,
		SubmittedAt:    r.SubmittedAt,
		CompletedAt:    r.CompletedAt,
		LastVerifiedAt: r.LastVerifiedAt,
		VerifyAfter:    r.VerifyAfter,
		VerifyCount:    r.VerifyCount,
		AttemptCount:   r.AttemptCount,
		LastError:      r.LastError,
		NextRetryAt:    r.NextRetryAt,
		ProofBeforeRef: r.ProofBeforeRef,
		ProofAfterRef:  r.ProofAfterRef,
		ProofFormRef:   r.ProofFormRef,
		ProofTakenAt:   r.ProofTakenAt,
		Notes:          r.Notes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func removalModelToDomain(m *RemovalRequestModel) *domain.RemovalRequest {
	if m == nil {
		return nil
	}

	return &domain.RemovalRequest{
		ID:             m.ID,
		UserID:         m.UserID,
		ExposureID:     m.ExposureID,
		BrokerKey:      m.BrokerKey,
		Status:         m.Status,
		Method:         m.Method,
		SubmittedAt:    m.SubmittedAt,
		CompletedAt:    m.CompletedAt,
		LastVerifiedAt: m.LastVerifiedAt,
		VerifyAfter:    m.VerifyAfter,
		VerifyCount:    m.VerifyCount,
		AttemptCount:   m.AttemptCount,
		LastError:      m.LastError,
		NextRetryAt:    m.NextRetryAt,
		ProofBeforeRef: m.ProofBeforeRef,
		ProofAfterRef:  m.ProofAfterRef,
		ProofFormRef:   m.ProofFormRef,
		ProofTakenAt:   m.ProofTakenAt,
		Notes:          m.Notes,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.RemovalAttempt) *RemovalAttemptModel {
	if a == nil {
		return nil
	}

	return &RemovalAttemptModel{
		ID:         a.ID,
		RemovalID:  a.RemovalID,
		BrokerKey:  a.BrokerKey,
		AttemptNum: a.AttemptNum,
		StatusCode: a.StatusCode,
		Response:   a.Response,
		Error:      a.Error,
		CreatedAt:  a.CreatedAt,
	}
}

func exposureModelToDomain(m *ExposureModel) *domain.Exposure {
	if m == nil {
		return nil
	}

	return &domain.Exposure{
		ID:         m.ID,
		UserID:     m.UserID,
		BrokerKey:  m.BrokerKey,
		SourceName: m.SourceName,
		DataType:   m.DataType,
		Severity:   m.Severity,
		Status:     m.Status,
		ProfileURL: m.ProfileURL,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func suppressionModelFromDomain(s *domain.EmailSuppression) *EmailSuppressionModel {
	if s == nil {
		return nil
	}

	return &EmailSuppressionModel{
		Email:          s.Email,
		Suppressed:     s.Suppressed,
		Reason:         s.Reason,
		BounceCount:    s.BounceCount,
		BounceHistory:  s.BounceHistory,
		Category:       s.Category,
		FirstBouncedAt: s.FirstBouncedAt,
		LastBouncedAt:  s.LastBouncedAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func suppressionModelToDomain(m *EmailSuppressionModel) *domain.EmailSuppression {
	if m == nil {
		return nil
	}

	return &domain.EmailSuppression{
		Email:          m.Email,
		Suppressed:     m.Suppressed,
		Reason:         m.Reason,
		BounceCount:    m.BounceCount,
		BounceHistory:  m.BounceHistory,
		Category:       m.Category,
		FirstBouncedAt: m.FirstBouncedAt,
		LastBouncedAt:  m.LastBouncedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func jobRunModelFromDomain(j *domain.JobRun) *JobRunModel {
	if j == nil {
		return nil
	}

	return &JobRunModel{
		ID:         j.ID,
		JobName:    j.JobName,
		Status:     j.Status,
		Message:    j.Message,
		Metadata:   j.Metadata,
		StartedAt:  j.StartedAt,
		DurationMS: j.DurationMS,
		CreatedAt:  j.CreatedAt,
	}
}

func jobRunModelToDomain(m *JobRunModel) *domain.JobRun {
	if m == nil {
		return nil
	}

	return &domain.JobRun{
		ID:         m.ID,
		JobName:    m.JobName,
		Status:     m.Status,
		Message:    m.Message,
		Metadata:   m.Metadata,
		StartedAt:  m.StartedAt,
		DurationMS: m.DurationMS,
		CreatedAt:  m.CreatedAt,
	}
}
