package domain

import (
	"fmt"
	"strings"
	"time"
)

// ExposureStatus represents the visible state of a discovered exposure. It is
// a projection of the linked removal request's status, never mutated
// independently once a removal request exists.
type ExposureStatus string

const (
	ExposureActive            ExposureStatus = "ACTIVE"
	ExposureRemovalPending    ExposureStatus = "REMOVAL_PENDING"
	ExposureRemovalInProgress ExposureStatus = "REMOVAL_IN_PROGRESS"
	ExposureRemoved           ExposureStatus = "REMOVED"
	ExposureMonitoring        ExposureStatus = "MONITORING"
	ExposureWhitelisted       ExposureStatus = "WHITELISTED"
)

func (s ExposureStatus) String() string { return string(s) }

func (s ExposureStatus) IsValid() bool {
	switch s {
	case ExposureActive, ExposureRemovalPending, ExposureRemovalInProgress,
		ExposureRemoved, ExposureMonitoring, ExposureWhitelisted:
		return true
	}
	return false
}

func ParseExposureStatus(s string) (ExposureStatus, error) {
	st := ExposureStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid exposure status %q", ErrValidation, s)
	}
	return st, nil
}

// Exposure is a discovered instance of a user's personal data at a broker.
// Discovery is owned by the scanning subsystem; this service only advances
// the status in lockstep with the linked removal request.
type Exposure struct {
	ID         string
	UserID     string
	BrokerKey  string
	SourceName string
	DataType   string
	Severity   string

	Status ExposureStatus

	ProfileURL *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
