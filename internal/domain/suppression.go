package domain

import (
	"fmt"
	"strings"
	"time"
)

// SuppressionReason enumerates why an address was suppressed.
type SuppressionReason string

const (
	ReasonHardBounce         SuppressionReason = "hard_bounce"
	ReasonSoftBounceRepeated SuppressionReason = "soft_bounce_repeated"
	ReasonComplaint          SuppressionReason = "complaint"
	ReasonManual             SuppressionReason = "manual"
)

func (r SuppressionReason) String() string { return string(r) }

// BounceType classifies an inbound bounce signal.
type BounceType string

const (
	BouncePermanent BounceType = "permanent"
	BounceTransient BounceType = "transient"
	BounceComplaint BounceType = "complaint"
)

func (t BounceType) IsValid() bool {
	switch t {
	case BouncePermanent, BounceTransient, BounceComplaint:
		return true
	}
	return false
}

func ParseBounceType(s string) (BounceType, error) {
	t := BounceType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid bounce type %q", ErrValidation, s)
	}
	return t, nil
}

// BounceSignal is one ingested bounce or complaint event for an address.
type BounceSignal struct {
	Email      string
	Type       BounceType
	Category   string
	Diagnostic string
	OccurredAt time.Time
}

// EmailSuppression is the per-address suppression record. Once Suppressed is
// set, nothing is sent to the address until a human unsuppresses it.
type EmailSuppression struct {
	Email string

	Suppressed bool
	Reason     *SuppressionReason

	BounceCount   int
	BounceHistory string
	Category      string

	FirstBouncedAt *time.Time
	LastBouncedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail canonicalizes an address for suppression lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
