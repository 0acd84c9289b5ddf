package queue

import (
	"fmt"
	"strings"
	"time"
)

// BounceMessage is the broker payload for one bounce or complaint event.
type BounceMessage struct {
	Email      string    `json:"email"`
	Type       string    `json:"type"`
	Category   string    `json:"category,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (m BounceMessage) Validate() error {
	if strings.TrimSpace(m.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if strings.TrimSpace(m.Type) == "" {
		return fmt.Errorf("type is required")
	}
	return nil
}

// AlertMessage is the broker payload for a user-facing alert.
type AlertMessage struct {
	UserID    string `json:"userId"`
	Kind      string `json:"kind"`
	RemovalID string `json:"removalId,omitempty"`
	BrokerKey string `json:"brokerKey,omitempty"`
	Message   string `json:"message,omitempty"`
}

const (
	AlertRemovalCompleted = "removal_completed"
	AlertFirstRemoval     = "first_removal"
	AlertManualRequired   = "manual_action_required"
)

func (m AlertMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(m.Kind) == "" {
		return fmt.Errorf("kind is required")
	}
	return nil
}
