package queue

import (
	"testing"
	"time"
)

func TestDLQName(t *testing.T) {
	if got := DLQName(BounceQueue); got != "dlq.bounce_events" {
		t.Fatalf("DLQName = %s, want dlq.bounce_events", got)
	}
	if got := DLQName(AlertQueue); got != "dlq.user_alerts" {
		t.Fatalf("DLQName = %s, want dlq.user_alerts", got)
	}
}

func TestBounceMessageValidate(t *testing.T) {
	msg := BounceMessage{
		Email:      "person@example.com",
		Type:       "permanent",
		OccurredAt: time.Now(),
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.Email = " "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty email")
	}

	msg.Email = "person@example.com"
	msg.Type = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty type")
	}
}

func TestAlertMessageValidate(t *testing.T) {
	msg := AlertMessage{
		UserID: "u1",
		Kind:   AlertRemovalCompleted,
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.UserID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty user id")
	}

	msg.UserID = "u1"
	msg.Kind = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty kind")
	}
}
