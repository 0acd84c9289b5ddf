package queue

import (
	"context"
	"fmt"
)

const (
	// BounceQueue carries inbound bounce and complaint events from the mail
	// relay.
	BounceQueue = "bounce_events"

	// AlertQueue carries outbound user-facing alerts (completed removals,
	// milestones).
	AlertQueue = "user_alerts"
)

// Publisher publishes user alert messages.
type Publisher interface {
	Publish(ctx context.Context, msg AlertMessage) error
	Close() error
}

// BounceHandler handles one consumed bounce event.
type BounceHandler func(ctx context.Context, msg BounceMessage) error

// Consumer consumes bounce events from the queue.
type Consumer interface {
	Consume(ctx context.Context, handler BounceHandler) error
	Close() error
}

// DLQName returns the dead-letter queue name, e.g. dlq.bounce_events.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

func workQueues() []string {
	return []string{BounceQueue, AlertQueue}
}
