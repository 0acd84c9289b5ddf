package joblock

import (
	"context"
	"time"
)

// Lease is the result of one acquire attempt.
type Lease struct {
	Acquired bool
	// Recovered is set when the previous holder's lease had expired and the
	// lock was taken over from a presumed-dead run.
	Recovered bool
	// HeldSince reports when the current holder acquired the lock. On a
	// failed acquire it refers to the competing holder.
	HeldSince time.Time
}

// Locker provides cross-invocation mutual exclusion per job name with a lease
// timeout, so a crashed run never blocks future runs for longer than its
// lease. Release is a no-op when the lock is not held by this holder.
type Locker interface {
	Acquire(ctx context.Context, jobName string, lease time.Duration) (Lease, error)
	Release(ctx context.Context, jobName string) error
}
