package ratelimit

import "context"

// RateLimiter gates outbound sends per broker. Reserve atomically checks the
// daily cap and minimum spacing and consumes one slot only when both pass, so
// two overlapping invocations can never both slip past the cap.
type RateLimiter interface {
	Reserve(ctx context.Context, broker string) (bool, error)
}
