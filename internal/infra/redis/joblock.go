package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/optoutly/removal-engine/internal/joblock"
	goredis "github.com/redis/go-redis/v9"
)

const (
	acquireContended = 0
	acquireFresh     = 1
	acquireRecovered = 2

	// Lock keys are kept well past the lease so the script, not key expiry,
	// decides whether a lease is stale. The TTL is only hygiene.
	lockTTLFactor = 4
)

// acquireScript implements lease-based acquire as one atomic step. The stored
// value is "token|acquiredUnix|expiresUnix". An entry whose lease has passed
// is treated as absent and taken over, reported as a recovery.
var acquireScript = goredis.NewScript(`
local raw = redis.call("GET", KEYS[1])
local now = tonumber(ARGV[1])
if raw then
  local token, acquired, expires = string.match(raw, "^([^|]+)|([^|]+)|([^|]+)$")
  if expires and tonumber(expires) > now then
    return {0, tonumber(acquired)}
  end
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
  return {2, now}
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return {1, now}
`)

// releaseScript deletes the lock only when this holder still owns it, so a
// release after lease takeover never clobbers the new holder.
var releaseScript = goredis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local token = string.match(raw, "^([^|]+)")
if token == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

var _ joblock.Locker = (*JobLocker)(nil)

// JobLocker provides cross-invocation mutual exclusion per job name, backed
// by Redis compare-and-swap scripts.
type JobLocker struct {
	client *goredis.Client
	now    func() time.Time

	mu     sync.Mutex
	tokens map[string]string
}

func NewJobLocker(client *goredis.Client) (*JobLocker, error) {
	return newJobLocker(client, time.Now)
}

func newJobLocker(client *goredis.Client, nowFn func() time.Time) (*JobLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &JobLocker{
		client: client,
		now:    nowFn,
		tokens: make(map[string]string),
	}, nil
}

func (l *JobLocker) Acquire(ctx context.Context, jobName string, lease time.Duration) (joblock.Lease, error) {
	if l == nil || l.client == nil {
		return joblock.Lease{}, fmt.Errorf("job locker is not initialized")
	}

	name, err := normalizeJobName(jobName)
	if err != nil {
		return joblock.Lease{}, err
	}
	if lease <= 0 {
		return joblock.Lease{}, fmt.Errorf("lease duration must be positive")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	now := l.now().UTC()
	token := uuid.NewString()
	value := fmt.Sprintf("%s|%d|%d", token, now.Unix(), now.Add(lease).Unix())

	result, err := acquireScript.Run(ctx, l.client,
		[]string{lockKey(name)},
		now.Unix(),
		value,
		(lease * lockTTLFactor).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return joblock.Lease{}, fmt.Errorf("failed to acquire job lock %q: %w", name, err)
	}
	if len(result) != 2 {
		return joblock.Lease{}, fmt.Errorf("unexpected acquire result for job lock %q: %v", name, result)
	}

	heldSince := time.Unix(result[1], 0).UTC()
	switch result[0] {
	case acquireContended:
		return joblock.Lease{Acquired: false, HeldSince: heldSince}, nil
	case acquireRecovered:
		l.rememberToken(name, token)
		return joblock.Lease{Acquired: true, Recovered: true, HeldSince: heldSince}, nil
	case acquireFresh:
		l.rememberToken(name, token)
		return joblock.Lease{Acquired: true, HeldSince: heldSince}, nil
	default:
		return joblock.Lease{}, fmt.Errorf("unexpected acquire code %d for job lock %q", result[0], name)
	}
}

func (l *JobLocker) Release(ctx context.Context, jobName string) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("job locker is not initialized")
	}

	name, err := normalizeJobName(jobName)
	if err != nil {
		return err
	}

	l.mu.Lock()
	token, ok := l.tokens[name]
	delete(l.tokens, name)
	l.mu.Unlock()
	if !ok {
		// Never held by this process; release stays a safe no-op.
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := releaseScript.Run(ctx, l.client, []string{lockKey(name)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release job lock %q: %w", name, err)
	}
	return nil
}

func (l *JobLocker) rememberToken(name, token string) {
	l.mu.Lock()
	l.tokens[name] = token
	l.mu.Unlock()
}

func normalizeJobName(jobName string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(jobName))
	if name == "" {
		return "", fmt.Errorf("job name is required")
	}
	return name, nil
}

func lockKey(name string) string {
	return "job_lock:" + name
}
