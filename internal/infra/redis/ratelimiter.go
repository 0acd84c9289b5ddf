package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/optoutly/removal-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultDailyCap int64 = 25
	// Counter keys survive two day buckets so a bucket created just before
	// midnight is still inspectable the next morning.
	bucketTTLSeconds = 2 * 24 * 60 * 60
)

// reserveScript checks the (broker, day) counter against the daily cap and
// the last-send timestamp against the minimum spacing, and consumes one slot
// only when both pass. Check and increment happen in one script so two
// near-simultaneous callers can never both slip through.
var reserveScript = goredis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= tonumber(ARGV[1]) then
  return 0
end
local last = tonumber(redis.call("GET", KEYS[2]) or "0")
local now = tonumber(ARGV[2])
if last > 0 and now - last < tonumber(ARGV[3]) then
  return 0
end
redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[4])
redis.call("SET", KEYS[2], now, "EX", ARGV[4])
return 1
`)

var _ ratelimit.RateLimiter = (*BrokerRateLimiter)(nil)

// BrokerRateLimiter is a distributed per-broker send limiter backed by Redis.
// Day buckets roll over at UTC midnight; a new bucket is created implicitly
// by the first send of the day, never reset explicitly.
type BrokerRateLimiter struct {
	client     *goredis.Client
	dailyCap   int64
	minSpacing time.Duration
	now        func() time.Time
	script     *goredis.Script
}

func NewBrokerRateLimiter(client *goredis.Client, dailyCap int, minSpacing time.Duration) (*BrokerRateLimiter, error) {
	return newBrokerRateLimiter(client, int64(dailyCap), minSpacing, time.Now)
}

func newBrokerRateLimiter(
	client *goredis.Client,
	dailyCap int64,
	minSpacing time.Duration,
	nowFn func() time.Time,
) (*BrokerRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if dailyCap <= 0 {
		dailyCap = defaultDailyCap
	}
	if minSpacing < 0 {
		minSpacing = 0
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &BrokerRateLimiter{
		client:     client,
		dailyCap:   dailyCap,
		minSpacing: minSpacing,
		now:        nowFn,
		script:     reserveScript,
	}, nil
}

func (r *BrokerRateLimiter) Reserve(ctx context.Context, broker string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToUpper(strings.TrimSpace(broker))
	if normalized == "" {
		return false, fmt.Errorf("broker is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now().UTC()
	countKey := fmt.Sprintf("broker_limit:%s:%s", normalized, now.Format("20060102"))
	lastKey := fmt.Sprintf("broker_last:%s", normalized)

	result, err := r.script.Run(ctx, r.client,
		[]string{countKey, lastKey},
		r.dailyCap,
		now.Unix(),
		int64(r.minSpacing.Seconds()),
		bucketTTLSeconds,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate broker rate limit: %w", err)
	}

	return result == 1, nil
}
