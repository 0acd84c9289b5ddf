package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestBrokerRateLimiterDailyCap(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_800_000_000, 0)
	limiter, err := newBrokerRateLimiter(rdb, 2, 0, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newBrokerRateLimiter() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Reserve(context.Background(), "WHITEPAGES")
		if err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Reserve(context.Background(), "WHITEPAGES")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if allowed {
		t.Fatal("third call should be rejected by daily cap")
	}

	// New UTC day bucket is created implicitly.
	now = now.Add(24 * time.Hour)
	allowed, err = limiter.Reserve(context.Background(), "WHITEPAGES")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !allowed {
		t.Fatal("next day should allow sends again")
	}
}

func TestBrokerRateLimiterMinSpacing(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_800_000_100, 0)
	limiter, err := newBrokerRateLimiter(rdb, 100, 15*time.Minute, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newBrokerRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Reserve(context.Background(), "spokeo")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !allowed {
		t.Fatal("first call should be allowed")
	}

	now = now.Add(5 * time.Minute)
	allowed, err = limiter.Reserve(context.Background(), "SPOKEO")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if allowed {
		t.Fatal("call inside minimum spacing should be rejected")
	}

	now = now.Add(10 * time.Minute)
	allowed, err = limiter.Reserve(context.Background(), "SPOKEO")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !allowed {
		t.Fatal("call past minimum spacing should be allowed")
	}
}

func TestBrokerRateLimiterPerBroker(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_800_000_200, 0)
	limiter, err := newBrokerRateLimiter(rdb, 1, 0, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newBrokerRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Reserve(context.Background(), "WHITEPAGES")
	if err != nil {
		t.Fatalf("Reserve(WHITEPAGES) error = %v", err)
	}
	if !allowed {
		t.Fatal("WHITEPAGES should be allowed on first request")
	}

	allowed, err = limiter.Reserve(context.Background(), "BEENVERIFIED")
	if err != nil {
		t.Fatalf("Reserve(BEENVERIFIED) error = %v", err)
	}
	if !allowed {
		t.Fatal("BEENVERIFIED should be allowed on first request")
	}

	allowed, err = limiter.Reserve(context.Background(), "WHITEPAGES")
	if err != nil {
		t.Fatalf("Reserve(WHITEPAGES) error = %v", err)
	}
	if allowed {
		t.Fatal("WHITEPAGES second request should be rejected")
	}
}

func TestBrokerRateLimiterRequiresBroker(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	limiter, err := NewBrokerRateLimiter(rdb, 10, time.Minute)
	if err != nil {
		t.Fatalf("NewBrokerRateLimiter() error = %v", err)
	}

	if _, err := limiter.Reserve(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty broker")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
