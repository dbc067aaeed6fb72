package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, mr *miniredis.Miniredis, limit int) *FixedWindowLimiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	limiter.now = func() time.Time { return time.Unix(1_700_000_010, 0) }
	return limiter
}

func TestFixedWindowLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newTestLimiter(t, mr, 2)
	ctx := context.Background()

	if !limiter.Allow(ctx, "ip-1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "ip-1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow(ctx, "ip-1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow(ctx, "ip-2") {
		t.Fatalf("other keys have their own quota")
	}
}

func TestFixedWindowLimiterFailClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newTestLimiter(t, mr, 1)
	mr.Close()
	if limiter.Allow(context.Background(), "ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresClient(t *testing.T) {
	limiter, err := NewFixedWindowLimiter(nil, "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for nil client")
	}
	if _, err := NewFixedWindowLimiter(redis.NewClient(&redis.Options{}), "", 0, time.Second); err == nil {
		t.Fatalf("expected constructor error for zero limit")
	}
}

func TestRetryAfter(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newTestLimiter(t, mr, 1)
	// 1_700_000_010 is 30s before the next minute boundary.
	if got := limiter.RetryAfter(); got != 30 {
		t.Fatalf("expected 30s, got %d", got)
	}
}
