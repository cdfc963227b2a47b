package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, limit int) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return limiter, mr
}

func TestFixedWindowLimiter(t *testing.T) {
	limiter, _ := newLimiter(t, 2)
	ctx := context.Background()

	if d := limiter.Allow(ctx, "ip-1"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first request should pass with 1 remaining, got %+v", d)
	}
	if d := limiter.Allow(ctx, "ip-1"); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("second request should pass, got %+v", d)
	}
	d := limiter.Allow(ctx, "ip-1")
	if d.Allowed {
		t.Fatalf("third request should be blocked")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}
	if d := limiter.Allow(ctx, "ip-2"); !d.Allowed {
		t.Fatalf("other keys keep their own quota")
	}
}

func TestFixedWindowLimiterResetsNextWindow(t *testing.T) {
	limiter, _ := newLimiter(t, 1)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	if !limiter.Allow(ctx, "user-1").Allowed {
		t.Fatalf("first request should pass")
	}
	if limiter.Allow(ctx, "user-1").Allowed {
		t.Fatalf("second request in window should be blocked")
	}
	limiter.now = func() time.Time { return base.Add(time.Minute) }
	if !limiter.Allow(ctx, "user-1").Allowed {
		t.Fatalf("next window should pass")
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	limiter, mr := newLimiter(t, 1)
	mr.Close()
	if limiter.Allow(context.Background(), "ip-1").Allowed {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestNewFixedWindowLimiterValidates(t *testing.T) {
	if _, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatalf("expected nil client to fail")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewFixedWindowLimiter(client, "", 0, time.Second); err == nil {
		t.Fatalf("expected zero limit to fail")
	}
}
