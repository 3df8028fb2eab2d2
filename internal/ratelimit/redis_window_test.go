package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisWindow(t *testing.T, max int, window time.Duration) *RedisWindow {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisWindow(client, max, window)
}

func TestRedisWindowCheck(t *testing.T) {
	ctx := context.Background()
	w := newTestRedisWindow(t, 2, time.Minute)

	for i := 0; i < 2; i++ {
		d, err := w.Check(ctx, "tenant")
		if err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
		if !d.Allowed || d.Count != i+1 {
			t.Fatalf("check %d = %+v, want allowed with count %d", i+1, d, i+1)
		}
	}

	d, err := w.Check(ctx, "tenant")
	if err != nil {
		t.Fatalf("third check: %v", err)
	}
	if d.Allowed {
		t.Fatal("third check should be refused")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("retryAfter = %s, want > 0", d.RetryAfter)
	}

	// Keys are independent.
	if d, err := w.Check(ctx, "other"); err != nil || !d.Allowed {
		t.Fatalf("check on other key = %+v, %v; want allowed", d, err)
	}
}

func TestRedisWindowStatus(t *testing.T) {
	ctx := context.Background()
	w := newTestRedisWindow(t, 1, time.Minute)

	for i := 0; i < 3; i++ {
		d, err := w.Status(ctx, "tenant")
		if err != nil {
			t.Fatalf("status %d: %v", i+1, err)
		}
		if !d.Allowed || d.Count != 0 {
			t.Fatalf("status %d = %+v, want allowed with count 0", i+1, d)
		}
	}
	if d, err := w.Check(ctx, "tenant"); err != nil || !d.Allowed {
		t.Fatalf("check after status reads = %+v, %v; want allowed", d, err)
	}
}
