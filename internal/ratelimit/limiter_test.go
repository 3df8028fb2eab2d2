package ratelimit

import (
	"context"
	"testing"
	"time"
)

type ctxKey struct{}

// fixedClock drives a limiter deterministically.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(cfg Config) (*Limiter, *fixedClock) {
	l := New(cfg)
	clock := &fixedClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	l.now = clock.now
	return l, clock
}

func TestCheckConsumesQuota(t *testing.T) {
	l, _ := newClockedLimiter(Config{MaxRequests: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := l.Check(ctx)
		if !d.Allowed {
			t.Fatalf("check %d refused, want allowed", i+1)
		}
		if d.Count != i+1 {
			t.Fatalf("check %d count = %d, want %d", i+1, d.Count, i+1)
		}
		if d.Remaining != 3-(i+1) {
			t.Fatalf("check %d remaining = %d, want %d", i+1, d.Remaining, 3-(i+1))
		}
	}

	d := l.Check(ctx)
	if d.Allowed {
		t.Fatal("fourth check allowed, want refused")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("refusal retryAfter = %s, want > 0", d.RetryAfter)
	}
	if d.Count != 3 {
		t.Fatalf("refusal count = %d, want 3", d.Count)
	}
}

func TestSlotFreesAfterRetryAfter(t *testing.T) {
	l, clock := newClockedLimiter(Config{MaxRequests: 2, Window: 10 * time.Second})
	ctx := context.Background()

	l.Check(ctx)
	clock.advance(time.Second)
	l.Check(ctx)

	d := l.Check(ctx)
	if d.Allowed {
		t.Fatal("third check should be refused")
	}
	wantReset := clock.t.Add(9 * time.Second) // oldest stamp + window
	if !d.ResetAt.Equal(wantReset) {
		t.Fatalf("resetAt = %s, want %s", d.ResetAt, wantReset)
	}
	if d.RetryAfter != 9*time.Second {
		t.Fatalf("retryAfter = %s, want 9s", d.RetryAfter)
	}

	clock.advance(d.RetryAfter)
	if d := l.Check(ctx); !d.Allowed {
		t.Fatal("check after retryAfter elapsed should be allowed")
	}
}

func TestRetryAfterRoundsUpToWholeSeconds(t *testing.T) {
	l, clock := newClockedLimiter(Config{MaxRequests: 1, Window: 1500 * time.Millisecond})
	ctx := context.Background()

	l.Check(ctx)
	clock.advance(200 * time.Millisecond)
	d := l.Check(ctx)
	if d.Allowed {
		t.Fatal("second check should be refused")
	}
	// 1300ms remain until the oldest stamp exits; ceiling is 2s.
	if d.RetryAfter != 2*time.Second {
		t.Fatalf("retryAfter = %s, want 2s", d.RetryAfter)
	}
}

func TestStatusDoesNotConsume(t *testing.T) {
	l, _ := newClockedLimiter(Config{MaxRequests: 1, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if d := l.Status(ctx); !d.Allowed || d.Count != 0 {
			t.Fatalf("status read %d = %+v, want allowed with count 0", i, d)
		}
	}
	if d := l.Check(ctx); !d.Allowed {
		t.Fatal("check after status reads should still be allowed")
	}
}

func TestResetClearsOneKey(t *testing.T) {
	l, _ := newClockedLimiter(Config{
		MaxRequests: 1,
		Window:      time.Minute,
		KeyResolver: func(ctx context.Context) string {
			if v, ok := ctx.Value(ctxKey{}).(string); ok {
				return v
			}
			return "global"
		},
	})
	ctxA := context.WithValue(context.Background(), ctxKey{}, "a")
	ctxB := context.WithValue(context.Background(), ctxKey{}, "b")

	l.Check(ctxA)
	l.Check(ctxB)
	if d := l.Check(ctxA); d.Allowed {
		t.Fatal("key a should be exhausted")
	}

	l.Reset(ctxA)
	if d := l.Check(ctxA); !d.Allowed {
		t.Fatal("check after reset should be allowed regardless of history")
	}
	if d := l.Check(ctxB); d.Allowed {
		t.Fatal("reset of key a must not touch key b")
	}
}

func TestPruneThrottlingDoesNotAffectCounts(t *testing.T) {
	l, clock := newClockedLimiter(Config{MaxRequests: 2, Window: 8 * time.Second})
	ctx := context.Background()

	l.Check(ctx)
	l.Check(ctx)
	// A read at t+7s prunes (nothing is stale yet) and resets the prune
	// marker. At t+8.5s both stamps are outside the window but the
	// quarter-window gate suppresses pruning; the decision must still count
	// only in-window stamps.
	clock.advance(7 * time.Second)
	l.Status(ctx)
	clock.advance(1500 * time.Millisecond)
	if d := l.Check(ctx); !d.Allowed || d.Count != 1 {
		t.Fatalf("stale stamps counted after window elapsed: %+v", d)
	}
}

func TestCleanupDropsIdleRecords(t *testing.T) {
	l, clock := newClockedLimiter(Config{MaxRequests: 1, Window: time.Second})
	ctx := context.Background()

	l.Check(ctx)
	clock.advance(3 * time.Second) // > two window lengths idle
	l.Cleanup()

	l.mu.Lock()
	n := len(l.records)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("records after cleanup = %d, want 0", n)
	}
}

func TestCleanupKeepsActiveRecords(t *testing.T) {
	l, clock := newClockedLimiter(Config{MaxRequests: 5, Window: 10 * time.Second})
	ctx := context.Background()

	l.Check(ctx)
	clock.advance(time.Second)
	l.Check(ctx)
	l.Cleanup()

	if d := l.Status(ctx); d.Count != 2 {
		t.Fatalf("count after cleanup = %d, want 2", d.Count)
	}
}

func TestWaitForSlotAllowedReturnsImmediately(t *testing.T) {
	l, _ := newClockedLimiter(Config{MaxRequests: 1, Window: time.Minute})
	if err := l.WaitForSlot(context.Background()); err != nil {
		t.Fatalf("wait on open slot: %v", err)
	}
}

func TestWaitForSlotHonorsCancellation(t *testing.T) {
	l, _ := newClockedLimiter(Config{MaxRequests: 1, Window: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	l.Check(ctx) // exhaust

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := l.WaitForSlot(ctx); err != context.Canceled {
		t.Fatalf("wait err = %v, want context.Canceled", err)
	}
}
