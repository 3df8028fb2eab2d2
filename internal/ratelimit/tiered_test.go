package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTieredDispatchesPerTier(t *testing.T) {
	tl := NewTiered(map[string]Config{
		"a": {MaxRequests: 1, Window: time.Second},
		"b": {MaxRequests: 2, Window: time.Second},
	})
	ctx := context.Background()

	first, err := tl.Check(ctx, "a")
	if err != nil || !first.Allowed {
		t.Fatalf("first check on a = %+v, %v; want allowed", first, err)
	}
	second, err := tl.Check(ctx, "a")
	if err != nil {
		t.Fatalf("second check on a: %v", err)
	}
	if second.Allowed {
		t.Fatal("second check on tier a within the window should be refused")
	}

	// Tier b is independently scoped.
	if d, err := tl.Check(ctx, "b"); err != nil || !d.Allowed {
		t.Fatalf("check on b = %+v, %v; want allowed", d, err)
	}
}

func TestTieredUnknownTier(t *testing.T) {
	tl := NewTiered(map[string]Config{"a": {MaxRequests: 1, Window: time.Second}})
	ctx := context.Background()

	if _, err := tl.Check(ctx, "b"); !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("check err = %v, want ErrUnknownTier", err)
	}
	if _, err := tl.Status(ctx, "b"); !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("status err = %v, want ErrUnknownTier", err)
	}
	if err := tl.WaitForSlot(ctx, "b"); !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("wait err = %v, want ErrUnknownTier", err)
	}
	if err := tl.Reset(ctx, "b"); !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("reset err = %v, want ErrUnknownTier", err)
	}
}

func TestTieredReset(t *testing.T) {
	tl := NewTiered(map[string]Config{"a": {MaxRequests: 1, Window: time.Minute}})
	ctx := context.Background()

	tl.Check(ctx, "a")
	if err := tl.Reset(ctx, "a"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d, _ := tl.Check(ctx, "a"); !d.Allowed {
		t.Fatal("check after reset should be allowed")
	}
}
