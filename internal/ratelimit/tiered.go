package ratelimit

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownTier means a caller referenced a tier that was never configured.
// It is a configuration error: raised immediately, never silently permissive.
var ErrUnknownTier = errors.New("unknown rate limit tier")

// TieredLimiter composes independently configured limiters under fixed tier
// names (priority classes, per-identity quotas). The tier set is immutable
// after construction.
type TieredLimiter struct {
	tiers map[string]*Limiter
}

// NewTiered builds one limiter per named config.
func NewTiered(configs map[string]Config) *TieredLimiter {
	tiers := make(map[string]*Limiter, len(configs))
	for name, cfg := range configs {
		tiers[name] = New(cfg)
	}
	return &TieredLimiter{tiers: tiers}
}

func (t *TieredLimiter) tier(name string) (*Limiter, error) {
	lim, ok := t.tiers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return lim, nil
}

// Check dispatches a consuming check to the named tier.
func (t *TieredLimiter) Check(ctx context.Context, tier string) (Decision, error) {
	lim, err := t.tier(tier)
	if err != nil {
		return Decision{}, err
	}
	return lim.Check(ctx), nil
}

// Status dispatches a non-consuming read to the named tier.
func (t *TieredLimiter) Status(ctx context.Context, tier string) (Decision, error) {
	lim, err := t.tier(tier)
	if err != nil {
		return Decision{}, err
	}
	return lim.Status(ctx), nil
}

// WaitForSlot dispatches a best-effort wait to the named tier.
func (t *TieredLimiter) WaitForSlot(ctx context.Context, tier string) error {
	lim, err := t.tier(tier)
	if err != nil {
		return err
	}
	return lim.WaitForSlot(ctx)
}

// Reset clears the resolved scope within the named tier.
func (t *TieredLimiter) Reset(ctx context.Context, tier string) error {
	lim, err := t.tier(tier)
	if err != nil {
		return err
	}
	lim.Reset(ctx)
	return nil
}

// Cleanup prunes every tier.
func (t *TieredLimiter) Cleanup() {
	for _, lim := range t.tiers {
		lim.Cleanup()
	}
}
