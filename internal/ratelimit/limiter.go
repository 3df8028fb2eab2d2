// Package ratelimit provides sliding-window admission control for the
// external AI service quota. A limiter answers whether one more request may
// proceed now and, if not, how long until it may.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config configures one sliding-window limiter.
type Config struct {
	// MaxRequests allowed per window per key.
	MaxRequests int
	// Window is the trailing window length.
	Window time.Duration
	// KeyResolver maps a request context to a quota scope. When nil every
	// caller shares one global scope.
	KeyResolver func(ctx context.Context) string
}

func (c *Config) normalize() {
	if c.MaxRequests <= 0 {
		c.MaxRequests = 1
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.KeyResolver == nil {
		c.KeyResolver = func(context.Context) string { return "global" }
	}
}

// Decision is a read of quota state at one instant. ResetAt is the absolute
// moment the oldest in-window request falls out of the window; RetryAfter is
// set only on refusal, rounded up to whole seconds.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Count      int           `json:"count"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type record struct {
	stamps     []time.Time
	lastPruned time.Time
	lastSeen   time.Time
}

// prune drops timestamps at or before cutoff. Stamps are appended in time
// order, so everything after the first survivor is retained.
func (r *record) prune(cutoff time.Time) {
	i := 0
	for i < len(r.stamps) && !r.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)
	}
}

// Limiter is an in-memory per-key sliding-window counter. All per-key state
// is guarded by one mutex so check-and-consume is atomic.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
}

// New constructs a limiter from cfg, applying defaults for zero values.
func New(cfg Config) *Limiter {
	cfg.normalize()
	return &Limiter{
		cfg:     cfg,
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// Check resolves the caller's scope and consumes one slot when available.
// Checking is not read-only: an allowed check appends the current instant to
// the key's record as part of the same atomic operation.
func (l *Limiter) Check(ctx context.Context) Decision {
	return l.check(ctx, true)
}

// Status computes the same decision as Check without consuming quota.
func (l *Limiter) Status(ctx context.Context) Decision {
	return l.check(ctx, false)
}

func (l *Limiter) check(ctx context.Context, consume bool) Decision {
	key := l.cfg.KeyResolver(ctx)
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		rec = &record{lastPruned: now}
		l.records[key] = rec
	}
	rec.lastSeen = now

	// Pruning is throttled to bound amortized cost; the count below scans
	// the window regardless, so throttling never affects correctness.
	if now.Sub(rec.lastPruned) >= l.cfg.Window/4 {
		rec.prune(cutoff)
		rec.lastPruned = now
	}

	count := 0
	var oldest time.Time
	for _, ts := range rec.stamps {
		if ts.After(cutoff) {
			if count == 0 {
				oldest = ts
			}
			count++
		}
	}

	d := Decision{Count: count}
	if count < l.cfg.MaxRequests {
		d.Allowed = true
		if consume {
			rec.stamps = append(rec.stamps, now)
			d.Count++
			if oldest.IsZero() {
				oldest = now
			}
		}
	}
	if oldest.IsZero() {
		d.ResetAt = now.Add(l.cfg.Window)
	} else {
		d.ResetAt = oldest.Add(l.cfg.Window)
	}
	d.Remaining = l.cfg.MaxRequests - d.Count
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = ceilSeconds(d.ResetAt.Sub(now))
	}
	return d
}

// WaitForSlot checks the limit and, when refused, sleeps for RetryAfter
// before returning. It deliberately does not re-check after waking: a
// concurrent caller may take the freed slot first, so this is best-effort
// pacing, not a reservation. The wait respects context cancellation.
func (l *Limiter) WaitForSlot(ctx context.Context) error {
	d := l.Check(ctx)
	if d.Allowed {
		return nil
	}
	timer := time.NewTimer(d.RetryAfter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reset clears the record for the scope the context resolves to.
func (l *Limiter) Reset(ctx context.Context) {
	key := l.cfg.KeyResolver(ctx)
	l.mu.Lock()
	delete(l.records, key)
	l.mu.Unlock()
}

// ResetAll clears every record.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	l.records = make(map[string]*record)
	l.mu.Unlock()
}

// Cleanup prunes every record and drops those that have been empty and
// untouched for more than two window lengths. Safe against concurrent
// checks on the same keys.
func (l *Limiter) Cleanup() {
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)
	idle := 2 * l.cfg.Window

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, rec := range l.records {
		rec.prune(cutoff)
		rec.lastPruned = now
		if len(rec.stamps) == 0 && now.Sub(rec.lastSeen) > idle {
			delete(l.records, key)
		}
	}
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	whole := d.Truncate(time.Second)
	if whole < d {
		whole += time.Second
	}
	return whole
}
