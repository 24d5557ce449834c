package gmail

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operation is a Gmail API call with a quota cost.
type Operation int

const (
	OpProfile        Operation = iota // 1 unit
	OpMessagesList                    // 5 units
	OpMessagesGetRaw                  // 5 units
)

// Cost returns the quota units an operation consumes.
func (o Operation) Cost() int {
	switch o {
	case OpMessagesList, OpMessagesGetRaw:
		return 5
	default:
		return 1
	}
}

const (
	// QuotaBurst is Gmail's per-user quota per second.
	QuotaBurst = 250
	// MinQPS is the lowest accepted QPS.
	MinQPS = 0.1

	fullQPS  = 5.0 // QPS at which the whole per-second quota is used
	minDelay = 10 * time.Millisecond
)

// RateLimiter spends Gmail quota units from a token bucket. Throttle pauses
// it after a 429 or a quota 403; once the pause ends it runs at half speed
// for as long again.
type RateLimiter struct {
	mu          sync.Mutex
	bucket      *rate.Limiter
	full        rate.Limit
	pausedUntil time.Time
	slowUntil   time.Time
	resume      bool // the pause has not been lifted yet

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter returns a limiter for qps requests per second. Values above
// 5 are capped at the Gmail quota.
func NewRateLimiter(qps float64) *RateLimiter {
	qps = max(qps, MinQPS)
	full := rate.Limit(QuotaBurst * min(qps/fullQPS, 1))
	return &RateLimiter{
		bucket: rate.NewLimiter(full, QuotaBurst),
		full:   full,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Acquire blocks until op may run or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context, op Operation) error {
	for {
		d := r.delay(op)
		if d == 0 {
			return nil
		}
		if err := r.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// delay takes the units for op, or returns how long to wait before asking
// again.
func (r *RateLimiter) delay(op Operation) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.pausedUntil) {
		return r.pausedUntil.Sub(now)
	}
	r.settle(now)

	res := r.bucket.ReserveN(now, op.Cost())
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return max(d, minDelay)
	}
	return 0
}

// settle lifts an expired pause and ends an expired slow period. Units that
// accrued during the pause are dropped. It must be called with mu held.
func (r *RateLimiter) settle(now time.Time) {
	if r.resume {
		r.drain(now)
		r.bucket.SetLimitAt(now, r.full/2)
		r.resume = false
	}
	if !r.slowUntil.IsZero() && !now.Before(r.slowUntil) {
		r.bucket.SetLimitAt(now, r.full)
		r.slowUntil = time.Time{}
	}
}

// drain must be called with mu held.
func (r *RateLimiter) drain(now time.Time) {
	if n := int(r.bucket.TokensAt(now)); n > 0 {
		r.bucket.ReserveN(now, n)
	}
}

// Available returns the units currently in the bucket; zero while paused.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Before(r.pausedUntil) {
		return 0
	}
	r.settle(now)
	return max(r.bucket.TokensAt(now), 0)
}

// Throttle empties the bucket and pauses for d. A longer pause already in
// place is kept.
func (r *RateLimiter) Throttle(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.drain(now)
	if end := now.Add(d); end.After(r.pausedUntil) {
		r.pausedUntil = end
		r.slowUntil = end.Add(d)
	}
	r.resume = true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
