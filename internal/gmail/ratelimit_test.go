package gmail

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"
)

// fakeClock only moves when a sleep asks it to.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	c.mu.Lock()
	c.slept += d
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(clk *fakeClock, qps float64) *RateLimiter {
	rl := NewRateLimiter(qps)
	rl.now = clk.Now
	rl.sleep = clk.Sleep
	return rl
}

func TestOperationCost(t *testing.T) {
	tests := []struct {
		op   Operation
		want int
	}{
		{OpProfile, 1},
		{OpMessagesList, 5},
		{OpMessagesGetRaw, 5},
		{Operation(99), 1},
	}
	for _, tt := range tests {
		if got := tt.op.Cost(); got != tt.want {
			t.Errorf("Operation(%d).Cost() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestNewRateLimiter_ScalesWithQPS(t *testing.T) {
	tests := []struct {
		qps  float64
		want float64
	}{
		{5, QuotaBurst},
		{50, QuotaBurst},
		{2.5, QuotaBurst / 2},
		{0, QuotaBurst * MinQPS / fullQPS},
	}
	for _, tt := range tests {
		rl := NewRateLimiter(tt.qps)
		if got := float64(rl.full); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("qps %v: limit = %v, want %v", tt.qps, got, tt.want)
		}
	}
}

func TestRateLimiter_SpendsUnits(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk, 5)
	for range 10 {
		if err := rl.Acquire(context.Background(), OpMessagesGetRaw); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if got := rl.Available(); math.Abs(got-(QuotaBurst-50)) > 1e-6 {
		t.Errorf("Available = %v, want %v", got, QuotaBurst-50)
	}
	if clk.slept != 0 {
		t.Errorf("slept %v with a full bucket", clk.slept)
	}
}

func TestRateLimiter_WaitsForRefill(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk, 5)
	for range QuotaBurst / 5 {
		if err := rl.Acquire(context.Background(), OpMessagesList); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if err := rl.Acquire(context.Background(), OpMessagesList); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// 5 units at 250 units/s.
	if clk.slept < 20*time.Millisecond {
		t.Errorf("slept %v, want at least 20ms", clk.slept)
	}
}

func TestRateLimiter_AcquireCancelled(t *testing.T) {
	rl := NewRateLimiter(5)
	rl.Throttle(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rl.Acquire(ctx, OpProfile); err != context.Canceled {
		t.Errorf("Acquire = %v, want context.Canceled", err)
	}
}

func TestRateLimiter_Throttle(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk, 5)

	rl.Throttle(30 * time.Second)
	if got := rl.Available(); got != 0 {
		t.Errorf("Available during pause = %v", got)
	}
	if d := rl.delay(OpProfile); d != 30*time.Second {
		t.Errorf("delay during pause = %v", d)
	}

	// A shorter throttle does not cut the pause.
	rl.Throttle(5 * time.Second)
	if got := rl.pausedUntil.Sub(clk.Now()); got != 30*time.Second {
		t.Errorf("pause = %v, want 30s", got)
	}

	// Units accrued during the pause are dropped and refill runs at half
	// speed afterwards.
	clk.Advance(30 * time.Second)
	if got := rl.Available(); got != 0 {
		t.Errorf("Available right after pause = %v, want 0", got)
	}
	clk.Advance(time.Second)
	if got := rl.Available(); math.Abs(got-QuotaBurst/2) > 1e-6 {
		t.Errorf("Available in slow period = %v, want %v", got, QuotaBurst/2)
	}

	clk.Advance(time.Minute)
	rl.Available()
	if rl.bucket.Limit() != rl.full {
		t.Errorf("limit not restored: %v", rl.bucket.Limit())
	}
}
