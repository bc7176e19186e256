// internal/ratelimit/bucket.go
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Bucket is a token-bucket admission gate sized from a requests-per-minute
// budget: capacity = rpm, fill rate = capacity/60s. Refill is computed
// lazily from elapsed wall-clock time on each admission; there is no
// background timer. Safe for concurrent use.
type Bucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	fillRate float64 // tokens per second
	last     time.Time

	// sleep is swapped out in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBucket creates a full bucket for the given requests-per-minute budget.
func NewBucket(rpm int) (*Bucket, error) {
	if rpm < 1 {
		return nil, fmt.Errorf("rpm must be >= 1, got %d", rpm)
	}
	capacity := float64(rpm)
	return &Bucket{
		capacity: capacity,
		tokens:   capacity,
		fillRate: capacity / 60.0,
		last:     time.Now(),
		sleep:    sleepCtx,
	}, nil
}

// Admit blocks until cost units of budget are available, then deducts them.
// When the request exceeds the available budget the caller sleeps for
// exactly the deficit divided by the fill rate, holding the mutex, so
// concurrent admissions serialize: each sleeper waits out its own deficit
// after the previous one has been charged. Returns early with the context
// error if ctx is cancelled during the wait; a cancelled admission charges
// nothing.
func (b *Bucket) Admit(ctx context.Context, cost float64) error {
	if cost <= 0 {
		cost = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= cost {
		b.tokens -= cost
		return nil
	}
	need := cost - b.tokens
	delay := time.Duration(need / b.fillRate * float64(time.Second))
	if err := b.sleep(ctx, delay); err != nil {
		return err
	}

	// The wait accrued exactly the deficit; settle the balance at zero.
	b.refillLocked()
	b.tokens -= cost
	if b.tokens < 0 {
		b.tokens = 0
	}
	return nil
}

// SetRate rescales the bucket to a new requests-per-minute budget. The
// current balance is clamped to the new capacity so a throttle-down takes
// effect immediately rather than after a full drain cycle.
func (b *Bucket) SetRate(rpm int) {
	if rpm < 1 {
		rpm = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	b.capacity = float64(rpm)
	b.fillRate = b.capacity / 60.0
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Rate returns the current requests-per-minute budget.
func (b *Bucket) Rate() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.capacity)
}

// refillLocked credits tokens for the wall-clock time elapsed since the
// last admission check. Caller must hold b.mu.
func (b *Bucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.fillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
