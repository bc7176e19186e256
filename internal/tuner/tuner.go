// internal/tuner/tuner.go
//
// Adaptive concurrency controller. Observes batch-level outcome signals,
// not individual requests, and adjusts the worker count with a slow linear
// ramp up and an immediate step down. Batch-level feedback avoids thrashing
// under bursty but recoverable error spikes; the asymmetric ramp biases
// toward provider stability over raw throughput.
package tuner

import (
	"sync"
	"time"
)

// Ramp-up requires this many consecutive clean batches per worker added.
const successesPerStep = 2

// BackoffCeiling caps the delay between retry waves.
const BackoffCeiling = 20 * time.Second

// Tuner holds the concurrency state for one engine run. It is owned by the
// run that created it; there is no process-wide instance.
type Tuner struct {
	mu          sync.Mutex
	min         int
	max         int
	workers     int
	rpmHint     int
	consecErr   int
	consecOK    int
	lastErrorAt time.Time
}

// Snapshot is a consistent copy of the tuner's counters.
type Snapshot struct {
	Workers           int
	ConsecutiveErrors int
	ConsecutiveOK     int
	LastErrorAt       time.Time
}

// New creates a tuner bounded by [min, max], starting at start workers.
// Callers are expected to pass validated options; values are clamped
// defensively anyway.
func New(min, max, start, rpmHint int) *Tuner {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	if start < min {
		start = min
	}
	if start > max {
		start = max
	}
	if rpmHint < 1 {
		rpmHint = 60
	}
	return &Tuner{
		min:     min,
		max:     max,
		workers: start,
		rpmHint: rpmHint,
	}
}

// OnSuccessBatch records a clean batch. Every second consecutive clean
// batch adds one worker, up to the maximum.
func (t *Tuner) OnSuccessBatch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecOK++
	t.consecErr = 0
	if t.consecOK >= successesPerStep && t.workers < t.max {
		t.workers++
		t.consecOK = 0
	}
}

// OnErrorBatch records a batch that hit a rate limit or timed out. The
// worker count drops by one immediately, floored at the minimum.
func (t *Tuner) OnErrorBatch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecErr++
	t.consecOK = 0
	if t.workers > t.min {
		t.workers--
	}
	t.lastErrorAt = time.Now()
}

// BackoffDelay returns how long the engine should wait before dispatching
// the next wave after an error batch. Exponential in consecutive errors and
// capped; the base grows for low-RPM providers so they back off
// proportionally longer.
func (t *Tuner) BackoffDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consecErr == 0 {
		return 0
	}
	base := time.Second
	if t.rpmHint < 60 {
		base = time.Duration(60.0 / float64(t.rpmHint) * float64(time.Second))
	}
	exp := t.consecErr - 1
	if exp > 4 {
		exp = 4
	}
	delay := base * time.Duration(1<<uint(exp))
	if delay > BackoffCeiling {
		delay = BackoffCeiling
	}
	return delay
}

// Workers returns the current worker count.
func (t *Tuner) Workers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workers
}

// Snapshot returns a copy of the counters for progress reporting.
func (t *Tuner) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Workers:           t.workers,
		ConsecutiveErrors: t.consecErr,
		ConsecutiveOK:     t.consecOK,
		LastErrorAt:       t.lastErrorAt,
	}
}
