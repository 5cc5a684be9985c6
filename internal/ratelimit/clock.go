package ratelimit

import (
	"sync"
	"time"
)

// Clock returns monotonic time elapsed since an arbitrary fixed origin.
// Implementations must never go backwards.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	origin time.Time
}

// NewMonotonicClock measures time with the runtime's monotonic reading, which
// wall-clock adjustments do not affect.
func NewMonotonicClock() Clock {
	return monotonicClock{origin: time.Now()}
}

func (c monotonicClock) Now() time.Duration {
	return time.Since(c.origin)
}

// ManualClock only moves when Advance is called.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward; negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}
