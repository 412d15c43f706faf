// ABOUTME: Time source abstraction for publish-window checks
// ABOUTME: Real clock for production, settable clock for tests

package clock

import (
	"sync"
	"time"
)

// Clock supplies "now" for publish windows and record timestamps.
// time.Now is used directly only to measure latency.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by the time package
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Fixed returns a settable Clock that stands still until Set or Advance is called
func Fixed(t time.Time) *FixedClock {
	return &FixedClock{current: t}
}

// FixedClock is a deterministic Clock. Safe for concurrent use.
type FixedClock struct {
	mu      sync.Mutex
	current time.Time
}

// Now returns the current fixed time
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set moves the clock to t
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}
