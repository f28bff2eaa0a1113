package testutil

import (
	"sync"
	"time"
)

// DefaultStep is the distance between consecutive DeterministicClock ticks.
const DefaultStep = 100 * time.Millisecond

// DeterministicClock hands out strictly increasing modification times for
// test records, so fixtures never collide on the unique file index by accident.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	seq  int64
}

// NewDeterministicClock creates a clock starting at the Unix epoch.
//
// The first call to Next() returns epoch + DefaultStep.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{base: time.UnixMilli(0).UTC(), step: DefaultStep}
}

// NewDeterministicClockAt creates a clock starting at base that advances by step.
func NewDeterministicClockAt(base time.Time, step time.Duration) *DeterministicClock {
	if step <= 0 {
		step = DefaultStep
	}
	return &DeterministicClock{base: base, step: step}
}

// Next advances the clock and returns the new time.
func (c *DeterministicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.base.Add(time.Duration(c.seq) * c.step)
}

// NextMillis is Next as milliseconds since the Unix epoch.
func (c *DeterministicClock) NextMillis() int64 {
	return c.Next().UnixMilli()
}

// Current returns the current time without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Add(time.Duration(c.seq) * c.step)
}

// Reset rewinds the clock to its base.
//
// After Reset(), the next call to Next() returns base + step again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
