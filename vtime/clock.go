package vtime

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is an opaque monotonic clock reading, in nanoseconds since the
// owning clock's epoch. Timestamps from different clocks are not comparable.
type Timestamp int64

// Add returns the timestamp shifted forward by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d)
}

// Sub returns the duration elapsed since o.
func (t Timestamp) Sub(o Timestamp) time.Duration {
	return time.Duration(t - o)
}

func (t Timestamp) String() string {
	return time.Duration(t).String()
}

// Clock is the process's substitutable notion of "now". Now never fails;
// every timer primitive attached to one scheduler reads the same Clock.
type Clock interface {
	Now() Timestamp
}

// RealClock reads the OS monotonic clock, relative to the instant the clock
// was created.
type RealClock struct {
	base time.Time
}

// NewRealClock creates a real-time clock whose epoch is the current instant.
func NewRealClock() *RealClock {
	return &RealClock{base: time.Now()}
}

// Now returns the monotonic time elapsed since the clock's epoch.
func (c *RealClock) Now() Timestamp {
	return Timestamp(time.Since(c.base))
}

// SimClock is an explicitly-controlled simulated clock. Time only moves when
// SetNow or Advance is called, or when a Scheduler fast-forwards it to the
// next pending deadline. Reads are safe under concurrent access; writes are
// serialized.
type SimClock struct {
	mu  sync.RWMutex
	now Timestamp

	// While realDepth > 0, Now returns real readings translated into the
	// simulated monotonic domain, anchored at the outermost WithRealTime call.
	realDepth  int
	realAnchor time.Time
	anchorNow  Timestamp
}

// NewSimClock creates a simulated clock seeded at t=0.
func NewSimClock() *SimClock {
	return &SimClock{}
}

// NewSimClockAt creates a simulated clock seeded at the given reading.
func NewSimClockAt(t Timestamp) *SimClock {
	return &SimClock{now: t}
}

// Now returns the current simulated reading, or a real-derived reading while
// a WithRealTime scope is active.
func (c *SimClock) Now() Timestamp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.realDepth > 0 {
		return c.anchorNow.Add(c.realElapsedLocked())
	}
	return c.now
}

// realElapsedLocked translates the wall clock into the monotonic domain.
// Divergence between the two domains is a backend defect, not a recoverable
// timer error.
func (c *SimClock) realElapsedLocked() time.Duration {
	elapsed := time.Since(c.realAnchor)
	if elapsed < 0 {
		panic(fmt.Sprintf("vtime: real clock ran backwards by %v during WithRealTime", -elapsed))
	}
	return elapsed
}

// SetNow moves the simulated clock to t. The clock is monotonic: moving it
// backwards is a fatal defect.
func (c *SimClock) SetNow(t Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t < c.now {
		panic(fmt.Sprintf("vtime: simulated clock moved backwards: %v -> %v", c.now, t))
	}
	c.now = t
}

// Advance moves the simulated clock forward by d.
func (c *SimClock) Advance(d time.Duration) {
	if d < 0 {
		panic(fmt.Sprintf("vtime: cannot advance simulated clock by negative duration %v", d))
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// WithRealTime forces real timestamps for the duration of body, for callers
// that need true wall-clock enforcement layered on an otherwise simulated
// scheduler. On exit the real time spent inside body is folded into the
// simulated counter so the clock never regresses. Nested scopes share the
// outermost anchor.
func (c *SimClock) WithRealTime(body func()) {
	c.mu.Lock()
	c.realDepth++
	if c.realDepth == 1 {
		c.realAnchor = time.Now()
		c.anchorNow = c.now
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.realDepth--
		if c.realDepth == 0 {
			c.now = c.anchorNow.Add(c.realElapsedLocked())
		}
		c.mu.Unlock()
	}()

	body()
}
