package vtime

import (
	"fmt"
	"time"
)

// Sleep suspends for a duration measured from its first poll. Created idle;
// the first poll always reports pending and records the arming time, so even
// a zero-duration sleep yields control at least once before completing. After
// completion the sleep is fused: further polls return the same observed
// timestamp without re-reading the clock.
type Sleep struct {
	duration time.Duration
	start    Timestamp
	armed    bool
	done     bool
	at       Timestamp
}

// NewSleep creates an idle sleep. Negative durations are clamped to zero.
func NewSleep(d time.Duration) *Sleep {
	if d < 0 {
		d = 0
	}
	return &Sleep{duration: d}
}

// Poll arms the sleep on first call and completes once the clock has advanced
// past start+duration. The completion value is the Timestamp actually
// observed, which may overshoot the target under real time.
func (s *Sleep) Poll(pc *PollContext) (any, bool) {
	if s.done {
		return s.at, true
	}
	if !s.armed {
		s.armed = true
		s.start = pc.Now()
		pc.WakeAt(s.start.Add(s.duration))
		return nil, false
	}
	now := pc.Now()
	if now.Sub(s.start) >= s.duration {
		s.done = true
		s.at = now
		return s.at, true
	}
	pc.WakeAt(s.start.Add(s.duration))
	return nil, false
}

// Deadline suspends until the clock reaches a fixed target. Like Sleep, the
// first poll always reports pending; the completion value is the observed
// timestamp, never below the target.
type Deadline struct {
	target Timestamp
	polled bool
	done   bool
	at     Timestamp
}

// SleepUntil creates a deadline at the given clock reading.
func SleepUntil(target Timestamp) *Deadline {
	return &Deadline{target: target}
}

// Target returns the clock reading the deadline completes at.
func (d *Deadline) Target() Timestamp {
	return d.target
}

// Poll completes once the clock has reached the target.
func (d *Deadline) Poll(pc *PollContext) (any, bool) {
	if d.done {
		return d.at, true
	}
	if !d.polled {
		d.polled = true
		pc.WakeAt(d.target)
		return nil, false
	}
	now := pc.Now()
	if now >= d.target {
		d.done = true
		d.at = now
		return d.at, true
	}
	pc.WakeAt(d.target)
	return nil, false
}

// Interval is a stateless factory of deadlines one period apart. Tick
// computes its target from the clock at call time, so a slow caller does not
// accumulate a backlog: missed ticks are lost, never bunched up.
type Interval struct {
	clock  Clock
	period time.Duration
}

// NewInterval creates an interval with the given period. The period must be
// positive.
func NewInterval(c Clock, period time.Duration) *Interval {
	if period <= 0 {
		panic(fmt.Sprintf("vtime: interval period must be positive, got %v", period))
	}
	return &Interval{clock: c, period: period}
}

// Period returns the interval's period.
func (iv *Interval) Period() time.Duration {
	return iv.period
}

// Tick manufactures a deadline one period from now.
func (iv *Interval) Tick() *Deadline {
	return SleepUntil(iv.clock.Now().Add(iv.period))
}
