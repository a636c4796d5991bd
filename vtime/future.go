package vtime

// Waker requests that the task owning a suspension be polled again. Wakers
// are safe to invoke from any goroutine; waking a finished task is a no-op.
type Waker func()

// PollContext is handed to every Poll call. A pending suspension uses it to
// request its next wake: WakeNow for an immediate re-poll, WakeAt once the
// clock reaches a target, or Waker for completion driven by an external
// source (a finished task, a cancelled token, blocking work).
type PollContext struct {
	clock Clock
	waker Waker

	immediate   bool
	deadline    Timestamp
	hasDeadline bool
}

func newPollContext(c Clock, w Waker) *PollContext {
	return &PollContext{clock: c, waker: w}
}

// Clock returns the clock all timer primitives of this scheduler read.
func (pc *PollContext) Clock() Clock {
	return pc.clock
}

// Now returns the current clock reading.
func (pc *PollContext) Now() Timestamp {
	return pc.clock.Now()
}

// Waker returns the wake callback for the task being polled.
func (pc *PollContext) Waker() Waker {
	return pc.waker
}

// WakeNow requests a re-poll on the scheduler's next pass.
func (pc *PollContext) WakeNow() {
	pc.immediate = true
}

// WakeAt requests a re-poll once the clock reaches t. Multiple calls during
// one poll keep the earliest target.
func (pc *PollContext) WakeAt(t Timestamp) {
	if !pc.hasDeadline || t < pc.deadline {
		pc.deadline = t
		pc.hasDeadline = true
	}
}

func (pc *PollContext) reset() {
	pc.immediate = false
	pc.hasDeadline = false
}

// Future is a suspendable computation. Poll either returns (value, true) when
// the computation finished, or (nil, false) after requesting a wake through
// the context. Completed futures must tolerate further polls and keep
// returning the identical result.
type Future interface {
	Poll(pc *PollContext) (any, bool)
}

// FutureFunc adapts a plain function to the Future interface.
type FutureFunc func(pc *PollContext) (any, bool)

// Poll calls f.
func (f FutureFunc) Poll(pc *PollContext) (any, bool) {
	return f(pc)
}

// Yield returns a future that suspends exactly once: pending on the first
// poll, done on the second. It is the explicit yield point for long
// cooperative computations.
func Yield() Future {
	return &yieldFuture{}
}

type yieldFuture struct {
	polled bool
	done   bool
}

func (y *yieldFuture) Poll(pc *PollContext) (any, bool) {
	if y.done {
		return nil, true
	}
	if !y.polled {
		y.polled = true
		pc.WakeNow()
		return nil, false
	}
	y.done = true
	return nil, true
}

// Immediate returns a future that is ready on its first poll with the given
// value. Listed as the last branch of a Race it acts as the default branch.
func Immediate(v any) Future {
	return immediateFuture{v: v}
}

type immediateFuture struct {
	v any
}

func (f immediateFuture) Poll(pc *PollContext) (any, bool) {
	return f.v, true
}
