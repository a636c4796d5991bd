// Package vtime provides the deterministic virtual-time scheduler that the
// platform's simulation backends are built on.
//
// # Reading Guide
//
// Start with these three files to understand the kernel:
//   - clock.go: Timestamp and the two Clock backends (real and simulated)
//   - timer.go: Sleep, Deadline and Interval suspension primitives
//   - scheduler.go: the cooperative poll loop, idle detection and fast-forward
//
// # Architecture
//
// Identical application code runs on either of two executors sharing one
// contract (the Executor interface):
//   - Scheduler: a cooperative single-loop executor. Paired with a SimClock it
//     is fully simulated and reproducible: when no task can progress, it
//     fast-forwards the clock to the nearest pending deadline instead of
//     spinning. Paired with a RealClock, idle waits sleep in real time.
//   - ParallelScheduler: drives each task on its own goroutine on top of the
//     Go runtime's work-stealing scheduler.
//
// Work suspends only at timer primitives, an explicit Yield, a blocking-task
// join, or a multi-way Race. A suspension is anything implementing Future:
// Poll reports pending and requests a wake (immediately, at a deadline, or
// from an external source via the Waker), or reports done with a value.
//
// Cancellation is cooperative. CancelToken carries a hierarchical advisory
// flag; timeouts are expressed as a Race against a Sleep or a token's
// Cancelled() branch, never as a separate mechanism.
package vtime
