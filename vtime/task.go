package vtime

import (
	"errors"
	"fmt"
	"sync"
)

// TaskID identifies a spawned task within its executor.
type TaskID int64

// TaskState tracks a task through its lifecycle.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("TaskState(%d)", int32(s))
	}
}

func (s TaskState) terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ErrUnfinished is returned by Handle.Result while the task is still live.
var ErrUnfinished = errors.New("vtime: task has not finished")

// JoinError is the only failure surfaced from spawn/join: the task panicked
// or was cancelled before completing. Panics are caught at the task boundary
// and never unwind into the scheduler loop.
type JoinError struct {
	Task      TaskID
	Panic     any
	Cancelled bool
}

func (e *JoinError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("vtime: task %d cancelled", e.Task)
	}
	return fmt.Sprintf("vtime: task %d panicked: %v", e.Task, e.Panic)
}

// JoinResult is the completion value a Handle yields when awaited as a
// Future, for example inside a Race.
type JoinResult struct {
	Value any
	Err   error
}

// Handle is the caller-held reference to a spawned task's eventual result.
// It is awaitable (implements Future, yielding a JoinResult) and shared-safe.
type Handle struct {
	id TaskID

	mu      sync.Mutex
	state   TaskState
	value   any
	err     error
	wakers  []Waker
	aborted bool
	onAbort func()
}

func newHandle(id TaskID) *Handle {
	return &Handle{id: id, state: TaskPending}
}

// ID returns the task's identifier.
func (h *Handle) ID() TaskID {
	return h.id
}

// State returns the task's current lifecycle state.
func (h *Handle) State() TaskState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsFinished reports whether the task reached a terminal state.
func (h *Handle) IsFinished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.terminal()
}

// Abort requests cooperative cancellation. It is advisory: a task already
// dispatched to blocking work runs to completion regardless.
func (h *Handle) Abort() {
	h.mu.Lock()
	if h.state.terminal() || h.aborted {
		h.mu.Unlock()
		return
	}
	h.aborted = true
	abort := h.onAbort
	h.mu.Unlock()
	if abort != nil {
		abort()
	}
}

// Result returns the task's outcome, or ErrUnfinished while it is live.
func (h *Handle) Result() (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.terminal() {
		return nil, ErrUnfinished
	}
	return h.value, h.err
}

// Poll makes the handle awaitable: pending until the task finishes, then
// done with a JoinResult. Fused after completion.
func (h *Handle) Poll(pc *PollContext) (any, bool) {
	h.mu.Lock()
	if h.state.terminal() {
		res := JoinResult{Value: h.value, Err: h.err}
		h.mu.Unlock()
		return res, true
	}
	h.wakers = append(h.wakers, pc.Waker())
	h.mu.Unlock()
	return nil, false
}

// subscribe registers a waker fired when the task finishes. Returns false,
// without registering, if the task already finished.
func (h *Handle) subscribe(w Waker) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.terminal() {
		return false
	}
	h.wakers = append(h.wakers, w)
	return true
}

// finish moves the handle to a terminal state and fires pending wakers.
func (h *Handle) finish(state TaskState, value any, err error) {
	h.mu.Lock()
	if h.state.terminal() {
		h.mu.Unlock()
		return
	}
	h.state = state
	h.value = value
	h.err = err
	wakers := h.wakers
	h.wakers = nil
	h.mu.Unlock()
	for _, w := range wakers {
		w()
	}
}

func (h *Handle) complete(value any) {
	h.finish(TaskCompleted, value, nil)
}

func (h *Handle) fail(state TaskState, err error) {
	h.finish(state, nil, err)
}
