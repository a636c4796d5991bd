package vtime

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ErrDeadlock is reported when every live task is suspended, no timer is
// pending and no blocking work is outstanding: nothing can ever wake again.
var ErrDeadlock = errors.New("vtime: all tasks suspended with no pending timer or blocking work")

// Executor is the contract shared by the cooperative Scheduler and the
// multi-threaded ParallelScheduler. Consumers outside this package touch only
// this surface plus the timer constructors and CancelToken.
type Executor interface {
	// Clock returns the clock every timer primitive of this executor reads.
	Clock() Clock
	// Spawn registers a task and returns immediately. Failure surfaces only
	// through the Handle as a join error, never by unwinding into the loop.
	Spawn(f Future) *Handle
	// SpawnLocal is like Spawn but never migrates execution context. Valid
	// only under a single-threaded executor.
	SpawnLocal(f Future) *Handle
	// SpawnBlocking runs fn on a dedicated bounded worker pool so it can
	// never starve cooperative work.
	SpawnBlocking(fn func() (any, error)) *Handle
	// BlockOn drives f to completion on the calling goroutine while
	// previously spawned work keeps making progress.
	BlockOn(f Future) (any, error)
	// Wait blocks until every outstanding task has completed and aggregates
	// any join errors.
	Wait() error
}

// task is the scheduler-private side of a spawned computation. Exclusively
// owned by the task table while live.
type task struct {
	id       TaskID
	fut      Future
	handle   *Handle
	state    TaskState
	queued   bool
	blocking bool
	wake     Waker
}

// timerEntry parks a task until the clock reaches at. Equal deadlines fire in
// arming order via seq.
type timerEntry struct {
	at  Timestamp
	seq int64
	t   *task
}

type timerHeap []timerEntry

func (th timerHeap) Len() int { return len(th) }
func (th timerHeap) Less(i, j int) bool {
	if th[i].at != th[j].at {
		return th[i].at < th[j].at
	}
	return th[i].seq < th[j].seq
}
func (th timerHeap) Swap(i, j int) { th[i], th[j] = th[j], th[i] }

func (th *timerHeap) Push(x any) {
	*th = append(*th, x.(timerEntry))
}

func (th *timerHeap) Pop() any {
	old := *th
	n := len(old)
	item := old[n-1]
	*th = old[0 : n-1]
	return item
}

// Scheduler is the cooperative single-loop executor. With a SimClock it is
// the fully simulated, reproducible backend: concurrency is interleaving, not
// parallelism, and idle detection pairs with fast-forwarding the clock to the
// nearest pending deadline. With a RealClock, idle waits sleep in real time
// instead.
//
// The loop methods (Wait, BlockOn, RunReady) must be driven from one
// goroutine. Wakers, Handles and CancelTokens may be used from anywhere.
type Scheduler struct {
	clock Clock
	sim   *SimClock // non-nil when clock is simulated
	cfg   Config

	tasks    map[TaskID]*task
	runq     *queue.Queue
	timers   timerHeap
	nextID   TaskID
	timerSeq int64
	pc       *PollContext
	polling  bool

	injectMu sync.Mutex
	injected []func()
	injectCh chan struct{}

	blocking      *BlockingPool
	blockingCount int

	metrics *Metrics
	rng     *PartitionedRNG
	joinErr *multierror.Error
}

// NewScheduler creates a cooperative scheduler on the given clock. A *SimClock
// makes it the simulated backend.
func NewScheduler(clock Clock, cfg Config) *Scheduler {
	cfg.withDefaults()
	sim, _ := clock.(*SimClock)
	s := &Scheduler{
		clock:    clock,
		sim:      sim,
		cfg:      cfg,
		tasks:    make(map[TaskID]*task),
		runq:     queue.New(),
		injectCh: make(chan struct{}, 1),
		blocking: NewBlockingPool(cfg.BlockingWorkers),
		metrics:  NewMetrics(),
		rng:      NewPartitionedRNG(cfg.Seed),
	}
	s.pc = newPollContext(clock, nil)
	return s
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Metrics returns the scheduler's counters.
func (s *Scheduler) Metrics() *Metrics {
	return s.metrics
}

// Random returns the scheduler's partitioned random source, seeded from the
// configured seed. Callers draw jitter and backoff values from it so that
// randomized behavior stays correlated with the simulation seed.
func (s *Scheduler) Random() *PartitionedRNG {
	return s.rng
}

// Interval creates an interval reading this scheduler's clock.
func (s *Scheduler) Interval(period time.Duration) *Interval {
	return NewInterval(s.clock, period)
}

// Spawn registers f as a new task. Tasks are polled in spawn order until
// their first suspension.
func (s *Scheduler) Spawn(f Future) *Handle {
	t := &task{id: s.nextID, fut: f, state: TaskPending}
	s.nextID++
	h := newHandle(t.id)
	t.handle = h
	t.wake = func() {
		s.inject(func() { s.enqueue(t) })
	}
	h.onAbort = func() {
		s.inject(func() { s.cancelTask(t) })
	}
	s.tasks[t.id] = t
	s.enqueue(t)
	s.metrics.countSpawn()
	logrus.Debugf("vtime: spawned task %d", t.id)
	return h
}

// SpawnLocal is identical to Spawn here: the cooperative scheduler is a
// single scheduling context, so work never migrates.
func (s *Scheduler) SpawnLocal(f Future) *Handle {
	return s.Spawn(f)
}

// SpawnBlocking dispatches fn to the blocking pool. The loop treats its
// completion as an external wake; blocking tasks fall outside the determinism
// contract. Cancellation cannot interrupt fn once dispatched.
func (s *Scheduler) SpawnBlocking(fn func() (any, error)) *Handle {
	t := &task{id: s.nextID, state: TaskRunning, blocking: true}
	s.nextID++
	h := newHandle(t.id)
	t.handle = h
	s.tasks[t.id] = t
	s.blockingCount++
	s.metrics.countSpawn()
	s.metrics.countBlocking()
	s.blocking.Submit(func() {
		var value any
		var err error
		var panicked any
		func() {
			defer func() {
				if r := recover(); r != nil {
					panicked = r
				}
			}()
			value, err = fn()
		}()
		s.inject(func() { s.finishBlocking(t, value, err, panicked) })
	})
	return h
}

// BlockOn drives f to completion, running other spawned work along the way.
// Must not be called from inside a task.
func (s *Scheduler) BlockOn(f Future) (any, error) {
	h := s.Spawn(f)
	if err := s.runUntil(h.IsFinished); err != nil {
		return nil, err
	}
	return h.Result()
}

// Wait runs until every outstanding task has completed, then returns the
// aggregate of all join errors observed since the last Wait.
func (s *Scheduler) Wait() error {
	err := s.runUntil(nil)
	if err != nil {
		s.joinErr = multierror.Append(s.joinErr, err)
	}
	out := s.joinErr.ErrorOrNil()
	s.joinErr = nil
	return out
}

// RunReady processes everything runnable at the current clock reading without
// fast-forwarding. Callers scripting explicit SetNow/Advance sequences call
// this after each clock move.
func (s *Scheduler) RunReady() {
	if s.polling {
		panic("vtime: RunReady called from inside a task")
	}
	for {
		s.drainInjected()
		s.fireDueTimers()
		if s.runq.Length() == 0 {
			return
		}
		s.pollNext()
	}
}

// runUntil is the scheduler loop: poll runnable tasks; when nothing is
// runnable, distinguish "a timer is pending in N time units" (fast-forward or
// sleep to it) from "blocking work will wake us" (wait) from "nothing will
// ever wake" (deadlock).
func (s *Scheduler) runUntil(done func() bool) error {
	if s.polling {
		panic("vtime: scheduler loop entered from inside a task")
	}
	for {
		s.drainInjected()
		if done != nil && done() {
			return nil
		}
		if s.runq.Length() == 0 {
			s.pruneTimers()
			if len(s.timers) > 0 {
				s.advanceToNextTimer()
				continue
			}
			if s.blockingCount > 0 {
				<-s.injectCh
				continue
			}
			if len(s.tasks) == 0 {
				if done == nil {
					return nil
				}
				return ErrDeadlock
			}
			return ErrDeadlock
		}
		s.pollNext()
	}
}

// advanceToNextTimer moves the clock (simulated) or the goroutine (real) to
// the earliest pending deadline, then fires everything due.
func (s *Scheduler) advanceToNextTimer() {
	next := s.timers[0].at
	if s.sim != nil {
		if now := s.sim.Now(); next > now {
			logrus.Debugf("vtime: fast-forwarding clock %v -> %v", now, next)
			s.sim.SetNow(next)
			s.metrics.countFastForward()
		}
		s.fireDueTimers()
		return
	}
	d := next.Sub(s.clock.Now())
	if d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-s.injectCh:
		}
		timer.Stop()
	}
	s.fireDueTimers()
}

// pruneTimers discards heap entries whose task already reached a terminal
// state (aborted while parked).
func (s *Scheduler) pruneTimers() {
	for len(s.timers) > 0 && s.timers[0].t.state.terminal() {
		heap.Pop(&s.timers)
	}
}

// fireDueTimers moves every task whose deadline has been reached onto the run
// queue.
func (s *Scheduler) fireDueTimers() {
	now := s.clock.Now()
	for len(s.timers) > 0 && s.timers[0].at <= now {
		entry := heap.Pop(&s.timers).(timerEntry)
		if entry.t.state.terminal() {
			continue
		}
		s.metrics.countTimerFire()
		s.enqueue(entry.t)
	}
}

func (s *Scheduler) pollNext() {
	t := s.runq.Remove().(*task)
	t.queued = false
	if t.state.terminal() {
		return
	}
	s.pollTask(t)
}

// pollTask polls one task and routes its wake request. Panics are caught
// here, at the task boundary, and converted into a join error.
func (s *Scheduler) pollTask(t *task) {
	t.state = TaskRunning
	s.pc.reset()
	s.pc.waker = t.wake
	s.polling = true

	var value any
	var taskDone bool
	var panicked any
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = r
			}
		}()
		value, taskDone = t.fut.Poll(s.pc)
	}()

	s.polling = false
	s.metrics.countPoll()

	if panicked != nil {
		je := &JoinError{Task: t.id, Panic: panicked}
		logrus.WithField("task", t.id).Errorf("vtime: task panicked: %v", panicked)
		s.finishTask(t, TaskFailed, nil, je)
		return
	}
	if taskDone {
		s.finishTask(t, TaskCompleted, value, nil)
		return
	}

	t.state = TaskPending
	switch {
	case s.pc.immediate:
		s.enqueue(t)
	case s.pc.hasDeadline:
		s.timerSeq++
		heap.Push(&s.timers, timerEntry{at: s.pc.deadline, seq: s.timerSeq, t: t})
	default:
		// Parked: an external waker (handle, token, blocking completion)
		// re-queues it.
	}
}

// cancelTask marks a pending task cancelled. Blocking tasks are exempt: their
// work is already dispatched and cancellation is advisory only.
func (s *Scheduler) cancelTask(t *task) {
	if t.state.terminal() {
		return
	}
	if t.blocking {
		logrus.WithField("task", t.id).Debug("vtime: abort of blocking task is advisory; letting it finish")
		return
	}
	s.finishTask(t, TaskCancelled, nil, &JoinError{Task: t.id, Cancelled: true})
}

func (s *Scheduler) finishTask(t *task, state TaskState, value any, err *JoinError) {
	t.state = state
	delete(s.tasks, t.id)
	t.fut = nil
	switch state {
	case TaskCompleted:
		s.metrics.countComplete()
		t.handle.complete(value)
	case TaskFailed:
		s.metrics.countFail()
		s.joinErr = multierror.Append(s.joinErr, err)
		t.handle.fail(TaskFailed, err)
	case TaskCancelled:
		s.metrics.countCancel()
		s.joinErr = multierror.Append(s.joinErr, err)
		t.handle.fail(TaskCancelled, err)
	}
}

// finishBlocking resolves a blocking task on the loop goroutine.
func (s *Scheduler) finishBlocking(t *task, value any, err error, panicked any) {
	s.blockingCount--
	s.metrics.countBlockingDone()
	if t.state.terminal() {
		return
	}
	t.state = TaskCompleted
	delete(s.tasks, t.id)
	switch {
	case panicked != nil:
		t.state = TaskFailed
		je := &JoinError{Task: t.id, Panic: panicked}
		logrus.WithField("task", t.id).Errorf("vtime: blocking task panicked: %v", panicked)
		s.metrics.countFail()
		s.joinErr = multierror.Append(s.joinErr, je)
		t.handle.fail(TaskFailed, je)
	case err != nil:
		t.state = TaskFailed
		s.metrics.countFail()
		s.joinErr = multierror.Append(s.joinErr, err)
		t.handle.fail(TaskFailed, err)
	default:
		s.metrics.countComplete()
		t.handle.complete(value)
	}
}

// enqueue puts a live task on the run queue exactly once.
func (s *Scheduler) enqueue(t *task) {
	if t.state.terminal() || t.queued {
		return
	}
	t.queued = true
	s.runq.Add(t)
}

// inject schedules fn to run on the loop goroutine. Safe from any goroutine;
// this is the only cross-thread entry point into the scheduler.
func (s *Scheduler) inject(fn func()) {
	s.injectMu.Lock()
	s.injected = append(s.injected, fn)
	s.injectMu.Unlock()
	select {
	case s.injectCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drainInjected() {
	s.injectMu.Lock()
	fns := s.injected
	s.injected = nil
	s.injectMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
