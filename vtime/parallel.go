package vtime

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ParallelScheduler is the real multi-threaded backend: every task is driven
// by its own goroutine on the Go runtime's work-stealing scheduler. The
// suspension contract is identical to the cooperative Scheduler's, but
// completion order of time-blocked tasks is not reproducible.
type ParallelScheduler struct {
	clock    Clock
	blocking *BlockingPool
	metrics  *Metrics
	wg       sync.WaitGroup

	mu      sync.Mutex
	nextID  TaskID
	joinErr *multierror.Error
}

// NewParallelScheduler creates a multi-threaded executor. Normally paired
// with a RealClock.
func NewParallelScheduler(clock Clock, cfg Config) *ParallelScheduler {
	cfg.withDefaults()
	return &ParallelScheduler{
		clock:    clock,
		blocking: NewBlockingPool(cfg.BlockingWorkers),
		metrics:  NewMetrics(),
	}
}

// Clock returns the executor's clock.
func (p *ParallelScheduler) Clock() Clock {
	return p.clock
}

// Metrics returns the executor's counters.
func (p *ParallelScheduler) Metrics() *Metrics {
	return p.metrics
}

// Interval creates an interval reading this executor's clock.
func (p *ParallelScheduler) Interval(period time.Duration) *Interval {
	return NewInterval(p.clock, period)
}

// Spawn registers f and returns immediately; a dedicated goroutine drives it.
func (p *ParallelScheduler) Spawn(f Future) *Handle {
	h := newHandle(p.allocID())
	wakeCh := make(chan struct{}, 1)
	var aborted atomic.Bool
	h.onAbort = func() {
		aborted.Store(true)
		select {
		case wakeCh <- struct{}{}:
		default:
		}
	}
	p.metrics.countSpawn()
	p.wg.Add(1)
	go p.drive(f, h, wakeCh, &aborted)
	return h
}

// SpawnLocal requires a single-threaded scheduling context, which this
// executor does not provide.
func (p *ParallelScheduler) SpawnLocal(f Future) *Handle {
	panic("vtime: SpawnLocal requires the single-threaded Scheduler")
}

// SpawnBlocking runs fn on the bounded blocking pool.
func (p *ParallelScheduler) SpawnBlocking(fn func() (any, error)) *Handle {
	h := newHandle(p.allocID())
	p.metrics.countSpawn()
	p.metrics.countBlocking()
	p.wg.Add(1)
	p.blocking.Submit(func() {
		defer p.wg.Done()
		defer p.metrics.countBlockingDone()
		defer func() {
			if r := recover(); r != nil {
				je := &JoinError{Task: h.id, Panic: r}
				logrus.WithField("task", h.id).Errorf("vtime: blocking task panicked: %v", r)
				p.metrics.countFail()
				p.recordErr(je)
				h.fail(TaskFailed, je)
			}
		}()
		value, err := fn()
		if err != nil {
			p.metrics.countFail()
			p.recordErr(err)
			h.fail(TaskFailed, err)
			return
		}
		p.metrics.countComplete()
		h.complete(value)
	})
	return h
}

// BlockOn drives f to completion and returns its result. Other spawned work
// keeps running on its own goroutines.
func (p *ParallelScheduler) BlockOn(f Future) (any, error) {
	h := p.Spawn(f)
	done := make(chan struct{}, 1)
	if h.subscribe(func() { done <- struct{}{} }) {
		<-done
	}
	return h.Result()
}

// Wait blocks until every spawned task has finished and returns the
// aggregated join errors observed since the last Wait.
func (p *ParallelScheduler) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.joinErr.ErrorOrNil()
	p.joinErr = nil
	return out
}

func (p *ParallelScheduler) allocID() TaskID {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	return id
}

func (p *ParallelScheduler) recordErr(err error) {
	p.mu.Lock()
	p.joinErr = multierror.Append(p.joinErr, err)
	p.mu.Unlock()
}

// drive is the per-task poll loop: poll, then wait on whichever comes first
// of the requested deadline and an external wake.
func (p *ParallelScheduler) drive(f Future, h *Handle, wakeCh chan struct{}, aborted *atomic.Bool) {
	defer p.wg.Done()
	pc := newPollContext(p.clock, func() {
		select {
		case wakeCh <- struct{}{}:
		default:
		}
	})

	for {
		if aborted.Load() {
			je := &JoinError{Task: h.id, Cancelled: true}
			p.metrics.countCancel()
			p.recordErr(je)
			h.fail(TaskCancelled, je)
			return
		}

		pc.reset()
		var value any
		var taskDone bool
		var panicked any
		func() {
			defer func() {
				if r := recover(); r != nil {
					panicked = r
				}
			}()
			value, taskDone = f.Poll(pc)
		}()
		p.metrics.countPoll()

		if panicked != nil {
			je := &JoinError{Task: h.id, Panic: panicked}
			logrus.WithField("task", h.id).Errorf("vtime: task panicked: %v", panicked)
			p.metrics.countFail()
			p.recordErr(je)
			h.fail(TaskFailed, je)
			return
		}
		if taskDone {
			p.metrics.countComplete()
			h.complete(value)
			return
		}

		switch {
		case pc.immediate:
			runtime.Gosched()
		case pc.hasDeadline:
			d := pc.deadline.Sub(p.clock.Now())
			if d <= 0 {
				continue
			}
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
				p.metrics.countTimerFire()
			case <-wakeCh:
			}
			timer.Stop()
		default:
			<-wakeCh
		}
	}
}
