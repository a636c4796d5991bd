package vtime

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// BlockingPool runs blocking work on a bounded set of dedicated goroutines so
// it can never starve cooperative tasks. Workers are started lazily up to the
// configured maximum; Submit never blocks the caller.
type BlockingPool struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    []func()
	maxWorkers int
	spawned    int
	idle       int
	closed     bool
}

// NewBlockingPool creates a pool with the given maximum worker count.
func NewBlockingPool(maxWorkers int) *BlockingPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	p := &BlockingPool{maxWorkers: maxWorkers}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Submit enqueues fn for execution, starting a worker if none is idle and
// the cap allows.
func (p *BlockingPool) Submit(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		logrus.Warn("vtime: blocking pool closed, dropping submitted work")
		return
	}
	p.pending = append(p.pending, fn)
	if p.idle > 0 {
		p.cond.Signal()
		return
	}
	if p.spawned < p.maxWorkers {
		p.spawned++
		go p.worker()
	}
}

// Close stops idle workers. Work already submitted still runs to completion;
// cancellation of in-flight blocking work is advisory only.
func (p *BlockingPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Workers returns the number of workers currently alive.
func (p *BlockingPool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawned
}

func (p *BlockingPool) worker() {
	for {
		p.mu.Lock()
		for len(p.pending) == 0 && !p.closed {
			p.idle++
			p.cond.Wait()
			p.idle--
		}
		if len(p.pending) == 0 {
			p.spawned--
			p.mu.Unlock()
			return
		}
		fn := p.pending[0]
		p.pending = p.pending[1:]
		p.mu.Unlock()
		fn()
	}
}
