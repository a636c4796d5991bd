package vtime

import "sync"

// CancelToken is a shared, hierarchical flag requesting cooperative early
// termination. Cancelling a parent reaches every existing and future
// descendant; cancelling a child never affects ancestors or siblings. The
// token is purely advisory: the scheduler never forcibly terminates a task,
// so cooperating code polls or awaits the token at safe points, typically
// as a Race branch: Race(work, token.Cancelled()).
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	children  []*CancelToken
	wakers    []Waker
}

// NewCancelToken creates a root token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Child creates a token cancelled when this one is. A child created after the
// parent was cancelled starts out cancelled.
func (t *CancelToken) Child() *CancelToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &CancelToken{cancelled: t.cancelled}
	t.children = append(t.children, c)
	return c
}

// Cancel sets the flag on this token and all descendants, waking every
// suspended Cancelled() branch. Idempotent.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	wakers := t.wakers
	children := t.children
	t.wakers = nil
	t.mu.Unlock()

	for _, w := range wakers {
		w()
	}
	for _, c := range children {
		c.Cancel()
	}
}

// IsCancelled reports whether the token has been cancelled.
func (t *CancelToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancelled returns a suspension that completes once the token is cancelled,
// usable as a select branch.
func (t *CancelToken) Cancelled() Future {
	return &cancelWait{tok: t}
}

// subscribe registers a waker fired on cancellation. Returns false, without
// registering, if already cancelled.
func (t *CancelToken) subscribe(w Waker) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.wakers = append(t.wakers, w)
	return true
}

type cancelWait struct {
	tok *CancelToken
}

func (c *cancelWait) Poll(pc *PollContext) (any, bool) {
	if !c.tok.subscribe(pc.Waker()) {
		return nil, true
	}
	return nil, false
}
