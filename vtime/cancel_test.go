package vtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelToken_ParentReachesAllDescendants(t *testing.T) {
	// GIVEN a token tree: root -> child -> grandchild
	root := NewCancelToken()
	child := root.Child()
	grandchild := child.Child()

	// WHEN the root is cancelled
	root.Cancel()

	// THEN every existing descendant observes it
	assert.True(t, root.IsCancelled())
	assert.True(t, child.IsCancelled())
	assert.True(t, grandchild.IsCancelled())

	// AND future children start out cancelled
	late := root.Child()
	assert.True(t, late.IsCancelled())
}

func TestCancelToken_ChildCancelIsContained(t *testing.T) {
	root := NewCancelToken()
	left := root.Child()
	right := root.Child()

	left.Cancel()

	assert.True(t, left.IsCancelled())
	assert.False(t, root.IsCancelled(), "cancelling a child must not affect the parent")
	assert.False(t, right.IsCancelled(), "cancelling a child must not affect siblings")
}

func TestCancelToken_CancelIsIdempotent(t *testing.T) {
	tok := NewCancelToken()
	tok.Cancel()
	tok.Cancel()
	assert.True(t, tok.IsCancelled())
}

func TestCancelToken_CancelledFuture(t *testing.T) {
	clock := NewSimClock()
	pc := testPollContext(clock)
	tok := NewCancelToken()

	w := tok.Cancelled()
	_, done := w.Poll(pc)
	assert.False(t, done)

	tok.Cancel()
	_, done = w.Poll(pc)
	assert.True(t, done)

	// Fused: still done on later polls
	_, done = w.Poll(pc)
	assert.True(t, done)
}

func TestCancelToken_AsRaceBranch(t *testing.T) {
	// The standard cooperative-timeout shape: race the work against the
	// token, cancel from a sibling task
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})
	tok := NewCancelToken()

	work := NewSleep(time.Hour)
	h := s.Spawn(Race(work, tok.Cancelled()))

	// A second task cancels the token after 10ms
	canceller := NewSleep(10 * time.Millisecond)
	s.Spawn(FutureFunc(func(pc *PollContext) (any, bool) {
		_, ok := canceller.Poll(pc)
		if !ok {
			return nil, false
		}
		tok.Cancel()
		return nil, true
	}))

	require.NoError(t, s.Wait())

	v, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, v.(Selected).Index, "cancellation branch should win")
	assert.Equal(t, Timestamp(10*time.Millisecond), clock.Now())
	assert.False(t, work.done, "the raced work was dropped, not completed")
}

func TestCancelToken_WakesSuspendedWaiter(t *testing.T) {
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})
	tok := NewCancelToken()

	h := s.Spawn(tok.Cancelled())

	// Draining now would deadlock; cancel first from outside, as an external
	// completion source would
	tok.Cancel()
	require.NoError(t, s.Wait())
	assert.Equal(t, TaskCompleted, h.State())
}
