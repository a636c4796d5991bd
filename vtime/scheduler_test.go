package vtime

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completionLog records the order and observed timestamps of task completions.
type completionLog struct {
	names []string
	times []Timestamp
}

// logged wraps a future and records its completion into a shared log.
type logged struct {
	name  string
	inner Future
	log   *completionLog
	done  bool
	value any
}

func (f *logged) Poll(pc *PollContext) (any, bool) {
	if f.done {
		return f.value, true
	}
	v, ok := f.inner.Poll(pc)
	if !ok {
		return nil, false
	}
	f.done = true
	f.value = v
	f.log.names = append(f.log.names, f.name)
	if at, isTS := v.(Timestamp); isTS {
		f.log.times = append(f.log.times, at)
	} else {
		f.log.times = append(f.log.times, pc.Now())
	}
	return v, true
}

func TestScheduler_FiveSleepersCompleteInDurationOrder(t *testing.T) {
	// GIVEN five tasks sleeping for distinct durations under a clock at t=0
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})
	log := &completionLog{}

	durations := []time.Duration{
		50 * time.Millisecond,
		10 * time.Millisecond,
		40 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
	}
	handles := make([]*Handle, len(durations))
	for i, d := range durations {
		handles[i] = s.Spawn(&logged{
			name:  fmt.Sprintf("sleep-%v", d),
			inner: NewSleep(d),
			log:   log,
		})
	}

	// WHEN the scheduler drains
	require.NoError(t, s.Wait())

	// THEN all handles resolved successfully, in ascending duration order
	for i, h := range handles {
		assert.Equal(t, TaskCompleted, h.State(), "handle %d", i)
		_, err := h.Result()
		assert.NoError(t, err)
	}
	assert.Equal(t, []string{
		"sleep-10ms", "sleep-20ms", "sleep-30ms", "sleep-40ms", "sleep-50ms",
	}, log.names)

	// AND the final clock reading equals t0 + max(duration)
	assert.Equal(t, Timestamp(50*time.Millisecond), clock.Now())
}

func runScriptedPair(t *testing.T) *completionLog {
	t.Helper()
	clock := NewSimClock()
	s := NewScheduler(clock, Config{Seed: 7})
	log := &completionLog{}

	s.Spawn(&logged{name: "A", inner: NewSleep(10 * time.Millisecond), log: log})
	s.Spawn(&logged{name: "B", inner: NewSleep(5 * time.Millisecond), log: log})
	s.RunReady()

	clock.Advance(10 * time.Millisecond)
	s.RunReady()
	clock.Advance(5 * time.Millisecond)
	s.RunReady()
	return log
}

func TestScheduler_DeterministicReplay(t *testing.T) {
	// Two runs fed the identical script produce identical completion order
	// and identical observed timestamps
	first := runScriptedPair(t)
	second := runScriptedPair(t)

	assert.Equal(t, first.names, second.names)
	assert.Equal(t, first.times, second.times)
	assert.Equal(t, []string{"B", "A"}, first.names)
}

func TestScheduler_FastForwardSkipsIdleTime(t *testing.T) {
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})

	h := s.Spawn(NewSleep(3 * time.Second))
	require.NoError(t, s.Wait())

	v, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, Timestamp(3*time.Second), v)
	assert.Equal(t, int64(1), s.Metrics().Snapshot().ClockFastForwards)
}

func TestScheduler_BlockOnRunsOtherTasks(t *testing.T) {
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})

	background := s.Spawn(NewSleep(5 * time.Millisecond))

	v, err := s.BlockOn(NewSleep(10 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, Timestamp(10*time.Millisecond), v)

	// The background task finished along the way
	assert.True(t, background.IsFinished())
	bg, err := background.Result()
	require.NoError(t, err)
	assert.Equal(t, Timestamp(5*time.Millisecond), bg)
}

func TestScheduler_PanicIsIsolated(t *testing.T) {
	// GIVEN a panicking task and a healthy one
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})

	bad := s.Spawn(FutureFunc(func(pc *PollContext) (any, bool) {
		panic("boom")
	}))
	good := s.Spawn(NewSleep(time.Millisecond))

	// WHEN the scheduler drains
	err := s.Wait()

	// THEN the panic surfaced as a join error without unwinding the loop
	require.Error(t, err)
	var je *JoinError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, "boom", je.Panic)

	assert.Equal(t, TaskFailed, bad.State())
	_, badErr := bad.Result()
	assert.Error(t, badErr)

	assert.Equal(t, TaskCompleted, good.State())
}

func TestScheduler_AbortCancelsPendingTask(t *testing.T) {
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})

	h := s.Spawn(NewSleep(time.Hour))
	other := s.Spawn(NewSleep(time.Millisecond))
	h.Abort()

	err := s.Wait()
	require.Error(t, err)
	var je *JoinError
	require.True(t, errors.As(err, &je))
	assert.True(t, je.Cancelled)

	assert.Equal(t, TaskCancelled, h.State())
	assert.Equal(t, TaskCompleted, other.State())
	// The aborted task's hour-long timer must not have dragged the clock out
	assert.Equal(t, Timestamp(time.Millisecond), clock.Now())
}

func TestScheduler_DeadlockDetected(t *testing.T) {
	// GIVEN a task that suspends without registering any wake
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})
	s.Spawn(FutureFunc(func(pc *PollContext) (any, bool) {
		return nil, false
	}))

	err := s.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeadlock))
}

func TestScheduler_SpawnBlocking(t *testing.T) {
	clock := NewSimClock()
	s := NewScheduler(clock, Config{BlockingWorkers: 2})

	h := s.SpawnBlocking(func() (any, error) {
		time.Sleep(2 * time.Millisecond)
		return 42, nil
	})

	require.NoError(t, s.Wait())
	v, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestScheduler_SpawnBlockingError(t *testing.T) {
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})

	boom := errors.New("disk on fire")
	h := s.SpawnBlocking(func() (any, error) {
		return nil, boom
	})

	err := s.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, TaskFailed, h.State())
}

func TestScheduler_JoinHandleAsFuture(t *testing.T) {
	// GIVEN task B awaiting task A's handle
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})

	hA := s.Spawn(NewSleep(10 * time.Millisecond))
	hB := s.Spawn(FutureFunc(func(pc *PollContext) (any, bool) {
		return hA.Poll(pc)
	}))

	require.NoError(t, s.Wait())

	v, err := hB.Result()
	require.NoError(t, err)
	res, ok := v.(JoinResult)
	require.True(t, ok)
	assert.NoError(t, res.Err)
	assert.Equal(t, Timestamp(10*time.Millisecond), res.Value)
}

func TestScheduler_SpawnLocalSharesTheLoop(t *testing.T) {
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})

	h := s.SpawnLocal(NewSleep(time.Millisecond))
	require.NoError(t, s.Wait())
	assert.Equal(t, TaskCompleted, h.State())
}

func TestScheduler_WaitIsReusable(t *testing.T) {
	clock := NewSimClock()
	s := NewScheduler(clock, Config{})

	s.Spawn(NewSleep(time.Millisecond))
	require.NoError(t, s.Wait())

	s.Spawn(NewSleep(time.Millisecond))
	require.NoError(t, s.Wait())
	assert.Equal(t, Timestamp(2*time.Millisecond), clock.Now())
}
