package vtime

import (
	"fmt"
	"sync"
)

// MetricsSnapshot is a consistent copy of the scheduler counters, suitable
// for serialization.
type MetricsSnapshot struct {
	TasksSpawned      int64 `json:"tasks_spawned"`
	TasksCompleted    int64 `json:"tasks_completed"`
	TasksFailed       int64 `json:"tasks_failed"`
	TasksCancelled    int64 `json:"tasks_cancelled"`
	BlockingSubmitted int64 `json:"blocking_submitted"`
	BlockingCompleted int64 `json:"blocking_completed"`
	Polls             int64 `json:"polls"`
	TimerFires        int64 `json:"timer_fires"`
	ClockFastForwards int64 `json:"clock_fast_forwards"`
}

// Metrics aggregates counters about an executor's activity for final
// reporting and for the observability server.
type Metrics struct {
	mu   sync.Mutex
	snap MetricsSnapshot
}

// NewMetrics creates an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *Metrics) countSpawn()        { m.add(func(s *MetricsSnapshot) { s.TasksSpawned++ }) }
func (m *Metrics) countComplete()     { m.add(func(s *MetricsSnapshot) { s.TasksCompleted++ }) }
func (m *Metrics) countFail()         { m.add(func(s *MetricsSnapshot) { s.TasksFailed++ }) }
func (m *Metrics) countCancel()       { m.add(func(s *MetricsSnapshot) { s.TasksCancelled++ }) }
func (m *Metrics) countBlocking()     { m.add(func(s *MetricsSnapshot) { s.BlockingSubmitted++ }) }
func (m *Metrics) countBlockingDone() { m.add(func(s *MetricsSnapshot) { s.BlockingCompleted++ }) }
func (m *Metrics) countPoll()         { m.add(func(s *MetricsSnapshot) { s.Polls++ }) }
func (m *Metrics) countTimerFire()    { m.add(func(s *MetricsSnapshot) { s.TimerFires++ }) }
func (m *Metrics) countFastForward()  { m.add(func(s *MetricsSnapshot) { s.ClockFastForwards++ }) }

func (m *Metrics) add(fn func(*MetricsSnapshot)) {
	m.mu.Lock()
	fn(&m.snap)
	m.mu.Unlock()
}

// Print displays the counters at the end of a run.
func (s MetricsSnapshot) Print(finalNow Timestamp) {
	fmt.Println("=== Scheduler Metrics ===")
	fmt.Printf("Final clock reading  : %v\n", finalNow)
	fmt.Printf("Tasks spawned        : %d\n", s.TasksSpawned)
	fmt.Printf("Tasks completed      : %d\n", s.TasksCompleted)
	fmt.Printf("Tasks failed         : %d\n", s.TasksFailed)
	fmt.Printf("Tasks cancelled      : %d\n", s.TasksCancelled)
	fmt.Printf("Blocking submitted   : %d\n", s.BlockingSubmitted)
	fmt.Printf("Polls                : %d\n", s.Polls)
	fmt.Printf("Timer fires          : %d\n", s.TimerFires)
	fmt.Printf("Clock fast-forwards  : %d\n", s.ClockFastForwards)
}
