package script

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tempo-sim/tempo-sim/vtime"
)

// Record is one observed task completion.
type Record struct {
	Name string `json:"name"`
	// At is the clock reading the task observed at completion.
	At vtime.Timestamp `json:"at"`
	// Branch is the winning Race branch, -1 for plain tasks.
	Branch int `json:"branch"`
}

func (r Record) String() string {
	if r.Branch >= 0 {
		return fmt.Sprintf("%s[branch %d] @ %v", r.Name, r.Branch, r.At)
	}
	return fmt.Sprintf("%s @ %v", r.Name, r.At)
}

// Result is everything a replay observed. Two runs of the same script must
// produce equal Completions and FinalNow.
type Result struct {
	Completions []Record               `json:"completions"`
	FinalNow    vtime.Timestamp        `json:"final_now"`
	Metrics     vtime.MetricsSnapshot  `json:"metrics"`
}

// Runner replays scripts, each on a fresh simulated scheduler.
type Runner struct {
	cfg vtime.Config
}

// NewRunner creates a runner with the given base config. A script's own
// nonzero seed overrides the configured one.
func NewRunner(cfg vtime.Config) *Runner {
	return &Runner{cfg: cfg}
}

// Run executes the script and returns the observations.
func (r *Runner) Run(sc *Script) (*Result, error) {
	cfg := r.cfg
	if sc.Seed != 0 {
		cfg.Seed = sc.Seed
	}
	clock := vtime.NewSimClock()
	sched := vtime.NewScheduler(clock, cfg)
	res := &Result{}

	for i, st := range sc.Steps {
		if fut, ok := st.Spawnable(clock); ok {
			sched.Spawn(&recorded{name: st.Name, inner: fut, out: res})
			continue
		}
		switch st.Op {
		case OpAdvance:
			logrus.Debugf("script: advance %v", time.Duration(st.Duration))
			clock.Advance(time.Duration(st.Duration))
			sched.RunReady()
		case OpSetNow:
			clock.SetNow(vtime.Timestamp(st.At))
			sched.RunReady()
		case OpWait:
			if err := sched.Wait(); err != nil {
				return nil, fmt.Errorf("script %q step %d: %w", sc.Name, i, err)
			}
		}
	}

	res.FinalNow = clock.Now()
	res.Metrics = sched.Metrics().Snapshot()
	return res, nil
}

// recorded wraps a scripted future and appends a completion record the moment
// it resolves.
type recorded struct {
	name  string
	inner vtime.Future
	out   *Result
	done  bool
	value any
}

func (f *recorded) Poll(pc *vtime.PollContext) (any, bool) {
	if f.done {
		return f.value, true
	}
	v, ok := f.inner.Poll(pc)
	if !ok {
		return nil, false
	}
	f.done = true
	f.value = v

	rec := Record{Name: f.name, At: pc.Now(), Branch: -1}
	switch out := v.(type) {
	case vtime.Selected:
		rec.Branch = out.Index
		if at, isTS := out.Value.(vtime.Timestamp); isTS {
			rec.At = at
		}
	case vtime.Timestamp:
		rec.At = out
	}
	f.out.Completions = append(f.out.Completions, rec)
	return v, true
}
