// Package script loads and replays YAML-described scheduler scenarios.
//
// A script is a list of steps executed in order against a fresh simulated
// scheduler: spawn timer-bound tasks, move the clock explicitly, drain. Two
// runs of the same script produce identical completion records, which is how
// the determinism contract is exercised end to end.
package script

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tempo-sim/tempo-sim/vtime"
)

// Script ops.
const (
	OpSpawnSleep    = "spawn_sleep"    // spawn a task sleeping for `duration`
	OpSpawnDeadline = "spawn_deadline" // spawn a task sleeping until reading `at`
	OpSpawnRace     = "spawn_race"     // spawn a race of sleeps over `durations`
	OpAdvance       = "advance"        // advance the simulated clock by `duration`
	OpSetNow        = "set_now"        // move the simulated clock to reading `at`
	OpWait          = "wait"           // drain all outstanding tasks
)

// Duration parses yaml durations. Strings go through time.ParseDuration
// ("10ms", "1.5s"); bare integers are milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(dur)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Millisecond)
		return nil
	}
	return fmt.Errorf("duration must be a string like \"10ms\" or an integer millisecond count")
}

// Step is one scripted operation.
type Step struct {
	Op        string     `yaml:"op"`
	Name      string     `yaml:"name,omitempty"`
	Duration  Duration   `yaml:"duration,omitempty"`
	Durations []Duration `yaml:"durations,omitempty"`
	At        Duration   `yaml:"at,omitempty"`
}

// Spawnable builds the future a spawn step describes. Returns false for
// non-spawn ops.
func (st Step) Spawnable(clock vtime.Clock) (vtime.Future, bool) {
	switch st.Op {
	case OpSpawnSleep:
		return vtime.NewSleep(time.Duration(st.Duration)), true
	case OpSpawnDeadline:
		return vtime.SleepUntil(vtime.Timestamp(st.At)), true
	case OpSpawnRace:
		branches := make([]vtime.Future, len(st.Durations))
		for i, d := range st.Durations {
			branches[i] = vtime.NewSleep(time.Duration(d))
		}
		return vtime.Race(branches...), true
	default:
		return nil, false
	}
}

// Script is a named, seeded sequence of steps.
type Script struct {
	Name  string `yaml:"name"`
	Seed  int64  `yaml:"seed"`
	Steps []Step `yaml:"steps"`
}

// Parse decodes and validates a script.
func Parse(data []byte) (*Script, error) {
	var sc Script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads and parses a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %s: %w", path, err)
	}
	return Parse(data)
}

// Validate rejects scripts the runner cannot execute.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("script %q has no steps", s.Name)
	}
	for i, st := range s.Steps {
		switch st.Op {
		case OpSpawnSleep, OpSpawnDeadline:
			if st.Name == "" {
				return fmt.Errorf("step %d (%s): name required", i, st.Op)
			}
		case OpSpawnRace:
			if st.Name == "" {
				return fmt.Errorf("step %d (%s): name required", i, st.Op)
			}
			if len(st.Durations) == 0 {
				return fmt.Errorf("step %d (%s): at least one branch duration required", i, st.Op)
			}
		case OpAdvance:
			if st.Duration < 0 {
				return fmt.Errorf("step %d (%s): duration must be non-negative", i, st.Op)
			}
		case OpSetNow, OpWait:
		default:
			return fmt.Errorf("step %d: unknown op %q", i, st.Op)
		}
	}
	return nil
}
