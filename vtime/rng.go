package vtime

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"
)

// Subsystem names for the partitioned random source. Consumers draw from
// their own stream so that one subsystem's consumption never perturbs
// another's sequence.
const (
	// SubsystemJitter feeds timer jitter. Uses the master seed directly so a
	// bare --seed keeps producing the historical sequence.
	SubsystemJitter = "jitter"

	// SubsystemBackoff feeds reconnect/backoff delays.
	SubsystemBackoff = "backoff"
)

// SubsystemTask returns the stream name for an individual task.
func SubsystemTask(id TaskID) string {
	return fmt.Sprintf("task_%d", id)
}

// PartitionedRNG supplies deterministic, isolated random streams correlated
// with a single simulation seed. Two runs with the same seed draw identical
// values from every stream.
//
// Derivation: SubsystemJitter uses the master seed directly; every other
// stream uses masterSeed XOR fnv1a64(name).
//
// Not safe for concurrent use; under the simulated backend all draws happen
// on the loop goroutine.
type PartitionedRNG struct {
	seed    int64
	streams map[string]*rand.Rand
}

// NewPartitionedRNG creates a partitioned source from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{
		seed:    seed,
		streams: make(map[string]*rand.Rand),
	}
}

// Seed returns the master seed.
func (p *PartitionedRNG) Seed() int64 {
	return p.seed
}

// ForSubsystem returns the deterministically-seeded stream for name. The same
// name always returns the same cached *rand.Rand. Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.streams[name]; ok {
		return rng
	}
	derived := p.seed
	if name != SubsystemJitter {
		derived ^= fnv1a64(name)
	}
	rng := rand.New(rand.NewSource(derived))
	p.streams[name] = rng
	return rng
}

// Jitter returns d perturbed by up to ±frac of itself, drawn from the jitter
// stream. frac outside [0, 1] is clamped.
func (p *PartitionedRNG) Jitter(d time.Duration, frac float64) time.Duration {
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	rng := p.ForSubsystem(SubsystemJitter)
	spread := (rng.Float64()*2 - 1) * frac
	return d + time.Duration(float64(d)*spread)
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
