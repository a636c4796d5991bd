package vtime

import (
	"math/rand"
	"testing"
	"time"
)

func TestPartitionedRNG_DeterministicStreams(t *testing.T) {
	// Same seed + same stream name produce the same sequence
	a := NewPartitionedRNG(42)
	b := NewPartitionedRNG(42)

	for i := 0; i < 5; i++ {
		va := a.ForSubsystem(SubsystemBackoff).Float64()
		vb := b.ForSubsystem(SubsystemBackoff).Float64()
		if va != vb {
			t.Errorf("draw %d: got %v and %v, want identical", i, va, vb)
		}
	}
}

func TestPartitionedRNG_StreamIsolation(t *testing.T) {
	// Draining one stream must not perturb another
	a := NewPartitionedRNG(42)
	b := NewPartitionedRNG(42)

	// a drains jitter heavily before reading backoff; b reads backoff cold
	for i := 0; i < 100; i++ {
		a.ForSubsystem(SubsystemJitter).Float64()
	}
	va := a.ForSubsystem(SubsystemBackoff).Float64()
	vb := b.ForSubsystem(SubsystemBackoff).Float64()
	if va != vb {
		t.Errorf("backoff stream perturbed by jitter draws: got %v, want %v", va, vb)
	}
}

func TestPartitionedRNG_JitterUsesMasterSeedDirectly(t *testing.T) {
	p := NewPartitionedRNG(1234)
	reference := rand.New(rand.NewSource(1234))

	for i := 0; i < 3; i++ {
		got := p.ForSubsystem(SubsystemJitter).Int63()
		want := reference.Int63()
		if got != want {
			t.Errorf("draw %d: got %d, want %d", i, got, want)
		}
	}
}

func TestPartitionedRNG_CachedStreams(t *testing.T) {
	p := NewPartitionedRNG(7)
	if p.ForSubsystem(SubsystemBackoff) != p.ForSubsystem(SubsystemBackoff) {
		t.Error("same stream name must return the same cached instance")
	}
}

func TestPartitionedRNG_TaskStreamsAreDistinct(t *testing.T) {
	p := NewPartitionedRNG(7)
	if SubsystemTask(1) == SubsystemTask(2) {
		t.Fatal("task stream names must be distinct")
	}
	v1 := p.ForSubsystem(SubsystemTask(1)).Int63()
	v2 := p.ForSubsystem(SubsystemTask(2)).Int63()
	if v1 == v2 {
		t.Error("distinct task streams produced identical first draws")
	}
}

func TestPartitionedRNG_JitterBounds(t *testing.T) {
	p := NewPartitionedRNG(42)
	base := 100 * time.Millisecond

	for i := 0; i < 100; i++ {
		d := p.Jitter(base, 0.2)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Errorf("jittered duration %v outside ±20%% of %v", d, base)
		}
	}
}

func TestPartitionedRNG_JitterClampsFraction(t *testing.T) {
	p := NewPartitionedRNG(42)
	base := 10 * time.Millisecond

	for i := 0; i < 50; i++ {
		d := p.Jitter(base, 5.0)
		if d < 0 || d > 20*time.Millisecond {
			t.Errorf("clamped jitter out of range: %v", d)
		}
	}
	if got := p.Jitter(base, -1); got != base {
		t.Errorf("negative fraction should disable jitter, got %v", got)
	}
}
