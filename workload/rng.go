package workload

import (
	"hash/fnv"
	"math/rand"
)

// PartitionedRNG provides isolated deterministic RNG streams per subsystem,
// derived from one master seed. Replays with the same seed produce the same
// traffic regardless of which subsystems draw first.
type PartitionedRNG struct {
	masterSeed int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a partitioned RNG with the given master seed.
func NewPartitionedRNG(masterSeed int64) *PartitionedRNG {
	return &PartitionedRNG{
		masterSeed: masterSeed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the RNG for name, creating it lazily. Repeated calls
// with the same name return the same stream.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.deriveSeed(name)))
	p.subsystems[name] = rng
	return rng
}

// deriveSeed hashes the subsystem name into the master seed so stream
// seeds are independent of creation order.
func (p *PartitionedRNG) deriveSeed(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return p.masterSeed ^ int64(h.Sum64())
}

// Subsystem names used by the generator.
const (
	SubsystemArrival = "arrival"
	SubsystemPayload = "payload"
	SubsystemLatency = "latency"
	SubsystemOutcome = "outcome"
)
