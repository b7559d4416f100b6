// Package workload generates deterministic synthetic request traffic for
// replaying through the decision pipeline. All randomness flows through a
// PartitionedRNG, so a seed fully determines the generated stream.
package workload

import (
	"fmt"
	"math"
	"time"

	"github.com/Tarunvoff/apiris-sdk/pipeline"
)

// EndpointProfile describes one synthetic endpoint's steady-state behavior.
type EndpointProfile struct {
	Method         string
	URL            string
	LatencyMeanMs  float64
	LatencyStdevMs float64
	PayloadMean    int
	PayloadStdev   int
	ErrorRate      float64 // probability of a 5xx/429 outcome
}

// DefaultProfiles is a small mixed workload: a fast read, a slower write
// and a flaky third-party call.
func DefaultProfiles() []EndpointProfile {
	return []EndpointProfile{
		{Method: "GET", URL: "https://api.example.com/v1/items", LatencyMeanMs: 120, LatencyStdevMs: 25, PayloadMean: 0, PayloadStdev: 0, ErrorRate: 0.01},
		{Method: "POST", URL: "https://api.example.com/v1/orders", LatencyMeanMs: 350, LatencyStdevMs: 80, PayloadMean: 2048, PayloadStdev: 512, ErrorRate: 0.03},
		{Method: "GET", URL: "https://partner.example.net/quotes", LatencyMeanMs: 900, LatencyStdevMs: 200, PayloadMean: 256, PayloadStdev: 64, ErrorRate: 0.12},
	}
}

// Sample is one generated request plus its synthetic outcome.
type Sample struct {
	Descriptor *pipeline.RequestDescriptor
	Outcome    pipeline.Outcome
}

// Generator produces Samples round-robin across its endpoint profiles at a
// fixed synthetic arrival rate.
type Generator struct {
	rng      *PartitionedRNG
	profiles []EndpointProfile
	gapMs    float64
	clock    time.Time
	seq      int
}

// NewGenerator creates a generator. ratePerSec spaces synthetic timestamps;
// it does not throttle generation.
func NewGenerator(seed int64, ratePerSec float64, profiles []EndpointProfile) *Generator {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &Generator{
		rng:      NewPartitionedRNG(seed),
		profiles: profiles,
		gapMs:    1000 / ratePerSec,
		clock:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), // weekday, busy hours
	}
}

// Next generates the next sample.
func (g *Generator) Next() Sample {
	profile := g.profiles[g.seq%len(g.profiles)]
	g.seq++

	arrival := g.rng.ForSubsystem(SubsystemArrival)
	g.clock = g.clock.Add(time.Duration(g.gapMs*(0.5+arrival.Float64())) * time.Millisecond)

	var body []byte
	if profile.PayloadMean > 0 {
		size := int(normal(g.rng.ForSubsystem(SubsystemPayload).NormFloat64(), float64(profile.PayloadMean), float64(profile.PayloadStdev)))
		if size < 0 {
			size = 0
		}
		body = make([]byte, size)
		for i := range body {
			body[i] = 'x'
		}
	}

	desc := &pipeline.RequestDescriptor{
		Method:    profile.Method,
		URL:       profile.URL,
		Body:      body,
		Timestamp: g.clock,
	}

	latency := normal(g.rng.ForSubsystem(SubsystemLatency).NormFloat64(), profile.LatencyMeanMs, profile.LatencyStdevMs)
	latency = math.Max(1, latency)

	status := 200
	if g.rng.ForSubsystem(SubsystemOutcome).Float64() < profile.ErrorRate {
		if g.rng.ForSubsystem(SubsystemOutcome).Float64() < 0.5 {
			status = 503
		} else {
			status = 429
		}
		// A failed call typically runs long.
		latency *= 2.5
	}

	return Sample{
		Descriptor: desc,
		Outcome: pipeline.Outcome{
			StatusCode: status,
			LatencyMs:  latency,
			Bytes:      int64(len(body)),
		},
	}
}

func normal(z, mean, stdev float64) float64 {
	return mean + z*stdev
}

// Describe summarizes the generator for logging.
func (g *Generator) Describe() string {
	return fmt.Sprintf("%d endpoint profiles at %.1f req/s", len(g.profiles), 1000/g.gapMs)
}
