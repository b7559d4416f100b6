package pipeline

import (
	"math"
	"sort"
	"sync"
	"time"
)

// ModelState holds the rolling statistics for one endpoint key. It is owned
// by the predictor's registry and mutated only under its own mutex; every
// other component sees it through read-only StateSnapshot values.
type ModelState struct {
	mu sync.Mutex

	key string

	// Bounded rings, all aligned: slot i describes the same completed request.
	latencies []float64
	payloads  []float64
	failures  []bool
	next      int
	filled    bool

	ewma     float64
	ewmaSet  bool

	totalRequests int64
	totalErrors   int64

	lastArrival      time.Time
	recentInterval   float64 // EWMA of inter-arrival gaps (ms)
	baselineInterval float64 // long-run mean inter-arrival gap (ms)
	gapCount         int64
}

func newModelState(key string, window int) *ModelState {
	return &ModelState{
		key:       key,
		latencies: make([]float64, 0, window),
		payloads:  make([]float64, 0, window),
		failures:  make([]bool, 0, window),
	}
}

// observe pushes one completed request into the rings and updates the EWMA
// with smoothing factor alpha: avg = alpha*actual + (1-alpha)*avg.
func (s *ModelState) observe(latencyMs, payloadBytes float64, failed bool, at time.Time, alpha float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) < cap(s.latencies) {
		s.latencies = append(s.latencies, latencyMs)
		s.payloads = append(s.payloads, payloadBytes)
		s.failures = append(s.failures, failed)
	} else {
		s.latencies[s.next] = latencyMs
		s.payloads[s.next] = payloadBytes
		s.failures[s.next] = failed
		s.next = (s.next + 1) % cap(s.latencies)
		s.filled = true
	}

	if s.ewmaSet {
		s.ewma = alpha*latencyMs + (1-alpha)*s.ewma
	} else {
		s.ewma = latencyMs
		s.ewmaSet = true
	}

	s.totalRequests++
	if failed {
		s.totalErrors++
	}

	if !s.lastArrival.IsZero() && at.After(s.lastArrival) {
		gap := float64(at.Sub(s.lastArrival)) / float64(time.Millisecond)
		s.gapCount++
		s.baselineInterval += (gap - s.baselineInterval) / float64(s.gapCount)
		if s.recentInterval == 0 {
			s.recentInterval = gap
		} else {
			s.recentInterval = alpha*gap + (1-alpha)*s.recentInterval
		}
	}
	s.lastArrival = at
}

// StateSnapshot is an immutable view of a ModelState, safe to share across
// the pipeline. This is the only way state leaves its owning model.
type StateSnapshot struct {
	Key               string
	SampleCount       int
	EWMA              float64
	RecentAvg         float64
	StdDev            float64
	PayloadMedian     float64
	PayloadIQR        float64
	ErrorRate         float64 // error rate over the current window
	BaselineErrorRate float64 // error rate over the process lifetime
	FrequencyRatio    float64
	TotalRequests     int64
	LastSeen          time.Time
}

func (s *ModelState) snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.latencies)
	snap := StateSnapshot{
		Key:            s.key,
		SampleCount:    n,
		EWMA:           s.ewma,
		TotalRequests:  s.totalRequests,
		LastSeen:       s.lastArrival,
		FrequencyRatio: 1,
	}
	if n == 0 {
		return snap
	}

	var sum, errs float64
	for i := 0; i < n; i++ {
		sum += s.latencies[i]
		if s.failures[i] {
			errs++
		}
	}
	mean := sum / float64(n)
	var sq float64
	for i := 0; i < n; i++ {
		d := s.latencies[i] - mean
		sq += d * d
	}
	snap.RecentAvg = mean
	snap.StdDev = math.Sqrt(sq / float64(n))
	snap.ErrorRate = errs / float64(n)
	if s.totalRequests > 0 {
		snap.BaselineErrorRate = float64(s.totalErrors) / float64(s.totalRequests)
	}

	sorted := make([]float64, n)
	copy(sorted, s.payloads)
	sort.Float64s(sorted)
	snap.PayloadMedian = percentile(sorted, 50)
	snap.PayloadIQR = percentile(sorted, 75) - percentile(sorted, 25)

	if s.recentInterval > 0 && s.baselineInterval > 0 {
		snap.FrequencyRatio = clamp(s.baselineInterval/s.recentInterval, 0, 10)
	}
	return snap
}

// percentile computes the p-th percentile of sorted data by linear
// interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := p / 100.0 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= n {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

// StateRegistry owns one ModelState per endpoint key. Keys partition all
// per-endpoint state: no two endpoints ever share a mutable struct, so
// requests for different keys proceed fully in parallel.
type StateRegistry struct {
	mu     sync.RWMutex
	states map[string]*ModelState
	window int
}

// NewStateRegistry creates a registry whose per-endpoint rings hold window
// samples.
func NewStateRegistry(window int) *StateRegistry {
	if window <= 0 {
		window = 50
	}
	return &StateRegistry{states: make(map[string]*ModelState), window: window}
}

func (r *StateRegistry) get(key string) *ModelState {
	r.mu.RLock()
	st, ok := r.states[key]
	r.mu.RUnlock()
	if ok {
		return st
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.states[key]; ok {
		return st
	}
	st = newModelState(key, r.window)
	r.states[key] = st
	return st
}

// Observe records one completed request for key.
func (r *StateRegistry) Observe(key string, latencyMs, payloadBytes float64, failed bool, at time.Time, alpha float64) {
	r.get(key).observe(latencyMs, payloadBytes, failed, at, alpha)
}

// Snapshot returns a read-only view of the state for key. The second return
// is false when the key has never been observed.
func (r *StateRegistry) Snapshot(key string) (StateSnapshot, bool) {
	r.mu.RLock()
	st, ok := r.states[key]
	r.mu.RUnlock()
	if !ok {
		return StateSnapshot{Key: key, FrequencyRatio: 1}, false
	}
	return st.snapshot(), true
}

// Keys lists all endpoint keys with recorded state, sorted for stable
// diagnostics output.
func (r *StateRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.states))
	for k := range r.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
