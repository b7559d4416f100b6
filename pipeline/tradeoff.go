package pipeline

import (
	"math"
	"time"
)

// RetryPolicy is the recommended exponential backoff for the caller. The
// pipeline never retries anything itself; this is advisory output only.
type RetryPolicy struct {
	MaxRetries   int
	BaseInterval time.Duration
	Multiplier   float64
}

// WaitFor returns the recommended backoff before the given retry attempt
// (1-based).
func (r RetryPolicy) WaitFor(attempt int) time.Duration {
	if attempt < 1 || r.MaxRetries == 0 {
		return 0
	}
	return time.Duration(float64(r.BaseInterval) * math.Pow(r.Multiplier, float64(attempt-1)))
}

// TradeoffResult carries the scalar utility and the recommended knobs.
type TradeoffResult struct {
	Utility      float64
	LatencyScore float64
	CostScore    float64
	CacheScore   float64

	RecommendedTimeout time.Duration
	Retry              RetryPolicy
	CacheTTL           time.Duration
}

// Optimizer computes cost/latency trade-off recommendations. One concrete
// variant in the core.
type Optimizer interface {
	Evaluate(pred Prediction, snap StateSnapshot, in TradeoffInputs) TradeoffResult
}

// TradeoffInputs carries the per-request signals the optimizer combines
// with the endpoint snapshot.
type TradeoffInputs struct {
	CacheHitRate float64
	SLATargetMs  float64 // 0 falls back to the configured global target
	FailureProb  float64 // recent failure probability including this outcome
	Retryable    bool    // current outcome was a retryable failure (429/5xx/transport)
}

// TradeoffOptimizer combines three normalized sub-scores with configured
// weights (validated to sum to 1 at config load):
//   - latency: inverted and squared against the SLA target
//   - cost: inverted, linear in estimated cost times expected volume
//   - cache benefit: hit rate times estimated savings
//
// Pure computation: the optimizer owns no mutable state and only reads the
// predictor and cache outputs passed in.
type TradeoffOptimizer struct {
	cfg TradeoffConfig
}

// NewTradeoffOptimizer builds an optimizer. Config validation happens at
// load time, not here.
func NewTradeoffOptimizer(cfg TradeoffConfig) *TradeoffOptimizer {
	return &TradeoffOptimizer{cfg: cfg}
}

// Evaluate produces the utility score and recommendations for one request.
func (t *TradeoffOptimizer) Evaluate(pred Prediction, snap StateSnapshot, in TradeoffInputs) TradeoffResult {
	cfg := t.cfg
	slaTargetMs := in.SLATargetMs
	if slaTargetMs <= 0 {
		slaTargetMs = cfg.SLATargetMs
	}
	hitRate := in.CacheHitRate

	headroom := math.Max(0, 1-pred.LatencyMs/slaTargetMs)
	latencyScore := headroom * headroom

	volumePerMin := t.volumePerMinute(snap)
	cost := cfg.CostPerCall * volumePerMin
	costScore := clamp01(1 - cost/cfg.CostBudgetPerMinute)

	savings := clamp01(pred.LatencyMs / slaTargetMs)
	cacheScore := clamp01(hitRate) * savings

	res := TradeoffResult{
		LatencyScore: latencyScore,
		CostScore:    costScore,
		CacheScore:   cacheScore,
		Utility: clamp01(cfg.LatencyWeight*latencyScore +
			cfg.CostWeight*costScore +
			cfg.CacheWeight*cacheScore),
	}

	res.RecommendedTimeout = recommendTimeout(pred.LatencyMs, cfg)
	res.Retry = t.recommendRetry(in.FailureProb, in.Retryable)
	res.CacheTTL = t.recommendTTL(snap, hitRate)
	return res
}

// recommendTimeout scales the predicted latency by the safety multiplier,
// with a floor so a fast endpoint never gets an unusably tight timeout.
func recommendTimeout(predictedMs float64, cfg TradeoffConfig) time.Duration {
	ms := predictedMs * cfg.TimeoutSafetyMultiplier
	if ms < cfg.MinTimeoutMs {
		ms = cfg.MinTimeoutMs
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// recommendRetry derives exponential backoff parameters from the recent
// failure probability. A healthy endpoint gets no retries at all; a
// retryable failure (rate limit, server error, transport fault) always
// recommends at least one backed-off attempt.
func (t *TradeoffOptimizer) recommendRetry(p float64, retryable bool) RetryPolicy {
	base := time.Duration(t.cfg.RetryBaseIntervalMs) * time.Millisecond
	switch {
	case p < 0.05 && !retryable:
		return RetryPolicy{MaxRetries: 0, BaseInterval: base, Multiplier: t.cfg.RetryMultiplier}
	case p < 0.2:
		return RetryPolicy{MaxRetries: 1, BaseInterval: base, Multiplier: t.cfg.RetryMultiplier}
	case p < 0.5:
		return RetryPolicy{MaxRetries: 2, BaseInterval: 2 * base, Multiplier: t.cfg.RetryMultiplier}
	default:
		return RetryPolicy{MaxRetries: 3, BaseInterval: 4 * base, Multiplier: t.cfg.RetryMultiplier}
	}
}

// recommendTTL scales the base TTL up with hit rate and down with latency
// volatility, within the configured bounds. Volatile endpoints are assumed
// to serve volatile data.
func (t *TradeoffOptimizer) recommendTTL(snap StateSnapshot, hitRate float64) time.Duration {
	volatility := 0.0
	if snap.RecentAvg > 0 {
		volatility = clamp01(snap.StdDev / snap.RecentAvg)
	}
	scale := (0.5 + clamp01(hitRate)) / (1 + volatility)
	ttl := t.cfg.CacheTTL.Base() * time.Duration(scale*1000) / 1000
	if ttl < t.cfg.CacheTTL.Min() {
		ttl = t.cfg.CacheTTL.Min()
	}
	if ttl > t.cfg.CacheTTL.Max() {
		ttl = t.cfg.CacheTTL.Max()
	}
	return ttl
}

// volumePerMinute estimates expected call volume from the arrival history.
func (t *TradeoffOptimizer) volumePerMinute(snap StateSnapshot) float64 {
	if snap.TotalRequests == 0 {
		return 0
	}
	// FrequencyRatio > 1 means traffic is running hotter than baseline.
	return t.cfg.BaselineVolumePerMinute * snap.FrequencyRatio
}
