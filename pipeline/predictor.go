package pipeline

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Prediction is the predictor's output for one request.
type Prediction struct {
	LatencyMs     float64
	Confidence    float64
	LowConfidence bool
	ColdStart     bool
}

// Predictor estimates latency from features and rolling endpoint state.
// One concrete variant exists in the core; alternates plug in behind the
// same contract.
type Predictor interface {
	Predict(f FeatureVector, snap StateSnapshot) Prediction
	Observe(key string, out Outcome, payloadBytes float64, at time.Time)
}

// PredictorWeights is the linear-model weight vector over the relative
// feature terms. Weights are fixed configuration constants; they are not
// learned online. Recalibrate swaps in a refit vector atomically.
type PredictorWeights struct {
	Payload float64 `yaml:"payload"`
	Hour    float64 `yaml:"hour"`
	Day     float64 `yaml:"day"`
	Bucket  float64 `yaml:"bucket"`
}

func (w PredictorWeights) validate() error {
	for name, v := range map[string]float64{
		"payload": w.Payload, "hour": w.Hour, "day": w.Day, "bucket": w.Bucket,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("predictor weight %s is not finite", name)
		}
		if v < 0 {
			return fmt.Errorf("predictor weight %s must be non-negative, got %f", name, v)
		}
	}
	return nil
}

// LatencyPredictor is the core linear predictor. The base estimate is the
// per-endpoint EWMA; the weight vector scales relative adjustments for
// payload size, time of day/week and endpoint bucket:
//
//	predicted = ewma * (1 + wP*(payloadRatio-1) + wH*(hourFactor-1) +
//	                        wD*(dayFactor-1) + wB*(bucket-0.5))
//
// All terms are 0 for a neutral request, so an average request predicts
// exactly the EWMA. Reads are lock-free snapshots; mutations are serialized
// per endpoint key inside the registry.
type LatencyPredictor struct {
	reg     *StateRegistry
	weights atomic.Pointer[PredictorWeights]

	alpha              float64
	defaultLatencyMs   float64
	lowConfidenceBelow float64
}

// NewLatencyPredictor builds a predictor over its own state registry.
func NewLatencyPredictor(cfg PredictorConfig) (*LatencyPredictor, error) {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("predictor: alpha must be in (0,1], got %f", cfg.Alpha)
	}
	if err := cfg.Weights.validate(); err != nil {
		return nil, fmt.Errorf("predictor: %w", err)
	}
	p := &LatencyPredictor{
		reg:                NewStateRegistry(cfg.WindowSize),
		alpha:              cfg.Alpha,
		defaultLatencyMs:   cfg.DefaultLatencyMs,
		lowConfidenceBelow: cfg.LowConfidenceBelow,
	}
	w := cfg.Weights
	p.weights.Store(&w)
	return p, nil
}

// Registry exposes the predictor's state registry for read accessors.
func (p *LatencyPredictor) Registry() *StateRegistry { return p.reg }

// Weights returns the active weight vector.
func (p *LatencyPredictor) Weights() PredictorWeights { return *p.weights.Load() }

// Recalibrate atomically swaps in a new weight vector. This is the refit
// point for the optional background recalibration step: a fitter may derive
// weights from accumulated samples and install them without pausing
// concurrent Predict calls.
func (p *LatencyPredictor) Recalibrate(w PredictorWeights) error {
	if err := w.validate(); err != nil {
		return fmt.Errorf("recalibrate: %w", err)
	}
	p.weights.Store(&w)
	return nil
}

// Predict computes the latency estimate. Cold start (no samples for the
// key) returns the configured default with the low-confidence flag set.
// Predict never mutates state, so repeated calls with identical inputs
// return identical results.
func (p *LatencyPredictor) Predict(f FeatureVector, snap StateSnapshot) Prediction {
	if snap.SampleCount == 0 || !snapHasBase(snap) {
		return Prediction{
			LatencyMs:     p.defaultLatencyMs,
			Confidence:    0,
			LowConfidence: true,
			ColdStart:     true,
		}
	}

	w := *p.weights.Load()
	payloadRatio := 1.0
	if snap.PayloadMedian > 0 {
		payloadRatio = f.PayloadSize / snap.PayloadMedian
	}

	mult := 1 +
		w.Payload*(payloadRatio-1) +
		w.Hour*(hourFactor(f.HourOfDay)-1) +
		w.Day*(dayFactor(f.DayOfWeek)-1) +
		w.Bucket*(f.EndpointBucket-0.5)
	predicted := snap.EWMA * math.Max(mult, 0.05)

	conf := p.confidence(snap)
	return Prediction{
		LatencyMs:     predicted,
		Confidence:    conf,
		LowConfidence: conf < p.lowConfidenceBelow,
	}
}

// confidence grows with sample coverage and shrinks with latency
// variability (coefficient of variation).
func (p *LatencyPredictor) confidence(snap StateSnapshot) float64 {
	coverage := clamp01(float64(snap.SampleCount) / float64(p.reg.window))
	stability := 1.0
	if snap.RecentAvg > 0 {
		stability = clamp01(1 - snap.StdDev/snap.RecentAvg/2)
	}
	return clamp01(coverage * stability)
}

// Observe folds a completed request into the endpoint's rolling state.
func (p *LatencyPredictor) Observe(key string, out Outcome, payloadBytes float64, at time.Time) {
	p.reg.Observe(key, out.LatencyMs, payloadBytes, out.Failed(), at, p.alpha)
}

func snapHasBase(snap StateSnapshot) bool {
	return snap.EWMA > 0 || snap.RecentAvg > 0
}
