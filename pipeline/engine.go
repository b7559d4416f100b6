package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tarunvoff/apiris-sdk/pipeline/advisory"
	"github.com/Tarunvoff/apiris-sdk/pipeline/cache"
)

// ActionTag is the advisory verdict for a completed request. The set is
// closed at PROCEED/NOTICE/WARN: this system never blocks a call.
type ActionTag string

const (
	ActionProceed ActionTag = "PROCEED"
	ActionNotice  ActionTag = "NOTICE"
	ActionWarn    ActionTag = "WARN"
)

// CachedResponse is the payload stored in the request cache.
type CachedResponse struct {
	Status      int               `json:"status"`
	Header      map[string]string `json:"header,omitempty"`
	Body        []byte            `json:"body,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
}

// PreDecision is the pre-dispatch output of the pipeline. It carries the
// intermediate values DecideAfter needs, so the post stage never recomputes
// or re-reads mutable state observed before the call.
type PreDecision struct {
	EndpointKey        string
	Fingerprint        string
	PredictedLatencyMs float64
	CacheHit           bool
	Cached             *CachedResponse
	RecommendedTimeout time.Duration
	LowConfidence      bool

	Features   FeatureVector
	Snapshot   StateSnapshot
	Prediction Prediction

	host string
	path string
}

// DecisionBundle is the sole externally observable artifact of a completed
// pipeline run. Immutable once returned.
type DecisionBundle struct {
	EndpointKey         string              `json:"endpoint_key"`
	Action              ActionTag           `json:"action"`
	PredictedLatencyMs  float64             `json:"predicted_latency_ms"`
	ActualLatencyMs     float64             `json:"actual_latency_ms"`
	AnomalyScore        float64             `json:"anomaly_score"`
	AnomalyClass        Classification      `json:"anomaly_class"`
	UtilityScore        float64             `json:"utility_score"`
	RecommendedTimeout  time.Duration       `json:"recommended_timeout"`
	RecommendedRetry    RetryPolicy         `json:"recommended_retry"`
	RecommendedCacheTTL time.Duration       `json:"recommended_cache_ttl"`
	Confidence          float64             `json:"confidence"`
	Explanation         string              `json:"explanation"`
	Factors             []ExplanationFactor `json:"factors,omitempty"`
	Flags               []string            `json:"flags,omitempty"`
	Timestamp           time.Time           `json:"timestamp"`
}

// HasFlag reports whether the bundle carries the given diagnostic flag.
func (b *DecisionBundle) HasFlag(flag string) bool {
	for _, f := range b.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Engine orchestrates the pipeline. It owns no long-lived state of its own
// beyond references to its components and the injected configuration.
type Engine struct {
	cfg       *Config
	predictor *LatencyPredictor
	detector  *AnomalyDetector
	optimizer *TradeoffOptimizer
	cache     *cache.Cache
	advisor   *advisory.Table
	emitter   *Emitter
	log       *logrus.Entry
}

// EngineOption wires optional collaborators at construction.
type EngineOption func(*Engine)

// WithAdvisoryTable attaches the offline vulnerability table. Advisory
// metadata only enriches explanations; it never changes decisions.
func WithAdvisoryTable(t *advisory.Table) EngineOption {
	return func(e *Engine) { e.advisor = t }
}

// WithEmitter attaches a decision event emitter for external storage.
func WithEmitter(em *Emitter) EngineOption {
	return func(e *Engine) { e.emitter = em }
}

// NewEngine validates the configuration and assembles the pipeline.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	predictor, err := NewLatencyPredictor(cfg.Predictor)
	if err != nil {
		return nil, err
	}
	seed := cfg.Engine.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	e := &Engine{
		cfg:       cfg,
		predictor: predictor,
		detector:  NewAnomalyDetector(cfg.Anomaly, seed),
		optimizer: NewTradeoffOptimizer(cfg.Tradeoff),
		cache: cache.New(
			cache.WithCapacity(cfg.Cache.Capacity),
			cache.WithJanitorInterval(time.Duration(cfg.Cache.JanitorIntervalSec)*time.Second),
		),
		log: logrus.WithField("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DecideBefore runs the pre-dispatch stage: feature extraction, latency
// prediction and the cache lookup. It mutates no model state, so two calls
// with identical descriptors and no intervening observation return
// identical predictions and cache-hit results. The only error is
// ErrInvalidInput for an unparsable descriptor.
func (e *Engine) DecideBefore(d *RequestDescriptor) (*PreDecision, error) {
	p, err := parseDescriptor(d)
	if err != nil {
		return nil, err
	}
	key := p.host + p.path
	snap, _ := e.predictor.Registry().Snapshot(key)

	features, err := ExtractFeatures(d, snap)
	if err != nil {
		return nil, err
	}
	pred := e.predictor.Predict(features, snap)

	fp := d.Fingerprint()
	var cached *CachedResponse
	hit := false
	if v, ok := e.cache.Lookup(fp); ok {
		cached, hit = v.(*CachedResponse), true
	}

	eff := e.cfg.resolve(p.host, p.path)
	timeoutMs := pred.LatencyMs * eff.timeoutMultiplier
	if timeoutMs < e.cfg.Tradeoff.MinTimeoutMs {
		timeoutMs = e.cfg.Tradeoff.MinTimeoutMs
	}

	return &PreDecision{
		EndpointKey:        key,
		Fingerprint:        fp,
		PredictedLatencyMs: pred.LatencyMs,
		CacheHit:           hit,
		Cached:             cached,
		RecommendedTimeout: time.Duration(timeoutMs * float64(time.Millisecond)),
		LowConfidence:      pred.LowConfidence,
		Features:           features,
		Snapshot:           snap,
		Prediction:         pred,
		host:               p.host,
		path:               p.path,
	}, nil
}

// DecideAfter runs the post-dispatch stage: anomaly scoring, trade-off
// evaluation, explanation, model-state update and cache refresh. It never
// returns an error; every internal fault degrades to a neutral PROCEED
// bundle with diagnostic flags (fail-open), and the caller's control flow
// is never altered.
func (e *Engine) DecideAfter(d *RequestDescriptor, pre *PreDecision, out Outcome) (bundle *DecisionBundle) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warnf("decision pipeline fault, degrading: %v", r)
			bundle = e.neutralBundle(pre, out)
		}
	}()
	if d == nil || pre == nil {
		return e.neutralBundle(pre, out)
	}

	eff := e.cfg.resolve(pre.host, pre.path)

	res := e.detector.Score(pre.Features, pre.Snapshot, out)
	res.Class = classify(res.Score, eff.suspicious, eff.anomalous)

	trade := e.optimizer.Evaluate(pre.Prediction, pre.Snapshot, TradeoffInputs{
		CacheHitRate: e.cache.Stats().HitRate(),
		SLATargetMs:  eff.slaTargetMs,
		FailureProb:  failureProb(pre.Snapshot, out),
		Retryable:    retryable(out),
	})

	action := actionFor(res.Class)

	var adv *advisory.Advisory
	if e.advisor.Enabled() {
		if vendor, ok := advisory.VendorFromHost(pre.host); ok {
			adv, _ = e.advisor.Lookup(vendor)
		}
	}

	factors := buildFactors(pre.Features, pre.Snapshot, out, pre, res)
	explanation := renderExplanation(action, res, factors, e.cfg.Engine.TopFactors, adv)

	var flags []string
	if res.InsufficientData {
		flags = append(flags, FlagInsufficientData)
	}
	if res.StatisticalOnly {
		flags = append(flags, FlagStatisticalOnly)
	}
	if pre.Prediction.ColdStart {
		flags = append(flags, FlagColdStart)
	}

	bundle = &DecisionBundle{
		EndpointKey:         pre.EndpointKey,
		Action:              action,
		PredictedLatencyMs:  pre.PredictedLatencyMs,
		ActualLatencyMs:     out.LatencyMs,
		AnomalyScore:        res.Score,
		AnomalyClass:        res.Class,
		UtilityScore:        trade.Utility,
		RecommendedTimeout:  trade.RecommendedTimeout,
		RecommendedRetry:    trade.Retry,
		RecommendedCacheTTL: trade.CacheTTL,
		Confidence:          e.confidence(pre.Prediction, res, action),
		Explanation:         explanation,
		Factors:             factors,
		Flags:               flags,
		Timestamp:           timestampOf(d),
	}

	// Feedback loop: all model updates happen strictly after the pre stage
	// for this request has completed, on the post-call path.
	at := timestampOf(d)
	e.predictor.Observe(pre.EndpointKey, out, pre.Features.PayloadSize, at)
	e.detector.Record(pre.Features)

	if out.Response != nil && !out.Failed() {
		e.cache.Put(pre.Fingerprint, out.Response, trade.CacheTTL)
	}

	if e.emitter != nil {
		e.emitter.Emit(Event{
			Bundle:   bundle,
			Features: pre.Features,
			Status:   out.StatusCode,
			Bytes:    out.Bytes,
			Failed:   out.Failed(),
		})
	}
	return bundle
}

// neutralBundle is the fail-open result: configured default latency,
// anomaly score 0, PROCEED, flagged degraded.
func (e *Engine) neutralBundle(pre *PreDecision, out Outcome) *DecisionBundle {
	b := &DecisionBundle{
		Action:             ActionProceed,
		PredictedLatencyMs: e.cfg.Predictor.DefaultLatencyMs,
		ActualLatencyMs:    out.LatencyMs,
		AnomalyClass:       ClassNormal,
		Confidence:         0,
		Explanation:        "PROCEED: pipeline degraded, neutral decision",
		Flags:              []string{FlagDegraded},
		Timestamp:          time.Now(),
	}
	if pre != nil {
		b.EndpointKey = pre.EndpointKey
		b.PredictedLatencyMs = pre.PredictedLatencyMs
		b.RecommendedTimeout = pre.RecommendedTimeout
	}
	return b
}

func (e *Engine) confidence(pred Prediction, res AnomalyResult, action ActionTag) float64 {
	if res.InsufficientData {
		return math.Min(pred.Confidence, 0.2)
	}
	c := pred.Confidence
	if action != ActionProceed {
		// A breach we can name is itself evidence.
		c = math.Max(c, res.Score)
	}
	if res.StatisticalOnly {
		c *= 0.8
	}
	return math.Round(c*100) / 100
}

func classify(score, suspicious, anomalous float64) Classification {
	switch {
	case score >= anomalous:
		return ClassAnomalous
	case score >= suspicious:
		return ClassSuspicious
	default:
		return ClassNormal
	}
}

func actionFor(c Classification) ActionTag {
	switch c {
	case ClassAnomalous:
		return ActionWarn
	case ClassSuspicious:
		return ActionNotice
	default:
		return ActionProceed
	}
}

// failureProb folds the current outcome into the window's error rate so a
// fresh failure on a so-far-healthy endpoint still nudges the retry
// recommendation.
func failureProb(snap StateSnapshot, out Outcome) float64 {
	p := snap.ErrorRate
	if out.Failed() {
		n := float64(snap.SampleCount)
		p = math.Max(p, (p*n+1)/(n+1))
	}
	return p
}

// retryable reports whether the outcome is worth retrying at all: transport
// faults, rate limits and server errors. Client errors are not.
func retryable(out Outcome) bool {
	return out.Err != nil || out.StatusCode == 429 || out.StatusCode >= 500
}

func timestampOf(d *RequestDescriptor) time.Time {
	if d != nil && !d.Timestamp.IsZero() {
		return d.Timestamp
	}
	return time.Now()
}

// StateSnapshot exposes the rolling model state for key, for diagnostics.
func (e *Engine) StateSnapshot(key string) (StateSnapshot, bool) {
	return e.predictor.Registry().Snapshot(key)
}

// EndpointKeys lists every endpoint with recorded state.
func (e *Engine) EndpointKeys() []string { return e.predictor.Registry().Keys() }

// CacheStats returns the request cache counters.
func (e *Engine) CacheStats() cache.Stats { return e.cache.Stats() }

// Predictor exposes the predictor for recalibration.
func (e *Engine) Predictor() *LatencyPredictor { return e.predictor }

// Detector exposes the anomaly detector for diagnostics.
func (e *Engine) Detector() *AnomalyDetector { return e.detector }

// Close releases background resources (cache janitor, event stream).
func (e *Engine) Close() {
	e.cache.Close()
	if e.emitter != nil {
		e.emitter.Close()
	}
}
