package pipeline

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tarunvoff/apiris-sdk/pipeline/forest"
)

// Classification buckets an anomaly score against configured thresholds.
type Classification string

const (
	ClassNormal     Classification = "normal"
	ClassSuspicious Classification = "suspicious"
	ClassAnomalous  Classification = "anomalous"
)

// AnomalyResult is the detector's output for one completed request.
type AnomalyResult struct {
	Score            float64
	Class            Classification
	InsufficientData bool // fewer samples than the configured minimum; score is 0
	StatisticalOnly  bool // ensemble unavailable; statistical sub-score only

	// Sub-score components, kept for explanations.
	ZScore         float64 // latency deviation in standard deviations
	ZComponent     float64
	PayloadOutlier bool // |size - median| / IQR breached the threshold
	PayloadDev     float64
	PayloadComp    float64
	ErrorComp      float64
	EnsembleRaw    float64
}

// Detector scores a completed request for anomaly. One concrete variant in
// the core.
type Detector interface {
	Score(f FeatureVector, snap StateSnapshot, out Outcome) AnomalyResult
	Record(f FeatureVector)
}

// AnomalyDetector combines a statistical sub-score (latency z-score, IQR
// payload outlier, error-rate delta) with an ensemble sub-score from a
// randomized partition-tree forest. The forest is rebuilt from a sample
// buffer every RebuildEvery observations or RebuildInterval, whichever
// comes first; rebuilds run off the scoring path and publish the new tree
// set with an atomic pointer swap.
type AnomalyDetector struct {
	cfg AnomalyConfig

	active   atomic.Pointer[forest.Forest]
	building atomic.Bool
	rebuilds atomic.Int64

	mu         sync.Mutex
	samples    [][]float64
	sinceBuild int
	lastBuild  time.Time

	rng *rand.Rand
	log *logrus.Entry
}

// NewAnomalyDetector builds a detector. The seed makes forest construction
// deterministic for tests and replays.
func NewAnomalyDetector(cfg AnomalyConfig, seed int64) *AnomalyDetector {
	return &AnomalyDetector{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
		log: logrus.WithField("component", "anomaly"),
	}
}

// Score computes the anomaly score for one outcome. Fails open: with fewer
// than MinSamples observations it returns score 0 with the insufficient-data
// flag instead of erroring, and with no forest built yet it falls back to
// statistical-only scoring.
func (d *AnomalyDetector) Score(f FeatureVector, snap StateSnapshot, out Outcome) AnomalyResult {
	if snap.SampleCount < d.cfg.MinSamples {
		return AnomalyResult{Class: ClassNormal, InsufficientData: true}
	}

	res := d.statistical(f, snap, out)
	stat := clamp01(d.cfg.StatWeights.Z*res.ZComponent +
		d.cfg.StatWeights.Payload*res.PayloadComp +
		d.cfg.StatWeights.Error*res.ErrorComp)

	active := d.active.Load()
	if active == nil {
		res.StatisticalOnly = true
		res.Score = stat
	} else {
		res.EnsembleRaw = active.Score(f.Row())
		normalized := clamp01((res.EnsembleRaw - 0.35) / 0.65)
		res.Score = clamp01(normalized * (0.5 + stat))
	}
	res.Class = d.classify(res.Score)
	return res
}

// statistical computes the three statistical components without combining
// them, so the engine can name individual threshold breaches.
func (d *AnomalyDetector) statistical(f FeatureVector, snap StateSnapshot, out Outcome) AnomalyResult {
	var res AnomalyResult

	// Latency z-score against the rolling mean/stddev.
	dev := out.LatencyMs - snap.RecentAvg
	if snap.StdDev > 1e-9 {
		res.ZScore = dev / snap.StdDev
	} else if snap.RecentAvg > 0 {
		// Flat history: score relative deviation instead.
		res.ZScore = dev / snap.RecentAvg * d.cfg.ZClip
	}
	res.ZComponent = clamp01(math.Abs(res.ZScore) / d.cfg.ZClip)

	// IQR payload-size outlier.
	if snap.PayloadIQR > 1e-9 {
		res.PayloadDev = math.Abs(f.PayloadSize-snap.PayloadMedian) / snap.PayloadIQR
	} else if snap.PayloadMedian > 0 {
		res.PayloadDev = math.Abs(f.PayloadSize-snap.PayloadMedian) / snap.PayloadMedian * d.cfg.IQRThreshold
	}
	res.PayloadOutlier = res.PayloadDev > d.cfg.IQRThreshold
	res.PayloadComp = clamp01(res.PayloadDev / (2 * d.cfg.IQRThreshold))

	// Error-rate delta plus a direct penalty for the outcome at hand.
	delta := math.Max(0, snap.ErrorRate-snap.BaselineErrorRate)
	res.ErrorComp = clamp01(delta * d.cfg.ErrorDeltaGain)
	switch {
	case out.Err != nil, out.StatusCode >= 500, out.StatusCode == 429:
		res.ErrorComp = clamp01(res.ErrorComp + 0.5)
	case out.StatusCode >= 400:
		res.ErrorComp = clamp01(res.ErrorComp + 0.25)
	}
	return res
}

func (d *AnomalyDetector) classify(score float64) Classification {
	switch {
	case score >= d.cfg.AnomalousThreshold:
		return ClassAnomalous
	case score >= d.cfg.SuspiciousThreshold:
		return ClassSuspicious
	default:
		return ClassNormal
	}
}

// Record appends a feature row to the sample buffer and triggers a rebuild
// when the observation or time trigger fires. The rebuild runs in its own
// goroutine; concurrent Score calls keep reading the previous forest.
func (d *AnomalyDetector) Record(f FeatureVector) {
	d.mu.Lock()
	d.samples = append(d.samples, f.Row())
	if len(d.samples) > d.cfg.SampleBufferSize {
		d.samples = d.samples[len(d.samples)-d.cfg.SampleBufferSize:]
	}
	d.sinceBuild++
	due := d.sinceBuild >= d.cfg.RebuildEvery ||
		(!d.lastBuild.IsZero() && time.Since(d.lastBuild) >= d.cfg.rebuildInterval() && d.sinceBuild > 0)
	ready := len(d.samples) >= d.cfg.MinSamples
	var snapshot [][]float64
	if due && ready && d.building.CompareAndSwap(false, true) {
		snapshot = make([][]float64, len(d.samples))
		copy(snapshot, d.samples)
		d.sinceBuild = 0
		d.lastBuild = time.Now()
	}
	d.mu.Unlock()

	if snapshot != nil {
		go d.rebuild(snapshot)
	}
}

func (d *AnomalyDetector) rebuild(samples [][]float64) {
	defer d.building.Store(false)
	d.mu.Lock()
	rng := rand.New(rand.NewSource(d.rng.Int63()))
	d.mu.Unlock()

	built := forest.Build(samples, forest.Config{
		Trees:      d.cfg.Forest.Trees,
		SampleSize: d.cfg.Forest.SampleSize,
	}, rng)
	if built == nil {
		return
	}
	d.active.Store(built)
	d.rebuilds.Add(1)
	d.log.Debugf("rebuilt ensemble from %d samples (%d trees)", len(samples), built.Size())
}

// Rebuilds returns how many times the ensemble has been rebuilt.
func (d *AnomalyDetector) Rebuilds() int64 { return d.rebuilds.Load() }

// EnsembleReady reports whether an active forest is available for scoring.
func (d *AnomalyDetector) EnsembleReady() bool { return d.active.Load() != nil }
