package pipeline

import (
	"math"
	"testing"
	"time"
)

func testAnomalyConfig() AnomalyConfig {
	return DefaultConfig().Anomaly
}

func TestScore_InsufficientData(t *testing.T) {
	d := NewAnomalyDetector(testAnomalyConfig(), 1)
	res := d.Score(FeatureVector{}, StateSnapshot{SampleCount: 3}, Outcome{StatusCode: 500, LatencyMs: 9000})
	if res.Score != 0 {
		t.Errorf("Score = %v, want 0 below the sample minimum", res.Score)
	}
	if !res.InsufficientData {
		t.Error("insufficient-data flag not set")
	}
	if res.Class != ClassNormal {
		t.Errorf("Class = %v, want normal", res.Class)
	}
}

func TestScore_StatisticalOnlyBeforeFirstRebuild(t *testing.T) {
	d := NewAnomalyDetector(testAnomalyConfig(), 1)
	snap := StateSnapshot{SampleCount: 20, RecentAvg: 900, StdDev: 20, PayloadMedian: 1000, PayloadIQR: 100}
	res := d.Score(FeatureVector{PayloadSize: 1000}, snap, Outcome{StatusCode: 200, LatencyMs: 905})
	if !res.StatisticalOnly {
		t.Error("expected statistical-only scoring with no ensemble built")
	}
}

func TestScore_RateLimitedSpikeIsAnomalous(t *testing.T) {
	// A 3.2x payload with a 4500ms 429 response against a stable 900ms
	// baseline saturates the z and payload components and takes the direct
	// rate-limit penalty: 0.45 + 0.30 + 0.25*0.5 = 0.875.
	d := NewAnomalyDetector(testAnomalyConfig(), 1)
	snap := StateSnapshot{
		SampleCount:   20,
		RecentAvg:     900,
		StdDev:        20,
		PayloadMedian: 1000,
		PayloadIQR:    100,
	}
	res := d.Score(FeatureVector{PayloadSize: 3200}, snap, Outcome{StatusCode: 429, LatencyMs: 4500})

	if math.Abs(res.Score-0.875) > 1e-9 {
		t.Errorf("Score = %v, want 0.875", res.Score)
	}
	if res.Class != ClassAnomalous {
		t.Errorf("Class = %v, want anomalous", res.Class)
	}
	if res.ZComponent != 1 {
		t.Errorf("ZComponent = %v, want saturated at 1", res.ZComponent)
	}
	if !res.PayloadOutlier {
		t.Error("payload outlier not flagged")
	}
	if res.ErrorComp != 0.5 {
		t.Errorf("ErrorComp = %v, want 0.5 for a 429", res.ErrorComp)
	}
}

func TestScore_NormalRequestStaysNormal(t *testing.T) {
	d := NewAnomalyDetector(testAnomalyConfig(), 1)
	snap := StateSnapshot{SampleCount: 20, RecentAvg: 900, StdDev: 50, PayloadMedian: 1000, PayloadIQR: 200}
	res := d.Score(FeatureVector{PayloadSize: 1020}, snap, Outcome{StatusCode: 200, LatencyMs: 910})
	if res.Class != ClassNormal {
		t.Errorf("Class = %v (score %v), want normal", res.Class, res.Score)
	}
}

func TestScore_FlatHistoryUsesRelativeDeviation(t *testing.T) {
	// Zero stddev must not divide by zero or mute the z component.
	d := NewAnomalyDetector(testAnomalyConfig(), 1)
	snap := StateSnapshot{SampleCount: 20, RecentAvg: 100, StdDev: 0, PayloadMedian: 50, PayloadIQR: 10}
	res := d.Score(FeatureVector{PayloadSize: 50}, snap, Outcome{StatusCode: 200, LatencyMs: 400})
	if res.ZComponent <= 0 {
		t.Errorf("ZComponent = %v, want > 0 for a 4x latency on flat history", res.ZComponent)
	}
}

func TestScore_ClientErrorPenaltySmaller(t *testing.T) {
	d := NewAnomalyDetector(testAnomalyConfig(), 1)
	snap := StateSnapshot{SampleCount: 20, RecentAvg: 900, StdDev: 50, PayloadMedian: 1000, PayloadIQR: 200}
	server := d.Score(FeatureVector{PayloadSize: 1000}, snap, Outcome{StatusCode: 503, LatencyMs: 900})
	client := d.Score(FeatureVector{PayloadSize: 1000}, snap, Outcome{StatusCode: 404, LatencyMs: 900})
	if client.ErrorComp >= server.ErrorComp {
		t.Errorf("4xx penalty (%v) should be below 5xx penalty (%v)", client.ErrorComp, server.ErrorComp)
	}
}

func TestClassify_BoundariesLandInHigherClass(t *testing.T) {
	d := NewAnomalyDetector(testAnomalyConfig(), 1)
	cases := []struct {
		score float64
		want  Classification
	}{
		{0.0, ClassNormal},
		{0.299, ClassNormal},
		{0.3, ClassSuspicious},
		{0.699, ClassSuspicious},
		{0.7, ClassAnomalous},
		{1.0, ClassAnomalous},
	}
	for _, c := range cases {
		if got := d.classify(c.score); got != c.want {
			t.Errorf("classify(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestRecord_TriggersEnsembleRebuild(t *testing.T) {
	cfg := testAnomalyConfig()
	cfg.RebuildEvery = 10
	d := NewAnomalyDetector(cfg, 1)

	for i := 0; i < cfg.RebuildEvery; i++ {
		d.Record(FeatureVector{
			PayloadSize: float64(100 + i),
			HourOfDay:   float64(i % 24),
			RecentAvg:   float64(100 + 2*i),
		})
	}

	// The rebuild runs in its own goroutine; poll briefly for publication.
	deadline := time.Now().Add(2 * time.Second)
	for !d.EnsembleReady() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !d.EnsembleReady() {
		t.Fatal("ensemble never became ready after the rebuild trigger")
	}
	if d.Rebuilds() < 1 {
		t.Errorf("Rebuilds() = %d, want >= 1", d.Rebuilds())
	}
}

func TestScore_EnsemblePathStaysBounded(t *testing.T) {
	cfg := testAnomalyConfig()
	cfg.RebuildEvery = 10
	d := NewAnomalyDetector(cfg, 1)
	for i := 0; i < cfg.RebuildEvery; i++ {
		d.Record(FeatureVector{PayloadSize: float64(100 + i), RecentAvg: 120})
	}
	deadline := time.Now().Add(2 * time.Second)
	for !d.EnsembleReady() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !d.EnsembleReady() {
		t.Skip("ensemble not ready in time")
	}

	snap := StateSnapshot{SampleCount: 20, RecentAvg: 120, StdDev: 10, PayloadMedian: 105, PayloadIQR: 5}
	res := d.Score(FeatureVector{PayloadSize: 5000, RecentAvg: 120}, snap, Outcome{StatusCode: 503, LatencyMs: 2000})
	if res.StatisticalOnly {
		t.Error("statistical-only flag set with an active ensemble")
	}
	if res.Score < 0 || res.Score > 1 {
		t.Errorf("Score = %v, want [0,1]", res.Score)
	}
	if res.EnsembleRaw <= 0 {
		t.Errorf("EnsembleRaw = %v, want > 0", res.EnsembleRaw)
	}
}
