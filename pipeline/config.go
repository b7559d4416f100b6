package pipeline

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the injected policy/configuration object. The pipeline treats
// it as read-only: it parses no files itself beyond Load below, and swaps
// only at defined reload points (engine construction).
type Config struct {
	Predictor PredictorConfig  `yaml:"predictor"`
	Anomaly   AnomalyConfig    `yaml:"anomaly"`
	Tradeoff  TradeoffConfig   `yaml:"tradeoff"`
	Cache     CacheConfig      `yaml:"cache"`
	Engine    EngineConfig     `yaml:"engine"`
	Advisory  AdvisoryConfig   `yaml:"advisory"`
	Events    EventsConfig     `yaml:"events"`
	Policies  []PolicyOverride `yaml:"policies"`
}

// PredictorConfig groups latency predictor parameters.
type PredictorConfig struct {
	Alpha              float64          `yaml:"alpha"`                // EWMA smoothing factor
	DefaultLatencyMs   float64          `yaml:"default_latency_ms"`   // cold-start estimate
	WindowSize         int              `yaml:"window_size"`          // ring buffer length per endpoint
	LowConfidenceBelow float64          `yaml:"low_confidence_below"` // confidence flag threshold
	Weights            PredictorWeights `yaml:"weights"`
}

// StatWeights mixes the statistical anomaly sub-components.
type StatWeights struct {
	Z       float64 `yaml:"z"`
	Payload float64 `yaml:"payload"`
	Error   float64 `yaml:"error"`
}

// ForestConfig bounds the ensemble.
type ForestConfig struct {
	Trees      int `yaml:"trees"`
	SampleSize int `yaml:"sample_size"`
}

// AnomalyConfig groups anomaly detector parameters. Classification
// thresholds live here, not in the detector: they are policy, not logic.
type AnomalyConfig struct {
	MinSamples          int          `yaml:"min_samples"`
	ZClip               float64      `yaml:"z_clip"`          // |z| at which the z component saturates
	IQRThreshold        float64      `yaml:"iqr_threshold"`   // payload outlier flag threshold
	ErrorDeltaGain      float64      `yaml:"error_delta_gain"`
	StatWeights         StatWeights  `yaml:"stat_weights"`
	SuspiciousThreshold float64      `yaml:"suspicious_threshold"`
	AnomalousThreshold  float64      `yaml:"anomalous_threshold"`
	SampleBufferSize    int          `yaml:"sample_buffer_size"`
	RebuildEvery        int          `yaml:"rebuild_every"` // observations between rebuilds
	RebuildIntervalSec  int          `yaml:"rebuild_interval_sec"`
	Forest              ForestConfig `yaml:"forest"`
}

func (c AnomalyConfig) rebuildInterval() time.Duration {
	return time.Duration(c.RebuildIntervalSec) * time.Second
}

// TTLBounds expresses cache TTL recommendations in whole seconds, the way
// the rest of the config does durations.
type TTLBounds struct {
	BaseSec int `yaml:"base_sec"`
	MinSec  int `yaml:"min_sec"`
	MaxSec  int `yaml:"max_sec"`
}

func (b TTLBounds) Base() time.Duration { return time.Duration(b.BaseSec) * time.Second }
func (b TTLBounds) Min() time.Duration  { return time.Duration(b.MinSec) * time.Second }
func (b TTLBounds) Max() time.Duration  { return time.Duration(b.MaxSec) * time.Second }

// TradeoffConfig groups optimizer parameters. The three weights must sum
// to 1; Validate enforces this at load time.
type TradeoffConfig struct {
	LatencyWeight           float64   `yaml:"latency_weight"`
	CostWeight              float64   `yaml:"cost_weight"`
	CacheWeight             float64   `yaml:"cache_weight"`
	SLATargetMs             float64   `yaml:"sla_target_ms"`
	CostPerCall             float64   `yaml:"cost_per_call"`
	CostBudgetPerMinute     float64   `yaml:"cost_budget_per_minute"`
	BaselineVolumePerMinute float64   `yaml:"baseline_volume_per_minute"`
	TimeoutSafetyMultiplier float64   `yaml:"timeout_safety_multiplier"`
	MinTimeoutMs            float64   `yaml:"min_timeout_ms"`
	RetryBaseIntervalMs     int       `yaml:"retry_base_interval_ms"`
	RetryMultiplier         float64   `yaml:"retry_multiplier"`
	CacheTTL                TTLBounds `yaml:"cache_ttl"`
}

// CacheConfig groups request cache bounds.
type CacheConfig struct {
	Capacity           int `yaml:"capacity"`
	JanitorIntervalSec int `yaml:"janitor_interval_sec"`
}

// EngineConfig groups decision engine knobs.
type EngineConfig struct {
	TopFactors int   `yaml:"top_factors"` // factors named in the explanation
	Seed       int64 `yaml:"seed"`        // ensemble determinism; 0 = time-based
}

// AdvisoryConfig points at the offline vulnerability table.
type AdvisoryConfig struct {
	DataPath string `yaml:"data_path"` // empty disables the advisory merge
}

// EventsConfig bounds the decision event stream.
type EventsConfig struct {
	Buffer int `yaml:"buffer"` // emitter channel capacity; 0 disables emission
}

// PolicyOverride layers per-service / per-endpoint threshold overrides on
// top of the global config. A nil field means "inherit". Matching is by
// host (service) and optional exact path.
type PolicyOverride struct {
	Service             string   `yaml:"service"`
	Endpoint            string   `yaml:"endpoint"`
	SLATargetMs         *float64 `yaml:"sla_target_ms"`
	SuspiciousThreshold *float64 `yaml:"suspicious_threshold"`
	AnomalousThreshold  *float64 `yaml:"anomalous_threshold"`
	TimeoutMultiplier   *float64 `yaml:"timeout_safety_multiplier"`
}

// effectiveThresholds are the per-request policy values after override
// resolution.
type effectiveThresholds struct {
	slaTargetMs         float64
	suspicious          float64
	anomalous           float64
	timeoutMultiplier   float64
}

// resolve merges global values with the most specific matching override:
// global < service < service+endpoint.
func (c *Config) resolve(host, path string) effectiveThresholds {
	eff := effectiveThresholds{
		slaTargetMs:       c.Tradeoff.SLATargetMs,
		suspicious:        c.Anomaly.SuspiciousThreshold,
		anomalous:         c.Anomaly.AnomalousThreshold,
		timeoutMultiplier: c.Tradeoff.TimeoutSafetyMultiplier,
	}
	apply := func(o PolicyOverride) {
		if o.SLATargetMs != nil {
			eff.slaTargetMs = *o.SLATargetMs
		}
		if o.SuspiciousThreshold != nil {
			eff.suspicious = *o.SuspiciousThreshold
		}
		if o.AnomalousThreshold != nil {
			eff.anomalous = *o.AnomalousThreshold
		}
		if o.TimeoutMultiplier != nil {
			eff.timeoutMultiplier = *o.TimeoutMultiplier
		}
	}
	for _, o := range c.Policies {
		if o.Service == host && o.Endpoint == "" {
			apply(o)
		}
	}
	for _, o := range c.Policies {
		if o.Service == host && o.Endpoint != "" && o.Endpoint == path {
			apply(o)
		}
	}
	return eff
}

// DefaultConfig returns the config used when no file is supplied. The
// predictor weights are the fixed constants carried over from the original
// model coefficients.
func DefaultConfig() *Config {
	return &Config{
		Predictor: PredictorConfig{
			Alpha:              0.3,
			DefaultLatencyMs:   250,
			WindowSize:         50,
			LowConfidenceBelow: 0.3,
			Weights: PredictorWeights{
				Payload: 0.25,
				Hour:    0.15,
				Day:     0.10,
				Bucket:  0.15,
			},
		},
		Anomaly: AnomalyConfig{
			MinSamples:          5,
			ZClip:               4,
			IQRThreshold:        1.5,
			ErrorDeltaGain:      2,
			StatWeights:         StatWeights{Z: 0.45, Payload: 0.30, Error: 0.25},
			SuspiciousThreshold: 0.3,
			AnomalousThreshold:  0.7,
			SampleBufferSize:    512,
			RebuildEvery:        128,
			RebuildIntervalSec:  60,
			Forest:              ForestConfig{Trees: 25, SampleSize: 64},
		},
		Tradeoff: TradeoffConfig{
			LatencyWeight:           0.5,
			CostWeight:              0.3,
			CacheWeight:             0.2,
			SLATargetMs:             1000,
			CostPerCall:             0.0001,
			CostBudgetPerMinute:     1.0,
			BaselineVolumePerMinute: 60,
			TimeoutSafetyMultiplier: 2.5,
			MinTimeoutMs:            100,
			RetryBaseIntervalMs:     250,
			RetryMultiplier:         2,
			CacheTTL:                TTLBounds{BaseSec: 300, MinSec: 30, MaxSec: 3600},
		},
		Cache: CacheConfig{
			Capacity:           1024,
			JanitorIntervalSec: 60,
		},
		Engine: EngineConfig{TopFactors: 5, Seed: 1},
		Events: EventsConfig{Buffer: 256},
	}
}

// Load reads and parses a YAML config file, layered over DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks parameter ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Predictor.Alpha <= 0 || c.Predictor.Alpha > 1 {
		return fmt.Errorf("predictor.alpha must be in (0,1], got %f", c.Predictor.Alpha)
	}
	if c.Predictor.WindowSize <= 0 {
		return fmt.Errorf("predictor.window_size must be positive, got %d", c.Predictor.WindowSize)
	}
	if c.Predictor.DefaultLatencyMs <= 0 {
		return fmt.Errorf("predictor.default_latency_ms must be positive, got %f", c.Predictor.DefaultLatencyMs)
	}
	if err := c.Predictor.Weights.validate(); err != nil {
		return err
	}

	a := c.Anomaly
	if a.MinSamples < 1 {
		return fmt.Errorf("anomaly.min_samples must be at least 1, got %d", a.MinSamples)
	}
	if a.ZClip <= 0 || a.IQRThreshold <= 0 {
		return fmt.Errorf("anomaly.z_clip and anomaly.iqr_threshold must be positive")
	}
	if a.SuspiciousThreshold < 0 || a.AnomalousThreshold > 1 || a.SuspiciousThreshold > a.AnomalousThreshold {
		return fmt.Errorf("anomaly thresholds must satisfy 0 <= suspicious <= anomalous <= 1, got %f/%f",
			a.SuspiciousThreshold, a.AnomalousThreshold)
	}
	sw := a.StatWeights
	if swSum := sw.Z + sw.Payload + sw.Error; math.Abs(swSum-1) > 1e-6 {
		return fmt.Errorf("anomaly.stat_weights must sum to 1, got %f", swSum)
	}

	t := c.Tradeoff
	if sum := t.LatencyWeight + t.CostWeight + t.CacheWeight; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("tradeoff weights must sum to 1, got %f", sum)
	}
	if t.SLATargetMs <= 0 {
		return fmt.Errorf("tradeoff.sla_target_ms must be positive, got %f", t.SLATargetMs)
	}
	if t.CostBudgetPerMinute <= 0 {
		return fmt.Errorf("tradeoff.cost_budget_per_minute must be positive, got %f", t.CostBudgetPerMinute)
	}
	if t.TimeoutSafetyMultiplier < 1 {
		return fmt.Errorf("tradeoff.timeout_safety_multiplier must be at least 1, got %f", t.TimeoutSafetyMultiplier)
	}
	if t.CacheTTL.MinSec > t.CacheTTL.MaxSec {
		return fmt.Errorf("tradeoff.cache_ttl min_sec exceeds max_sec")
	}

	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Engine.TopFactors <= 0 {
		return fmt.Errorf("engine.top_factors must be positive, got %d", c.Engine.TopFactors)
	}

	for i, o := range c.Policies {
		if strings.TrimSpace(o.Service) == "" {
			return fmt.Errorf("policies[%d]: service is required", i)
		}
		for name, v := range map[string]*float64{
			"suspicious_threshold": o.SuspiciousThreshold,
			"anomalous_threshold":  o.AnomalousThreshold,
		} {
			if v != nil && (*v < 0 || *v > 1) {
				return fmt.Errorf("policies[%d]: %s must be between 0 and 1, got %f", i, name, *v)
			}
		}
	}
	return nil
}
