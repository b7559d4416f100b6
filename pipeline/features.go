package pipeline

import (
	"hash/fnv"
)

// Feature names, in the fixed order used for explanations and for ensemble
// sample rows. Order matters: forest rows index into this list.
const (
	FeaturePayloadSize    = "payload_size"
	FeatureHourOfDay      = "hour_of_day"
	FeatureDayOfWeek      = "day_of_week"
	FeatureRecentAvg      = "recent_avg_latency"
	FeatureEndpointBucket = "endpoint_bucket"
	FeatureErrorRate      = "error_rate"
	FeatureFrequencyRatio = "frequency_ratio"
)

// featureOrder is the canonical ordering for FeatureVector rows.
var featureOrder = []string{
	FeaturePayloadSize,
	FeatureHourOfDay,
	FeatureDayOfWeek,
	FeatureRecentAvg,
	FeatureEndpointBucket,
	FeatureErrorRate,
	FeatureFrequencyRatio,
}

// FeatureVector is the fixed feature set derived from one request. Derived
// per request and never stored beyond the request's lifetime.
type FeatureVector struct {
	PayloadSize    float64 // request body bytes
	HourOfDay      float64 // 0..23 local hour
	DayOfWeek      float64 // 0=Sunday .. 6=Saturday
	RecentAvg      float64 // rolling mean latency (ms) for the endpoint
	EndpointBucket float64 // stable hash bucket in [0,1)
	ErrorRate      float64 // current window error rate
	FrequencyRatio float64 // recent request rate vs long-run baseline
}

// Row returns the vector in canonical feature order for ensemble scoring.
func (f FeatureVector) Row() []float64 {
	return []float64{
		f.PayloadSize,
		f.HourOfDay,
		f.DayOfWeek,
		f.RecentAvg,
		f.EndpointBucket,
		f.ErrorRate,
		f.FrequencyRatio,
	}
}

// FeatureNames returns a copy of the canonical feature ordering.
func FeatureNames() []string {
	out := make([]string, len(featureOrder))
	copy(out, featureOrder)
	return out
}

const endpointBuckets = 64

// ExtractFeatures derives a FeatureVector from a descriptor and the current
// model-state snapshot for its endpoint. Pure with respect to its inputs:
// no hidden state is read or mutated. The only failure mode is an
// unparsable URL (ErrInvalidInput); every other missing input is defaulted
// (missing payload means size 0).
func ExtractFeatures(d *RequestDescriptor, snap StateSnapshot) (FeatureVector, error) {
	p, err := parseDescriptor(d)
	if err != nil {
		return FeatureVector{}, err
	}
	_ = p.queryCount // exact-path granularity; query shape does not feed the models

	h := fnv.New32a()
	h.Write([]byte(p.host + p.path))
	bucket := float64(h.Sum32()%endpointBuckets) / float64(endpointBuckets)

	ts := d.Timestamp
	return FeatureVector{
		PayloadSize:    float64(len(d.Body)),
		HourOfDay:      float64(ts.Hour()),
		DayOfWeek:      float64(ts.Weekday()),
		RecentAvg:      snap.RecentAvg,
		EndpointBucket: bucket,
		ErrorRate:      snap.ErrorRate,
		FrequencyRatio: snap.FrequencyRatio,
	}, nil
}

// hourFactor maps an hour of day to a load factor: 1.0 inside the busy
// window (09:00-18:59), 0.4 off-peak. Used both by the predictor's hour
// term and by the explanation's "off-peak request time" factor.
func hourFactor(hour float64) float64 {
	if hour >= 9 && hour < 19 {
		return 1.0
	}
	return 0.4
}

// dayFactor maps a weekday to a load factor: weekends run lighter.
func dayFactor(day float64) float64 {
	if day == 0 || day == 6 {
		return 0.7
	}
	return 1.0
}
