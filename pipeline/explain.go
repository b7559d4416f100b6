package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Tarunvoff/apiris-sdk/pipeline/advisory"
)

// ExplanationFactor is one contributing signal named in the explanation
// text, ordered by descending magnitude.
type ExplanationFactor struct {
	Name      string  `json:"name"`
	Magnitude float64 `json:"magnitude"`
	Detail    string  `json:"detail,omitempty"`
}

// buildFactors collects the contributing factors for one completed request.
// Deterministic given the same inputs: factor set, magnitudes and ordering
// depend only on the arguments.
func buildFactors(f FeatureVector, snap StateSnapshot, out Outcome, pre *PreDecision, res AnomalyResult) []ExplanationFactor {
	var factors []ExplanationFactor

	if res.ZComponent > 0 {
		factors = append(factors, ExplanationFactor{
			Name:      "latency deviation",
			Magnitude: res.ZComponent,
			Detail:    fmt.Sprintf("%.0fms vs recent average %.0fms (%.1f sigma)", out.LatencyMs, snap.RecentAvg, res.ZScore),
		})
	}
	if res.PayloadOutlier {
		factors = append(factors, ExplanationFactor{
			Name:      "unusual payload size",
			Magnitude: res.PayloadComp,
			Detail:    fmt.Sprintf("%.0fB vs median %.0fB", f.PayloadSize, snap.PayloadMedian),
		})
	}
	if hf := hourFactor(f.HourOfDay); hf < 1 {
		factors = append(factors, ExplanationFactor{
			Name:      "off-peak request time",
			Magnitude: 1 - hf,
			Detail:    fmt.Sprintf("hour %02.0f:00", f.HourOfDay),
		})
	}
	if out.StatusCode >= 400 {
		factors = append(factors, ExplanationFactor{
			Name:      fmt.Sprintf("status %d", out.StatusCode),
			Magnitude: res.ErrorComp,
		})
	}
	if out.Err != nil {
		factors = append(factors, ExplanationFactor{
			Name:      "transport error",
			Magnitude: res.ErrorComp,
			Detail:    out.Err.Error(),
		})
	}
	if pre != nil && pre.CacheHit {
		factors = append(factors, ExplanationFactor{Name: "cache hit", Magnitude: 0.1})
	}
	if pre != nil && pre.Prediction.ColdStart {
		factors = append(factors, ExplanationFactor{Name: "no request history", Magnitude: 0.2})
	}

	sort.SliceStable(factors, func(i, j int) bool {
		if factors[i].Magnitude != factors[j].Magnitude {
			return factors[i].Magnitude > factors[j].Magnitude
		}
		return factors[i].Name < factors[j].Name
	})
	return factors
}

// renderExplanation fills the explanation template from the contributing
// factors and the optional vendor advisory. Output is stable for stable
// inputs so explanations are directly assertable in tests.
func renderExplanation(action ActionTag, res AnomalyResult, factors []ExplanationFactor, topN int, adv *advisory.Advisory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: anomaly score %.2f (%s)", action, res.Score, res.Class)
	if res.InsufficientData {
		b.WriteString("; insufficient history for anomaly scoring")
	}
	if res.StatisticalOnly {
		b.WriteString("; ensemble unavailable, statistical signals only")
	}

	if len(factors) > 0 {
		if topN > 0 && len(factors) > topN {
			factors = factors[:topN]
		}
		parts := make([]string, 0, len(factors))
		for _, f := range factors {
			if f.Detail != "" {
				parts = append(parts, fmt.Sprintf("%s (%.2f; %s)", f.Name, f.Magnitude, f.Detail))
			} else {
				parts = append(parts, fmt.Sprintf("%s (%.2f)", f.Name, f.Magnitude))
			}
		}
		b.WriteString("; contributing factors: ")
		b.WriteString(strings.Join(parts, ", "))
	}

	if adv != nil {
		fmt.Fprintf(&b, "; advisory: vendor %s risk %s (%d known issues)", adv.Vendor, adv.RiskLevel, adv.Total)
	}
	return b.String()
}
