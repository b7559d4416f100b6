// Package advisory provides the offline vendor vulnerability lookup table.
// All data comes from a local JSON file; there are no external calls. The
// table is advisory only: its risk metadata is merged into explanation text
// and never changes a pipeline decision. Lookup failures never propagate.
package advisory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Entry is a single vulnerability record for a vendor.
type Entry struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"` // CRITICAL, HIGH, MEDIUM, LOW
	Score       float64 `json:"score"`
	Published   string  `json:"published"`
}

// Advisory is the aggregated risk view for one vendor.
type Advisory struct {
	Vendor    string
	RiskLevel string // LOW, MODERATE, HIGH, CRITICAL
	Score     float64
	Total     int
	Entries   []Entry
}

// Table holds the loaded vendor data. A nil or empty table is valid and
// answers every lookup with "not found".
type Table struct {
	vendors map[string][]Entry
}

type tableFile struct {
	Vendors map[string][]Entry `json:"vendors"`
}

// Load reads a vendor table from path. A missing file disables the table
// without error (the advisory system is optional); a malformed file is an
// error so a broken deployment is visible.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading advisory table: %w", err)
	}
	var f tableFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing advisory table: %w", err)
	}
	vendors := make(map[string][]Entry, len(f.Vendors))
	for vendor, entries := range f.Vendors {
		vendors[normalizeVendor(vendor)] = entries
	}
	return &Table{vendors: vendors}, nil
}

// NewTable builds a table directly from vendor data, mainly for tests.
func NewTable(vendors map[string][]Entry) *Table {
	normalized := make(map[string][]Entry, len(vendors))
	for vendor, entries := range vendors {
		normalized[normalizeVendor(vendor)] = entries
	}
	return &Table{vendors: normalized}
}

// Enabled reports whether the table has any data.
func (t *Table) Enabled() bool { return t != nil && len(t.vendors) > 0 }

// Lookup returns the aggregated advisory for vendor, trying an exact match
// first and then a substring match.
func (t *Table) Lookup(vendor string) (*Advisory, bool) {
	if !t.Enabled() {
		return nil, false
	}
	key := normalizeVendor(vendor)
	entries, ok := t.vendors[key]
	if !ok {
		keys := make([]string, 0, len(t.vendors))
		for k := range t.vendors {
			keys = append(keys, k)
		}
		sort.Strings(keys) // deterministic fallback when several match
		for _, k := range keys {
			if strings.Contains(k, key) || strings.Contains(key, k) {
				entries, ok = t.vendors[k], true
				break
			}
		}
	}
	if !ok || len(entries) == 0 {
		return nil, false
	}
	score := severityScore(entries)
	return &Advisory{
		Vendor:    vendor,
		RiskLevel: classifyRisk(score, len(entries)),
		Score:     score,
		Total:     len(entries),
		Entries:   entries,
	}, true
}

// severityWeights grade entries; the advisory score is the mean weight,
// so 1.0 means every known issue is critical.
var severityWeights = map[string]float64{
	"CRITICAL": 1.0,
	"HIGH":     0.7,
	"MEDIUM":   0.4,
	"LOW":      0.1,
}

func severityScore(entries []Entry) float64 {
	var total float64
	for _, e := range entries {
		total += severityWeights[strings.ToUpper(e.Severity)]
	}
	score := total / float64(len(entries))
	if score > 1 {
		score = 1
	}
	return score
}

func classifyRisk(score float64, total int) string {
	switch {
	case score >= 0.8 && total >= 5:
		return "CRITICAL"
	case score >= 0.6 || total >= 10:
		return "HIGH"
	case score >= 0.3 || total >= 3:
		return "MODERATE"
	default:
		return "LOW"
	}
}

// vendorPatterns maps well-known API hosts to vendor names.
var vendorPatterns = map[string][]string{
	"openai":      {"openai.com", "api.openai"},
	"anthropic":   {"anthropic.com", "claude"},
	"google":      {"google.com", "googleapis.com"},
	"cohere":      {"cohere.ai", "cohere.com"},
	"huggingface": {"huggingface.co", "hf.co"},
	"aws":         {"amazonaws.com", "aws.amazon"},
	"azure":       {"azure.com", "microsoft.com/azure"},
	"github":      {"github.com", "api.github"},
}

// VendorFromHost extracts a known vendor name from a request host.
func VendorFromHost(host string) (string, bool) {
	h := strings.ToLower(host)
	vendors := make([]string, 0, len(vendorPatterns))
	for v := range vendorPatterns {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)
	for _, vendor := range vendors {
		for _, pattern := range vendorPatterns[vendor] {
			if strings.Contains(h, pattern) {
				return vendor, true
			}
		}
	}
	return "", false
}

func normalizeVendor(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, "-", "")
	return strings.ReplaceAll(v, "_", "")
}
