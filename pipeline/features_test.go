package pipeline

import (
	"errors"
	"testing"
	"time"
)

func TestExtractFeatures_Basics(t *testing.T) {
	// Tuesday 2024-01-16 14:30 UTC.
	ts := time.Date(2024, 1, 16, 14, 30, 0, 0, time.UTC)
	d := &RequestDescriptor{
		Method:    "POST",
		URL:       "https://api.example.com/v1/orders",
		Body:      []byte("hello"),
		Timestamp: ts,
	}
	snap := StateSnapshot{RecentAvg: 120, ErrorRate: 0.25, FrequencyRatio: 1.5}

	f, err := ExtractFeatures(d, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.PayloadSize != 5 {
		t.Errorf("PayloadSize = %v, want 5", f.PayloadSize)
	}
	if f.HourOfDay != 14 {
		t.Errorf("HourOfDay = %v, want 14", f.HourOfDay)
	}
	if f.DayOfWeek != 2 {
		t.Errorf("DayOfWeek = %v, want 2 (Tuesday)", f.DayOfWeek)
	}
	if f.RecentAvg != 120 || f.ErrorRate != 0.25 || f.FrequencyRatio != 1.5 {
		t.Errorf("snapshot features not carried through: %+v", f)
	}
	if f.EndpointBucket < 0 || f.EndpointBucket >= 1 {
		t.Errorf("EndpointBucket = %v, want [0,1)", f.EndpointBucket)
	}
}

func TestExtractFeatures_Deterministic(t *testing.T) {
	d := &RequestDescriptor{
		Method:    "GET",
		URL:       "https://api.example.com/v1/items",
		Timestamp: time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC),
	}
	snap := StateSnapshot{RecentAvg: 80}
	a, _ := ExtractFeatures(d, snap)
	b, _ := ExtractFeatures(d, snap)
	if a != b {
		t.Errorf("identical inputs produced different vectors: %+v vs %+v", a, b)
	}
}

func TestExtractFeatures_MissingPayloadDefaultsToZero(t *testing.T) {
	d := &RequestDescriptor{Method: "GET", URL: "https://api.example.com/v1/items"}
	f, err := ExtractFeatures(d, StateSnapshot{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.PayloadSize != 0 {
		t.Errorf("missing body should default to size 0, got %v", f.PayloadSize)
	}
}

func TestExtractFeatures_InvalidURL(t *testing.T) {
	d := &RequestDescriptor{Method: "GET", URL: "not-a-url"}
	if _, err := ExtractFeatures(d, StateSnapshot{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFeatureVector_RowOrder(t *testing.T) {
	f := FeatureVector{
		PayloadSize: 1, HourOfDay: 2, DayOfWeek: 3, RecentAvg: 4,
		EndpointBucket: 0.5, ErrorRate: 0.6, FrequencyRatio: 0.7,
	}
	row := f.Row()
	names := FeatureNames()
	if len(row) != len(names) {
		t.Fatalf("row length %d != feature name count %d", len(row), len(names))
	}
	want := []float64{1, 2, 3, 4, 0.5, 0.6, 0.7}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("row[%d] (%s) = %v, want %v", i, names[i], row[i], want[i])
		}
	}
}

func TestHourFactor_BusyWindow(t *testing.T) {
	cases := []struct {
		hour float64
		want float64
	}{
		{8, 0.4}, {9, 1.0}, {12, 1.0}, {18, 1.0}, {19, 0.4}, {3, 0.4},
	}
	for _, c := range cases {
		if got := hourFactor(c.hour); got != c.want {
			t.Errorf("hourFactor(%v) = %v, want %v", c.hour, got, c.want)
		}
	}
}

func TestDayFactor_Weekend(t *testing.T) {
	if dayFactor(0) != 0.7 || dayFactor(6) != 0.7 {
		t.Errorf("weekend days should score 0.7")
	}
	if dayFactor(3) != 1.0 {
		t.Errorf("weekday should score 1.0")
	}
}
