package indicators

import (
	"testing"
	"time"

	"fxreversal/internal/bars"
)

func buildSeries(n int, start float64, step float64) []bars.Bar {
	out := make([]bars.Bar, n)
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		out[i] = bars.Bar{
			Timestamp: t.AddDate(0, 0, i),
			Open:      price,
			High:      price + 0.0005,
			Low:       price - 0.0005,
			Close:     price,
			Volume:    100,
		}
		price += step
	}
	return out
}

func TestComputeRespectsOHLCInvariant(t *testing.T) {
	series := buildSeries(250, 1.1000, 0.0002)
	rows := Compute(series)
	for i, r := range rows {
		if err := r.Bar.Validate(); err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
	}
}

func TestComputeMarksLeadingRowsUndefined(t *testing.T) {
	series := buildSeries(250, 1.1000, 0.0002)
	rows := Compute(series)
	if !rows[0].Undefined {
		t.Fatalf("expected first row to be undefined")
	}
	if rows[249].Undefined {
		t.Fatalf("expected last row (mature) to not be undefined")
	}
}

func TestFeatureValueLookup(t *testing.T) {
	series := buildSeries(250, 1.1000, 0.0002)
	rows := Compute(series)
	last := rows[len(rows)-1]
	if v, ok := last.FeatureValue("close"); !ok || v != last.Bar.Close {
		t.Fatalf("close lookup mismatch: %v %v", v, ok)
	}
	if _, ok := last.FeatureValue("not_a_feature"); ok {
		t.Fatalf("expected unknown feature to report ok=false")
	}
}
