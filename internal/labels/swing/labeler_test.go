package swing

import (
	"testing"
	"time"

	"fxreversal/internal/bars"
	"fxreversal/internal/indicators"
)

// buildV reproduces scenario 2 from §8: a swing low at a known index
// with a forward high clearing the min-reversal-pips threshold.
func buildV() []bars.Bar {
	lows := []float64{
		1.2100, 1.2050, 1.2000, 1.1900, 1.1800,
		1.1700, // swing low, index 5
		1.1750, 1.1850, 1.1950, 1.2050, 1.2100,
	}
	out := make([]bars.Bar, len(lows))
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, low := range lows {
		out[i] = bars.Bar{
			Timestamp: t.AddDate(0, 0, i),
			Open:      low,
			Close:     low,
			Low:       low,
			High:      low + 0.0005,
			Volume:    0,
		}
	}
	return out
}

func TestSwingLabelerOnClearV(t *testing.T) {
	series := buildV()
	rows := indicators.Compute(series)
	params := Params{LookbackBars: 2, MinReversalPips: 100, LookforwardBars: 3}

	labels := Label(rows, "EUR/USD", "D1", params)

	swingIdx := 5
	if labels[swingIdx].Signal != SignalLong {
		t.Fatalf("expected swing low at index %d to be long, got %v", swingIdx, labels[swingIdx].Signal)
	}
	if labels[swingIdx].MovePips < 100 {
		t.Fatalf("expected move_pips >= 100, got %v", labels[swingIdx].MovePips)
	}
	if labels[swingIdx].Confidence <= 0.5 {
		t.Fatalf("expected confidence > 0.5, got %v", labels[swingIdx].Confidence)
	}

	for i, l := range labels {
		if i == swingIdx {
			continue
		}
		if l.Signal != SignalNone {
			t.Fatalf("index %d: expected signal=none outside the swing pattern, got %v", i, l.Signal)
		}
	}
}

func TestSwingLabelIsDeterministic(t *testing.T) {
	series := buildV()
	rows := indicators.Compute(series)
	params := Params{LookbackBars: 2, MinReversalPips: 100, LookforwardBars: 3}

	first := Label(rows, "EUR/USD", "D1", params)
	second := Label(rows, "EUR/USD", "D1", params)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("index %d: labeling the same bars twice produced different labels", i)
		}
	}
}
