package riskmonitor

import (
	"testing"
	"time"

	"fxreversal/internal/bars"
	"fxreversal/internal/indicators"
)

func buildTrendingSeries(n int, start, step float64) []bars.Bar {
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
		}
		price += step
	}
	return out
}

func TestLabelEmitsHoldWhenFlat(t *testing.T) {
	series := buildTrendingSeries(20, 1.1000, 0.0000)
	rows := indicators.Compute(series)
	entry := Entry{Index: 5, Direction: DirectionLong, Price: rows[5].Bar.Close}

	checkpoints := Label(rows, entry, 10, 0.0001, "D1")
	for _, cp := range checkpoints {
		if cp.Action != ActionHold {
			t.Fatalf("expected hold on a flat series, got %v at bar %d", cp.Action, cp.CurrentIndex)
		}
		if cp.MisjudgeProbability < 0 || cp.MisjudgeProbability > 1 {
			t.Fatalf("misjudge probability out of range: %v", cp.MisjudgeProbability)
		}
		if cp.ReversalProbability < 0 || cp.ReversalProbability > 1 {
			t.Fatalf("reversal probability out of range: %v", cp.ReversalProbability)
		}
	}
}

func TestLabelStopsOnDrawdownExtension(t *testing.T) {
	series := buildTrendingSeries(20, 1.1000, -0.0020)
	rows := indicators.Compute(series)
	entry := Entry{Index: 2, Direction: DirectionLong, Price: rows[2].Bar.Close}

	checkpoints := Label(rows, entry, 10, 0.0001, "D1")
	if len(checkpoints) == 0 {
		t.Fatalf("expected at least one checkpoint")
	}
	last := checkpoints[len(checkpoints)-1]
	if last.Action != ActionStopLoss {
		t.Fatalf("expected a falling series to eventually trigger stop_loss, got %v", last.Action)
	}
}

func TestMonitorDurationByTimeframe(t *testing.T) {
	byTF := map[string]int{"D1": 10, "H4": 30, "H1": 72}
	if d := MonitorDuration("H1", byTF); d != 72 {
		t.Fatalf("expected H1 duration 72, got %d", d)
	}
	if d := MonitorDuration("unknown", byTF); d != 10 {
		t.Fatalf("expected default duration 10, got %d", d)
	}
}
