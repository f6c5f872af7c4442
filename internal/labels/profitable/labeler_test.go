package profitable

import (
	"testing"
	"time"

	"fxreversal/internal/bars"
	"fxreversal/internal/indicators"
)

// buildBullLeg reproduces scenario 1 from §8: 20 daily bars with
// uniform +20 pip steps, high=close+0.0005, low=close-0.0005.
func buildBullLeg() []bars.Bar {
	out := make([]bars.Bar, 20)
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	close := 1.1000
	for i := 0; i < 20; i++ {
		out[i] = bars.Bar{
			Timestamp: t.AddDate(0, 0, i),
			Open:      close,
			High:      close + 0.0005,
			Low:       close - 0.0005,
			Close:     close,
			Volume:    0,
		}
		close += 0.0020
	}
	return out
}

func TestProfitableLabelerOnCleanBullLeg(t *testing.T) {
	series := buildBullLeg()
	rows := indicators.Compute(series)
	params := Params{LookforwardBars: 10, MinProfitPips: 30, MinRR: 1.5, MaxLossPips: 50}

	labels := Label(rows, "EUR/USD", "D1", params)

	for i := 0; i < len(labels)-10; i++ {
		l := labels[i]
		if l.Signal != SignalLong {
			t.Fatalf("bar %d: expected long signal, got %v", i, l.Signal)
		}
		if l.ExpectedProfitPips < 30 {
			t.Fatalf("bar %d: expected profit >= 30, got %v", i, l.ExpectedProfitPips)
		}
		if l.ExpectedLossPips > 50 {
			t.Fatalf("bar %d: expected loss <= 50, got %v", i, l.ExpectedLossPips)
		}
		if l.RiskReward < 1.5 {
			t.Fatalf("bar %d: expected rr >= 1.5, got %v", i, l.RiskReward)
		}
	}

	for i := len(labels) - 10; i < len(labels); i++ {
		if labels[i].Signal != SignalNone {
			t.Fatalf("bar %d: expected signal=none in incomplete forward window, got %v", i, labels[i].Signal)
		}
	}
}

func TestProfitableLabelConfidenceBounded(t *testing.T) {
	series := buildBullLeg()
	rows := indicators.Compute(series)
	params := Params{LookforwardBars: 10, MinProfitPips: 30, MinRR: 1.5, MaxLossPips: 50}
	labels := Label(rows, "EUR/USD", "D1", params)
	for i, l := range labels {
		if l.Confidence < 0 || l.Confidence > 1 {
			t.Fatalf("bar %d: confidence out of [0,1]: %v", i, l.Confidence)
		}
	}
}
