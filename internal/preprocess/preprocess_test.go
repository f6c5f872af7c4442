package preprocess

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fxreversal/internal/apperr"
	"fxreversal/internal/bars"
	"fxreversal/internal/indicators"
)

func buildSeries(n int) []bars.Bar {
	out := make([]bars.Bar, n)
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 1.1000
	for i := 0; i < n; i++ {
		out[i] = bars.Bar{
			Timestamp: t.AddDate(0, 0, i),
			Open:      price,
			High:      price + 0.0005,
			Low:       price - 0.0005,
			Close:     price,
			Volume:    100,
		}
		price += 0.0001 * float64(i%5-2)
	}
	return out
}

func testSelected() []string {
	return []string{"close", "sma_20", "ema_12", "rsi_14"}
}

func TestPreparePredictionExactWindowYieldsOneSequence(t *testing.T) {
	selected := testSelected()
	full := buildSeries(250)
	rows := indicators.Compute(full)
	scaler := FitOnTraining(rows, selected, KindStandard, 0, 1)

	window := 20
	mature := dropUndefinedAndIncomplete(rows, selected)
	// PreparePrediction recomputes indicators from raw bars, so feed
	// the history ahead of the first mature row plus exactly window
	// mature rows.
	raw := full[:len(full)-len(mature)+window]

	X, err := PreparePrediction(raw, scaler, selected, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(X) != 1 || len(X[0]) != window || len(X[0][0]) != len(selected) {
		t.Fatalf("unexpected shape: %d sequences, %d timesteps, %d features", len(X), len(X[0]), len(X[0][0]))
	}
}

func TestPreparePredictionInsufficientData(t *testing.T) {
	selected := testSelected()
	full := buildSeries(250)
	rows := indicators.Compute(full)
	scaler := FitOnTraining(rows, selected, KindStandard, 0, 1)

	// Too few raw bars for indicators to mature at all.
	raw := full[:5]
	_, err := PreparePrediction(raw, scaler, selected, 20)
	if err == nil {
		t.Fatalf("expected InsufficientData error")
	}
	coreErr, ok := err.(apperr.CoreError)
	if !ok || coreErr.Code() != "InsufficientData" {
		t.Fatalf("expected InsufficientData, got %v", err)
	}
}

func TestFeatureMismatchRejected(t *testing.T) {
	selected := testSelected()
	full := buildSeries(250)
	rows := indicators.Compute(full)
	scaler := FitOnTraining(rows, selected, KindStandard, 0, 1)

	wrongSelected := append(selected, "macd")
	_, err := PreparePrediction(full, scaler, wrongSelected, 20)
	if err == nil {
		t.Fatalf("expected FeatureMismatch error")
	}
	coreErr, ok := err.(apperr.CoreError)
	if !ok || coreErr.Code() != "FeatureMismatch" {
		t.Fatalf("expected FeatureMismatch, got %v", err)
	}
}

func TestScalerSaveLoadRoundTrip(t *testing.T) {
	selected := testSelected()
	full := buildSeries(250)
	rows := indicators.Compute(full)
	scaler := FitOnTraining(rows, selected, KindStandard, 0, 1)

	dir := t.TempDir()
	path := filepath.Join(dir, "scaler.json")
	if err := scaler.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reloaded, err := LoadScaler(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	sample := []float64{1.105, 1.104, 1.103, 55.0}
	want := scaler.Transform(sample)
	got := reloaded.Transform(sample)
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("round trip transform mismatch at %d: want %v got %v", i, want[i], got[i])
		}
	}

	_ = os.Remove(path)
}
