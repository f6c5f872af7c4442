package predictor

import (
	"math"
	"testing"

	"fxreversal/internal/model/stage1"
	"fxreversal/internal/model/stage2"
	"fxreversal/internal/preprocess"
	"fxreversal/internal/registry"
)

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

func constantStage1(p float64, dim int) *stage1.Model {
	return &stage1.Model{Weights: stage1.Weights{
		Arch: stage1.Architecture{WindowLength: 20, FeatureCount: dim / 20},
		W:    make([]float64, dim),
		B:    logit(p),
	}}
}

func constantStage2(p float64, dim int) *stage2.Model {
	return &stage2.Model{Weights: stage2.Weights{
		Arch: stage2.Architecture{WindowLength: 20, FeatureCount: dim / 20},
		W:    make([]float64, dim),
		B:    logit(p),
	}}
}

func fakeWindow(t, f int) [][]float64 {
	w := make([][]float64, t)
	for i := range w {
		w[i] = make([]float64, f)
	}
	return w
}

func buildRegistry(t *testing.T, threshold float64, p1, p2 float64, withStage2 bool) *registry.Registry {
	t.Helper()
	const window, features = 20, 12
	dim := window * features

	scaler := &preprocess.Scaler{Kind: preprocess.KindStandard, FeatureNames: make([]string, features)}
	var s2 *stage2.Model
	if withStage2 {
		s2 = constantStage2(p2, dim)
	}

	reg := registry.New()
	v := registry.NewLoaded("v-test", "test", constantStage1(p1, dim), s2, scaler, scaler.FeatureNames, threshold)
	reg.Register(v)
	_ = reg.Switch("v-test")
	return reg
}

func TestPredictorNoReversal(t *testing.T) {
	reg := buildRegistry(t, 0.5, 0.30, 0, true)
	p := New(reg)

	result, err := p.Predict(fakeWindow(20, 12), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Signal != SignalHold {
		t.Fatalf("expected hold, got %v", result.Signal)
	}
	if math.Abs(result.Confidence-0.70) > 1e-6 {
		t.Fatalf("expected confidence 0.70, got %v", result.Confidence)
	}
	if result.Stage2Prob != nil {
		t.Fatalf("expected stage2 not to be invoked")
	}
}

func TestPredictorShortReversal(t *testing.T) {
	reg := buildRegistry(t, 0.5, 0.80, 0.70, true)
	p := New(reg)

	result, err := p.Predict(fakeWindow(20, 12), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Signal != SignalShort {
		t.Fatalf("expected short, got %v", result.Signal)
	}
	wantConfidence := 0.4*0.80 + 0.6*0.70
	if math.Abs(result.Confidence-wantConfidence) > 1e-6 {
		t.Fatalf("expected confidence %v, got %v", wantConfidence, result.Confidence)
	}
	if result.Stage2Prob == nil || math.Abs(*result.Stage2Prob-0.70) > 1e-6 {
		t.Fatalf("expected stage2_prob 0.70, got %v", result.Stage2Prob)
	}
}

func TestPredictorThresholdBoundaryIsHold(t *testing.T) {
	reg := buildRegistry(t, 0.5, 0.5, 0, true)
	p := New(reg)

	result, err := p.Predict(fakeWindow(20, 12), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Signal != SignalHold {
		t.Fatalf("expected hold at the threshold boundary (strict <), got %v", result.Signal)
	}
}

func TestPredictorStage2Unavailable(t *testing.T) {
	reg := buildRegistry(t, 0.5, 0.80, 0, false)
	p := New(reg)

	result, err := p.Predict(fakeWindow(20, 12), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Signal != SignalHold || result.Warning != "stage2_unavailable" {
		t.Fatalf("expected hold with stage2_unavailable warning, got %+v", result)
	}
}

func TestPredictorFeatureMismatch(t *testing.T) {
	reg := buildRegistry(t, 0.5, 0.80, 0.70, true)
	p := New(reg)

	_, err := p.Predict(fakeWindow(20, 38), "")
	if err == nil {
		t.Fatalf("expected FeatureMismatch error")
	}
}

func TestPredictorVersionNotAvailable(t *testing.T) {
	reg := buildRegistry(t, 0.5, 0.80, 0.70, true)
	p := New(reg)

	_, err := p.Predict(fakeWindow(20, 12), "v-does-not-exist")
	if err == nil {
		t.Fatalf("expected VersionNotAvailable error")
	}
}
