package threshold

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func labeledSet() ([]float64, []int) {
	probs := []float64{0.10, 0.20, 0.30, 0.40, 0.55, 0.60, 0.70, 0.85, 0.90, 0.95}
	labels := []int{0, 0, 0, 0, 1, 0, 1, 1, 1, 1}
	return probs, labels
}

func TestScanProducesPointPerThreshold(t *testing.T) {
	probs, labels := labeledSet()
	result, err := Scan(probs, labels, ScanConfig{Start: 0.1, End: 0.9, Step: 0.1, WorkerCount: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Points) != 9 {
		t.Fatalf("expected 9 points, got %d", len(result.Points))
	}
	for i := 1; i < len(result.Points); i++ {
		if result.Points[i].Threshold <= result.Points[i-1].Threshold {
			t.Fatalf("points not sorted ascending by threshold")
		}
	}
}

func TestScanRejectsMismatchedLengths(t *testing.T) {
	if _, err := Scan([]float64{0.1, 0.2}, []int{1}, DefaultScanConfig()); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestScanRejectsEmptyInput(t *testing.T) {
	if _, err := Scan(nil, nil, DefaultScanConfig()); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestEvaluateThresholdConfusionCounts(t *testing.T) {
	probs, labels := labeledSet()
	m := evaluateThreshold(probs, labels, 0.5)
	// predicted positive: 0.55,0.60,0.70,0.85,0.90,0.95 -> 6
	// actual positive: 0.55,0.70,0.85,0.90,0.95 -> 5
	if m.TruePos != 5 {
		t.Fatalf("expected tp=5, got %d", m.TruePos)
	}
	if m.FalsePos != 1 {
		t.Fatalf("expected fp=1 (0.60), got %d", m.FalsePos)
	}
	if m.FalseNeg != 0 {
		t.Fatalf("expected fn=0, got %d", m.FalseNeg)
	}
	if m.TrueNeg != 4 {
		t.Fatalf("expected tn=4, got %d", m.TrueNeg)
	}
}

func TestSelectBestF1(t *testing.T) {
	probs, labels := labeledSet()
	result, err := Scan(probs, labels, ScanConfig{Start: 0.1, End: 0.9, Step: 0.05, WorkerCount: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chosen, err := Select(result, PolicyBestF1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range result.Points {
		if p.F1 > chosen.F1 {
			t.Fatalf("found point with higher F1 than the chosen one: %+v > %+v", p, chosen)
		}
	}
}

func TestSelectRecallFloorFallsBackToMaxRecall(t *testing.T) {
	// Only one of three positives scores above 0.5, so no threshold in
	// [0.5, 0.95] clears 0.70 recall; selection falls back to the
	// max-recall point (1/3) rather than erroring.
	probs := []float64{0.9, 0.3, 0.2}
	labels := []int{1, 1, 1}
	result, err := Scan(probs, labels, ScanConfig{Start: 0.5, End: 0.95, Step: 0.05, WorkerCount: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chosen, err := Select(result, PolicyRecallAtLeast70)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen.Recall != 1.0/3 {
		t.Fatalf("expected fallback to the max-recall point (1/3), got %v", chosen.Recall)
	}
}

func TestSelectUnknownPolicy(t *testing.T) {
	probs, labels := labeledSet()
	result, _ := Scan(probs, labels, DefaultScanConfig())
	if _, err := Select(result, Policy("bogus")); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestWriteArtefactPersistsChosenThreshold(t *testing.T) {
	probs, labels := labeledSet()
	result, err := Scan(probs, labels, DefaultScanConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dir := t.TempDir()
	a, err := WriteArtefact(dir, "v-1", result, PolicyBestF1, time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(dir, "v-1_threshold.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected artefact file to exist: %v", err)
	}

	var loaded Artefact
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("artefact is not valid JSON: %v", err)
	}
	if loaded.VersionID != "v-1" || loaded.Policy != PolicyBestF1 {
		t.Fatalf("unexpected artefact contents: %+v", loaded)
	}
	if loaded.Chosen.Threshold != a.Chosen.Threshold {
		t.Fatalf("persisted threshold does not match returned artefact")
	}
}

func TestFBetaWeightsRecallMoreAtBeta2(t *testing.T) {
	f1 := fBeta(0.3, 0.9, 1)
	f2 := fBeta(0.3, 0.9, 2)
	if f2 <= f1 {
		t.Fatalf("expected F2 to weight recall more heavily than F1 when recall >> precision: f1=%v f2=%v", f1, f2)
	}
}
