package experiment

import (
	"fmt"
	"testing"

	"fxreversal/internal/model/predictor"
)

func TestAssignVariantIsDeterministic(t *testing.T) {
	e, err := New("exp-1", "threshold test", []Variant{{Name: "control", Weight: 1}, {Name: "treatment", Weight: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := e.AssignVariant("user-42")
	for i := 0; i < 20; i++ {
		if got := e.AssignVariant("user-42"); got != first {
			t.Fatalf("assignment not stable: got %q want %q", got, first)
		}
	}
}

func TestAssignVariantDistributesAcrossUsers(t *testing.T) {
	e, err := New("exp-2", "distribution test", []Variant{{Name: "a", Weight: 1}, {Name: "b", Weight: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[e.AssignVariant(fmt.Sprintf("user-%d", i))] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected both variants to be reachable, got %v", seen)
	}
}

func TestRecordPredictionAccumulates(t *testing.T) {
	e, err := New("exp-3", "metrics test", []Variant{{Name: "control", Weight: 1}, {Name: "treatment", Weight: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e.RecordPrediction("control", &predictor.Result{Signal: predictor.SignalLong, Confidence: 0.8})
	e.RecordPrediction("control", &predictor.Result{Signal: predictor.SignalHold, Confidence: 0.6})

	snap := e.Snapshot()
	stats := snap["control"]
	if stats.Count != 2 {
		t.Fatalf("expected count 2, got %d", stats.Count)
	}
	if got := stats.AvgConfidence(); got < 0.69 || got > 0.71 {
		t.Fatalf("expected avg confidence ~0.70, got %v", got)
	}
}

func TestManagerEnforcesSingleActiveExperiment(t *testing.T) {
	m := NewManager(t.TempDir(), 1000)

	e1, _ := New("exp-a", "a", []Variant{{Name: "x", Weight: 1}, {Name: "y", Weight: 1}})
	e2, _ := New("exp-b", "b", []Variant{{Name: "x", Weight: 1}, {Name: "y", Weight: 1}})
	m.Create(e1)
	m.Create(e2)

	if err := m.Activate("exp-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Activate("exp-b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e1.Active {
		t.Fatalf("expected exp-a to be deactivated once exp-b activates")
	}
	if !e2.Active {
		t.Fatalf("expected exp-b to be active")
	}
	if m.Active().ExperimentID != "exp-b" {
		t.Fatalf("expected active experiment to be exp-b")
	}
}
