// Package predictor implements the Two-Stage Predictor (C8): it
// composes the Stage-1 threshold with the Stage-2 classifier to
// produce a single tagged Signal. Per the "dynamic signal encoding"
// design note, Signal is the one public-contract representation
// (Hold | Long | Short); numeric/boolean encodings used by the
// labelers and persisted artefacts are converted at this boundary.
package predictor

import (
	"time"

	"fxreversal/internal/apperr"
	"fxreversal/internal/registry"
)

// Signal is the predictor's public-contract reversal decision. "Hold"
// subsumes the older "none" encoding used by the label generators.
type Signal string

const (
	SignalHold  Signal = "hold"
	SignalLong  Signal = "long"
	SignalShort Signal = "short"
)

// Result is the predictor's output for one window (§4.8).
type Result struct {
	Signal      Signal    `json:"signal"`
	Confidence  float64   `json:"confidence"`
	Stage1Prob  float64   `json:"stage1_prob"`
	Stage2Prob  *float64  `json:"stage2_prob,omitempty"`
	ModelVersion string   `json:"model_version"`
	Warning     string    `json:"warning,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Predictor resolves a registry version (explicit or active) and runs
// the two-stage cascade.
type Predictor struct {
	registry *registry.Registry
}

func New(reg *registry.Registry) *Predictor {
	return &Predictor{registry: reg}
}

// resolve implements §4.8 step 1: explicit version id, else the
// active version; fails if not loaded.
func (p *Predictor) resolve(versionID string) (*registry.Version, error) {
	var v *registry.Version
	if versionID != "" {
		var ok bool
		v, ok = p.registry.Get(versionID)
		if !ok {
			return nil, apperr.NewVersionNotAvailable(versionID)
		}
	} else {
		v = p.registry.GetActive()
		if v == nil {
			return nil, apperr.NewNotReady("no active model version is loaded")
		}
	}
	if !v.IsLoaded() {
		return nil, apperr.NewVersionNotAvailable(v.VersionID)
	}
	return v, nil
}

// Predict runs the cascade on a single (T,F) window.
func (p *Predictor) Predict(window [][]float64, versionID string) (*Result, error) {
	v, err := p.resolve(versionID)
	if err != nil {
		return nil, err
	}

	if err := validateShape(window, v.Features()); err != nil {
		return nil, err
	}

	p1 := v.Stage1().Predict(window)
	return assemble(v, p1, window), nil
}

// PredictBatch runs Stage-1 once over the full batch, then Stage-2
// only on the subset crossing the threshold, stitching results back
// by original index (§4.8 "Batch form").
func (p *Predictor) PredictBatch(batch [][][]float64, versionID string) ([]*Result, error) {
	v, err := p.resolve(versionID)
	if err != nil {
		return nil, err
	}
	if len(batch) > 0 {
		if err := validateShape(batch[0], v.Features()); err != nil {
			return nil, err
		}
	}

	s1 := v.Stage1()
	p1s := s1.PredictBatch(batch)

	results := make([]*Result, len(batch))
	for i := range batch {
		results[i] = assembleWithProb(v, p1s[i], batch[i])
	}
	return results, nil
}

func validateShape(window [][]float64, features []string) error {
	if len(window) == 0 {
		return apperr.NewValidationError("empty window")
	}
	if len(window[0]) != len(features) {
		return apperr.NewFeatureMismatch(len(features), len(window[0]))
	}
	return nil
}

func assemble(v *registry.Version, p1 float64, window [][]float64) *Result {
	return assembleWithProb(v, p1, window)
}

// assembleWithProb implements §4.8 steps 4-6.
func assembleWithProb(v *registry.Version, p1 float64, window [][]float64) *Result {
	now := time.Now()

	// A sample exactly at the threshold is treated as "not yet crossed"
	// (hold), matching the documented boundary behaviour.
	if p1 <= v.Stage1Threshold {
		return &Result{
			Signal:       SignalHold,
			Confidence:   1 - p1,
			Stage1Prob:   p1,
			ModelVersion: v.VersionID,
			Timestamp:    now,
		}
	}

	s2 := v.Stage2()
	if s2 == nil {
		return &Result{
			Signal:       SignalHold,
			Confidence:   p1,
			Stage1Prob:   p1,
			ModelVersion: v.VersionID,
			Warning:      "stage2_unavailable",
			Timestamp:    now,
		}
	}

	p2 := s2.Predict(window)
	signal := SignalLong
	if p2 > 0.5 {
		signal = SignalShort
	}
	directionConfidence := p2
	if p2 < 0.5 {
		directionConfidence = 1 - p2
	}
	confidence := 0.4*p1 + 0.6*directionConfidence

	return &Result{
		Signal:       signal,
		Confidence:   confidence,
		Stage1Prob:   p1,
		Stage2Prob:   &p2,
		ModelVersion: v.VersionID,
		Timestamp:    now,
	}
}
