// Package experiment implements the A/B Assigner (C10): deterministic
// variant assignment keyed by (user_id, experiment_id), per-variant
// prediction metrics, and an activate/stop lifecycle enforcing at most
// one active experiment. Grounded on the teacher's
// internal/database.Repository typed-query pattern for persistence and
// internal/circuit's "one active thing, atomic switch" shape.
package experiment

import (
	"hash/fnv"
	"sync"
	"time"

	"fxreversal/internal/apperr"
	"fxreversal/internal/model/predictor"
)

// Variant is one named arm of an experiment (e.g. a model version id
// or a threshold override label).
type Variant struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"` // relative assignment weight, >=1
}

// VariantStats accumulates the metrics named in the experiment
// tracking contract: per-variant prediction counts, signal mix, and
// running average confidence.
type VariantStats struct {
	Count           int64              `json:"count"`
	Signals         map[string]int64   `json:"signals"`
	TotalConfidence float64            `json:"total_confidence"`
}

func newVariantStats() *VariantStats {
	return &VariantStats{Signals: map[string]int64{
		string(predictor.SignalHold):  0,
		string(predictor.SignalLong):  0,
		string(predictor.SignalShort): 0,
	}}
}

// AvgConfidence returns the running mean confidence for this variant.
func (s *VariantStats) AvgConfidence() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.TotalConfidence / float64(s.Count)
}

// Experiment is one A/B test definition plus its accumulated metrics.
type Experiment struct {
	ExperimentID string     `json:"experiment_id"`
	Name         string     `json:"name"`
	Variants     []Variant  `json:"variants"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	StoppedAt    *time.Time `json:"stopped_at,omitempty"`

	mu             sync.Mutex
	stats          map[string]*VariantStats
	totalWeight    int
	predictionSeen int // counts predictions since last snapshot, for the snapshot-every-N policy
}

// New constructs an experiment with zeroed per-variant stats.
func New(experimentID, name string, variants []Variant) (*Experiment, error) {
	if len(variants) < 2 {
		return nil, apperr.NewValidationError("an experiment requires at least two variants")
	}
	stats := make(map[string]*VariantStats, len(variants))
	totalWeight := 0
	for _, v := range variants {
		if v.Weight < 1 {
			return nil, apperr.NewValidationError("variant weight must be >= 1")
		}
		stats[v.Name] = newVariantStats()
		totalWeight += v.Weight
	}
	return &Experiment{
		ExperimentID: experimentID,
		Name:         name,
		Variants:     variants,
		CreatedAt:    time.Now(),
		stats:        stats,
		totalWeight:  totalWeight,
	}, nil
}

// AssignVariant deterministically assigns (userID, e.ExperimentID) to
// one of the experiment's variants via an FNV-1a hash of the pair,
// weighted by each variant's relative Weight. The same user always
// maps to the same variant for the lifetime of the experiment
// definition.
func (e *Experiment) AssignVariant(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(e.ExperimentID))
	bucket := int(h.Sum32() % uint32(e.totalWeight))

	running := 0
	for _, v := range e.Variants {
		running += v.Weight
		if bucket < running {
			return v.Name
		}
	}
	return e.Variants[len(e.Variants)-1].Name
}

// RecordPrediction folds one served prediction into a variant's
// running stats. Returns the total predictions seen since the last
// snapshot boundary was crossed, for the caller to decide whether to
// persist.
func (e *Experiment) RecordPrediction(variant string, result *predictor.Result) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.stats[variant]
	if !ok {
		s = newVariantStats()
		e.stats[variant] = s
	}
	s.Count++
	s.Signals[string(result.Signal)]++
	s.TotalConfidence += result.Confidence
	e.predictionSeen++
	return e.predictionSeen
}

// ResetSnapshotCounter zeroes the since-last-snapshot counter after a
// snapshot has been persisted.
func (e *Experiment) ResetSnapshotCounter() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predictionSeen = 0
}

// Snapshot returns a point-in-time, deep copy of per-variant metrics
// suitable for JSON persistence.
func (e *Experiment) Snapshot() map[string]VariantStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]VariantStats, len(e.stats))
	for name, s := range e.stats {
		signals := make(map[string]int64, len(s.Signals))
		for k, v := range s.Signals {
			signals[k] = v
		}
		out[name] = VariantStats{Count: s.Count, Signals: signals, TotalConfidence: s.TotalConfidence}
	}
	return out
}
