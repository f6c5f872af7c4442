// Package threshold implements the Threshold Optimiser (C11): it
// scans candidate Stage-1 decision thresholds against a held-out
// labeled set, scores each by precision/recall/F1/Fbeta/accuracy, and
// selects one under a named policy. The scan is parallelised across a
// worker pool, grounded on the teacher's internal/scanner.Scanner
// concurrent-evaluation shape (symbol channel -> worker pool -> result
// channel), here a threshold channel standing in for the symbol
// channel.
package threshold

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"fxreversal/internal/apperr"
)

// Policy names a threshold-selection rule (§7's named policies).
type Policy string

const (
	PolicyBestF1          Policy = "best_f1"
	PolicyBestF2          Policy = "best_f2"
	PolicyRecallAtLeast50 Policy = "recall_at_least_50"
	PolicyRecallAtLeast70 Policy = "recall_at_least_70"
)

// ScanConfig controls the threshold sweep.
type ScanConfig struct {
	Start       float64
	End         float64
	Step        float64
	WorkerCount int
}

func DefaultScanConfig() ScanConfig {
	return ScanConfig{Start: 0.05, End: 0.95, Step: 0.05, WorkerCount: 4}
}

// PointMetrics is the confusion-matrix-derived score for one candidate
// threshold.
type PointMetrics struct {
	Threshold float64 `json:"threshold"`
	TruePos   int     `json:"true_pos"`
	FalsePos  int     `json:"false_pos"`
	TrueNeg   int     `json:"true_neg"`
	FalseNeg  int     `json:"false_neg"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	F2        float64 `json:"f2"`
	Accuracy  float64 `json:"accuracy"`
}

// ScanResult is the full sweep output plus the PR curve summary.
type ScanResult struct {
	Points           []PointMetrics `json:"points"`
	AveragePrecision float64        `json:"average_precision"`
}

// Scan sweeps thresholds in [cfg.Start, cfg.End] in increments of
// cfg.Step, scoring each against (probabilities, labels), using a
// bounded worker pool for concurrency.
func Scan(probabilities []float64, labels []int, cfg ScanConfig) (*ScanResult, error) {
	if len(probabilities) != len(labels) {
		return nil, apperr.NewValidationError("probabilities and labels must be the same length")
	}
	if len(probabilities) == 0 {
		return nil, apperr.NewInsufficientData(0, 1)
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	var thresholds []float64
	for t := cfg.Start; t <= cfg.End+1e-9; t += cfg.Step {
		thresholds = append(thresholds, math.Round(t*1000)/1000)
	}

	thresholdChan := make(chan float64, len(thresholds))
	resultChan := make(chan PointMetrics, len(thresholds))
	var wg sync.WaitGroup

	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range thresholdChan {
				resultChan <- evaluateThreshold(probabilities, labels, t)
			}
		}()
	}

	for _, t := range thresholds {
		thresholdChan <- t
	}
	close(thresholdChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	points := make([]PointMetrics, 0, len(thresholds))
	for p := range resultChan {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Threshold < points[j].Threshold })

	return &ScanResult{Points: points, AveragePrecision: averagePrecision(points)}, nil
}

func evaluateThreshold(probabilities []float64, labels []int, threshold float64) PointMetrics {
	var tp, fp, tn, fn int
	for i, p := range probabilities {
		predicted := p >= threshold
		actual := labels[i] == 1
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		default:
			tn++
		}
	}

	precision := safeDiv(float64(tp), float64(tp+fp))
	recall := safeDiv(float64(tp), float64(tp+fn))
	accuracy := safeDiv(float64(tp+tn), float64(tp+fp+tn+fn))

	return PointMetrics{
		Threshold: threshold,
		TruePos:   tp, FalsePos: fp, TrueNeg: tn, FalseNeg: fn,
		Precision: precision,
		Recall:    recall,
		F1:        fBeta(precision, recall, 1),
		F2:        fBeta(precision, recall, 2),
		Accuracy:  accuracy,
	}
}

func fBeta(precision, recall, beta float64) float64 {
	if precision == 0 && recall == 0 {
		return 0
	}
	b2 := beta * beta
	return (1 + b2) * precision * recall / (b2*precision + recall)
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// averagePrecision approximates the area under the precision-recall
// curve via the trapezoidal rule over recall-sorted points.
func averagePrecision(points []PointMetrics) float64 {
	if len(points) == 0 {
		return 0
	}
	sorted := append([]PointMetrics(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Recall < sorted[j].Recall })

	area := 0.0
	for i := 1; i < len(sorted); i++ {
		dr := sorted[i].Recall - sorted[i-1].Recall
		avgP := (sorted[i].Precision + sorted[i-1].Precision) / 2
		area += dr * avgP
	}
	return area
}

// Select applies a named policy to a scan result, returning the chosen
// threshold's metrics. recall_at_least_N policies fall back to the
// highest-recall point if no candidate clears the floor.
func Select(result *ScanResult, policy Policy) (PointMetrics, error) {
	if len(result.Points) == 0 {
		return PointMetrics{}, apperr.NewInsufficientData(0, 1)
	}

	switch policy {
	case PolicyBestF1:
		return bestBy(result.Points, func(p PointMetrics) float64 { return p.F1 }), nil
	case PolicyBestF2:
		return bestBy(result.Points, func(p PointMetrics) float64 { return p.F2 }), nil
	case PolicyRecallAtLeast50:
		return bestWithFloor(result.Points, 0.50), nil
	case PolicyRecallAtLeast70:
		return bestWithFloor(result.Points, 0.70), nil
	default:
		return PointMetrics{}, apperr.NewValidationError("unknown threshold policy")
	}
}

func bestBy(points []PointMetrics, score func(PointMetrics) float64) PointMetrics {
	best := points[0]
	bestScore := score(best)
	for _, p := range points[1:] {
		if s := score(p); s > bestScore {
			best, bestScore = p, s
		}
	}
	return best
}

// bestWithFloor returns the highest-F1 point whose recall clears the
// floor; if none clears it, falls back to the maximum-recall point
// overall.
func bestWithFloor(points []PointMetrics, floor float64) PointMetrics {
	var candidates []PointMetrics
	for _, p := range points {
		if p.Recall >= floor {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) > 0 {
		return bestBy(candidates, func(p PointMetrics) float64 { return p.F1 })
	}
	return bestBy(points, func(p PointMetrics) float64 { return p.Recall })
}

// Artefact is the persisted form of a threshold-selection decision,
// written as <version>_threshold.json alongside a model version's
// other artefacts.
type Artefact struct {
	VersionID        string       `json:"version_id"`
	Policy           Policy       `json:"policy"`
	Chosen           PointMetrics `json:"chosen"`
	AveragePrecision float64      `json:"average_precision"`
	GeneratedAt      time.Time    `json:"generated_at"`
}

// WriteArtefact runs Select under policy and persists the decision to
// <artefactsDir>/<versionID>_threshold.json.
func WriteArtefact(artefactsDir, versionID string, result *ScanResult, policy Policy, generatedAt time.Time) (*Artefact, error) {
	chosen, err := Select(result, policy)
	if err != nil {
		return nil, err
	}
	a := &Artefact{
		VersionID:        versionID,
		Policy:           policy,
		Chosen:           chosen,
		AveragePrecision: result.AveragePrecision,
		GeneratedAt:      generatedAt,
	}

	if err := os.MkdirAll(artefactsDir, 0o755); err != nil {
		return nil, apperr.NewArtefactIOError(artefactsDir, err)
	}
	path := filepath.Join(artefactsDir, versionID+"_threshold.json")
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, apperr.NewArtefactIOError(path, err)
	}
	return a, nil
}
