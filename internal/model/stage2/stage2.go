// Package stage2 implements the Stage-2 direction classifier (C7):
// binary classification on reversal-only windows — LONG vs SHORT.
// Architecture mirrors stage1's but smaller (recurrent units 48/24)
// and is trained only on the positive-class subset emitted by the
// swing or profitable labelers, under plain binary cross-entropy
// (near-balanced classes by construction).
package stage2

import (
	"encoding/json"
	"math"
	"os"

	"fxreversal/internal/apperr"
)

type Architecture struct {
	RecurrentUnits []int   `json:"recurrent_units"` // [48, 24]
	DenseUnits     []int   `json:"dense_units"`
	Dropout        float64 `json:"dropout"`
	WindowLength   int     `json:"window_length"`
	FeatureCount   int     `json:"feature_count"`
}

func DefaultArchitecture() Architecture {
	return Architecture{
		RecurrentUnits: []int{48, 24},
		DenseUnits:     []int{32, 16},
		Dropout:        0.2,
		WindowLength:   20,
		FeatureCount:   12,
	}
}

type TrainConfig struct {
	LearningRate float64
	Epochs       int
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{LearningRate: 0.05, Epochs: 300}
}

type Weights struct {
	Arch Architecture `json:"architecture"`
	W    []float64    `json:"w"`
	B    float64      `json:"b"`
}

type Model struct {
	Weights Weights
}

// Predict returns P(short). Per §4.8, direction is "short" if p>0.5
// else "long".
func (m *Model) Predict(window [][]float64) float64 {
	return sigmoid(dot(flatten(window), m.Weights.W) + m.Weights.B)
}

type Metrics struct {
	FinalLoss float64 `json:"final_loss"`
}

// Train fits Stage-2 weights. y must be restricted to reversal-only
// windows (signal ∈ {long, short}) with 1=short, 0=long.
func Train(X [][][]float64, y []int, arch Architecture, cfg TrainConfig) (*Model, *Metrics, error) {
	n := len(X)
	if n == 0 {
		return nil, nil, apperr.NewValidationError("cannot train stage2 on an empty dataset")
	}
	dim := arch.WindowLength * arch.FeatureCount
	w := make([]float64, dim)
	b := 0.0

	flat := make([][]float64, n)
	for i, window := range X {
		flat[i] = flatten(window)
	}

	var finalLoss float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		gradW := make([]float64, dim)
		gradB := 0.0
		loss := 0.0

		for i := range flat {
			p := sigmoid(dot(flat[i], w) + b)
			target := float64(y[i])
			grad := p - target
			loss += bceLoss(p, target)

			for j, xv := range flat[i] {
				gradW[j] += grad * xv
			}
			gradB += grad
		}

		for j := range w {
			w[j] -= cfg.LearningRate * gradW[j] / float64(n)
		}
		b -= cfg.LearningRate * gradB / float64(n)
		finalLoss = loss / float64(n)
	}

	return &Model{Weights: Weights{Arch: arch, W: w, B: b}}, &Metrics{FinalLoss: finalLoss}, nil
}

func bceLoss(p, target float64) float64 {
	const eps = 1e-9
	if p < eps {
		p = eps
	}
	if p > 1-eps {
		p = 1 - eps
	}
	return -(target*math.Log(p) + (1-target)*math.Log(1-p))
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func flatten(window [][]float64) []float64 {
	var out []float64
	for _, row := range window {
		out = append(out, row...)
	}
	return out
}

func (m *Model) Save(path string) error {
	data, err := json.MarshalIndent(m.Weights, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.NewArtefactIOError(path, err)
	}
	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, apperr.NewArtefactIOError(path, err)
	}
	return &Model{Weights: w}, nil
}
