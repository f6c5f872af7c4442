// Package stage1 implements the Stage-1 reversal detector (C6): binary
// classification over a window — "does this window contain a
// reversal". The production architecture (two stacked recurrent
// layers, dropout, L2, two dense layers, sigmoid head) is described by
// Architecture; this package trains a logistic surrogate over the
// flattened window as its in-process stand-in for the recurrent
// weights, since no GPU training loop runs inside this Go service —
// the persisted weights are an opaque artefact regardless of which
// framework produced them. Both class-imbalance training protocols of
// §4.6 are exposed as named TrainConfig variants, mirroring the
// teacher's position-sizing-method switch
// (risk.Config.PositionSizeMethod) as the "one config, multiple named
// regimes" precedent.
package stage1

import (
	"encoding/json"
	"math"
	"os"

	"fxreversal/internal/apperr"
)

// Architecture documents the production recurrent topology this
// package's weights are logically trained under.
type Architecture struct {
	RecurrentUnits []int   `json:"recurrent_units"` // [64, 32]
	DenseUnits     []int   `json:"dense_units"`      // [32, 16]
	Dropout        float64 `json:"dropout"`
	L2             float64 `json:"l2"`
	WindowLength   int     `json:"window_length"`
	FeatureCount   int     `json:"feature_count"`
}

func DefaultArchitecture() Architecture {
	return Architecture{
		RecurrentUnits: []int{64, 32},
		DenseUnits:     []int{32, 16},
		Dropout:        0.2,
		L2:             0.001,
		WindowLength:   20,
		FeatureCount:   12,
	}
}

// Protocol selects the training regime for class imbalance (§4.6).
type Protocol string

const (
	ProtocolFocal        Protocol = "focal"
	ProtocolBalancedBCE  Protocol = "balanced_bce"
)

// TrainConfig configures one training run. The recommended default is
// ProtocolBalancedBCE whenever the positive-class fraction is below
// ~10%; ProtocolFocal has historically collapsed under extreme
// imbalance on Swing labels.
type TrainConfig struct {
	Protocol     Protocol
	FocalGamma   float64
	FocalAlpha   float64
	LearningRate float64
	Epochs       int
}

func DefaultTrainConfig(protocol Protocol) TrainConfig {
	return TrainConfig{
		Protocol:     protocol,
		FocalGamma:   2.0,
		FocalAlpha:   0.25,
		LearningRate: 0.05,
		Epochs:       300,
	}
}

// Weights is the opaque serving artefact: a logistic surrogate over
// the flattened (T*F) window.
type Weights struct {
	Arch Architecture `json:"architecture"`
	W    []float64    `json:"w"`
	B    float64      `json:"b"`
}

// Model wraps fitted weights for inference.
type Model struct {
	Weights Weights
}

// Predict returns the Stage-1 reversal probability for one window.
func (m *Model) Predict(window [][]float64) float64 {
	return sigmoid(dot(flatten(window), m.Weights.W) + m.Weights.B)
}

// PredictBatch runs Stage-1 once over a batch, per §5's ordering
// guarantee (Stage-1 completes strictly before Stage-2 begins).
func (m *Model) PredictBatch(batch [][][]float64) []float64 {
	out := make([]float64, len(batch))
	for i, window := range batch {
		out[i] = m.Predict(window)
	}
	return out
}

// Metrics is what the post-training integrity check inspects plus
// what gets persisted to the `<version>_metadata` artefact.
type Metrics struct {
	Predictions      []float64 `json:"-"`
	PredictionStdDev float64   `json:"prediction_std_dev"`
	FirstLayerL2Norm float64   `json:"first_layer_l2_norm"`
	FinalLoss        float64   `json:"final_loss"`
}

const (
	minPredictionStdDev = 0.01
	minFirstLayerL2Norm = 0.1
)

// Train fits Stage-1 weights on windowed sequences under the selected
// protocol, then runs the post-training integrity validation. A
// TrainingIntegrityError aborts with no artefact written.
func Train(X [][][]float64, y []int, arch Architecture, cfg TrainConfig) (*Model, *Metrics, error) {
	n := len(X)
	if n == 0 {
		return nil, nil, apperr.NewValidationError("cannot train stage1 on an empty dataset")
	}
	dim := arch.WindowLength * arch.FeatureCount

	w := make([]float64, dim)
	b := 0.0

	sampleWeights := computeSampleWeights(y, cfg)

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
			sw := sampleWeights[i]

			var grad float64
			switch cfg.Protocol {
			case ProtocolFocal:
				grad = focalGradient(p, target, cfg.FocalGamma, cfg.FocalAlpha)
				loss += focalLoss(p, target, cfg.FocalGamma, cfg.FocalAlpha)
			default:
				grad = (p - target) * sw
				loss += bceLoss(p, target) * sw
			}

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

	predictions := make([]float64, n)
	for i := range flat {
		predictions[i] = sigmoid(dot(flat[i], w) + b)
	}

	metrics := &Metrics{
		Predictions:      predictions,
		PredictionStdDev: stdDev(predictions),
		FirstLayerL2Norm: l2Norm(w),
		FinalLoss:        finalLoss,
	}

	if err := validateIntegrity(metrics); err != nil {
		return nil, nil, err
	}

	return &Model{Weights: Weights{Arch: arch, W: w, B: b}}, metrics, nil
}

// validateIntegrity enforces §4.6's hard failure conditions: the
// predictions must vary (stddev >= 0.01) and the first layer's weight
// L2 norm must clear a small floor (>= 0.1). The predictions checked
// are those over the training windows passed to Train; no held-out set
// is consulted.
func validateIntegrity(m *Metrics) error {
	if m.PredictionStdDev < minPredictionStdDev {
		return apperr.NewTrainingIntegrityError("predictions collapsed: stddev below floor")
	}
	if m.FirstLayerL2Norm < minFirstLayerL2Norm {
		return apperr.NewTrainingIntegrityError("first layer weights near zero")
	}
	return nil
}

func computeSampleWeights(y []int, cfg TrainConfig) []float64 {
	weights := make([]float64, len(y))
	if cfg.Protocol != ProtocolBalancedBCE {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}

	pos, neg := 0, 0
	for _, label := range y {
		if label == 1 {
			pos++
		} else {
			neg++
		}
	}
	total := float64(pos + neg)
	posWeight := total / (2 * math.Max(float64(pos), 1))
	negWeight := total / (2 * math.Max(float64(neg), 1))

	for i, label := range y {
		if label == 1 {
			weights[i] = posWeight
		} else {
			weights[i] = negWeight
		}
	}
	return weights
}

func focalLoss(p, target, gamma, alpha float64) float64 {
	p = clampProb(p)
	if target == 1 {
		return -alpha * math.Pow(1-p, gamma) * math.Log(p)
	}
	return -(1 - alpha) * math.Pow(p, gamma) * math.Log(1-p)
}

func focalGradient(p, target, gamma, alpha float64) float64 {
	p = clampProb(p)
	if target == 1 {
		return -alpha * math.Pow(1-p, gamma) * (gamma*p*math.Log(p)/(1-p+1e-9) - (1 - p))
	}
	return (1 - alpha) * math.Pow(p, gamma) * (p - gamma*(1-p)*math.Log(1-p)/(p+1e-9))
}

func bceLoss(p, target float64) float64 {
	p = clampProb(p)
	return -(target*math.Log(p) + (1-target)*math.Log(1-p))
}

func clampProb(p float64) float64 {
	const eps = 1e-9
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
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

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func l2Norm(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Save persists weights as the `<version>_stage1` artefact.
func (m *Model) Save(path string) error {
	data, err := json.MarshalIndent(m.Weights, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a persisted Stage-1 weights artefact.
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
