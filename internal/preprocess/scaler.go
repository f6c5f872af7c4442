package preprocess

import (
	"encoding/json"
	"math"
	"os"
	"sort"
)

// Kind names the normalisation policy (§6.3 "scaler" config option).
type Kind string

const (
	KindStandard Kind = "standard"
	KindMinMax   Kind = "minmax"
	KindRobust   Kind = "robust"
)

// Scaler is the fitted mean/variance (or min/max, or median/IQR)
// transform plus the frozen feature name list it was fitted on. This
// is one half of the serving parity contract (§4.5); the other half is
// the persisted selected-feature list.
type Scaler struct {
	Kind          Kind      `json:"kind"`
	FeatureNames  []string  `json:"feature_names"`
	Mean          []float64 `json:"mean,omitempty"`
	Std           []float64 `json:"std,omitempty"`
	Min           []float64 `json:"min,omitempty"`
	Max           []float64 `json:"max,omitempty"`
	Median        []float64 `json:"median,omitempty"`
	IQR           []float64 `json:"iqr,omitempty"`
	FeatureRangeLo float64  `json:"feature_range_lo,omitempty"`
	FeatureRangeHi float64  `json:"feature_range_hi,omitempty"`
}

// Fit computes the scaler's parameters from columnar training data.
// columns[f] holds every training-set value of feature f, in the same
// order as featureNames.
func Fit(kind Kind, featureNames []string, columns [][]float64, rangeLo, rangeHi float64) *Scaler {
	s := &Scaler{Kind: kind, FeatureNames: append([]string(nil), featureNames...), FeatureRangeLo: rangeLo, FeatureRangeHi: rangeHi}

	switch kind {
	case KindMinMax:
		s.Min = make([]float64, len(columns))
		s.Max = make([]float64, len(columns))
		for i, col := range columns {
			s.Min[i], s.Max[i] = minMax(col)
		}
	case KindRobust:
		s.Median = make([]float64, len(columns))
		s.IQR = make([]float64, len(columns))
		for i, col := range columns {
			med, iqr := medianIQR(col)
			s.Median[i] = med
			s.IQR[i] = iqr
		}
	default: // standard
		s.Mean = make([]float64, len(columns))
		s.Std = make([]float64, len(columns))
		for i, col := range columns {
			mean, std := meanStd(col)
			s.Mean[i] = mean
			s.Std[i] = std
		}
	}

	return s
}

// Transform scales a single row of feature values, in the order of
// s.FeatureNames.
func (s *Scaler) Transform(values []float64) []float64 {
	out := make([]float64, len(values))
	switch s.Kind {
	case KindMinMax:
		rangeLo, rangeHi := s.FeatureRangeLo, s.FeatureRangeHi
		if rangeLo == 0 && rangeHi == 0 {
			rangeHi = 1
		}
		for i, v := range values {
			span := s.Max[i] - s.Min[i]
			if span == 0 {
				out[i] = rangeLo
				continue
			}
			out[i] = rangeLo + (v-s.Min[i])/span*(rangeHi-rangeLo)
		}
	case KindRobust:
		for i, v := range values {
			if s.IQR[i] == 0 {
				out[i] = 0
				continue
			}
			out[i] = (v - s.Median[i]) / s.IQR[i]
		}
	default:
		for i, v := range values {
			if s.Std[i] == 0 {
				out[i] = 0
				continue
			}
			out[i] = (v - s.Mean[i]) / s.Std[i]
		}
	}
	return out
}

// Save persists the scaler as JSON (the `<version>_scaler` artefact, §6.2).
func (s *Scaler) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadScaler reads a persisted scaler artefact.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
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

	return mean, math.Sqrt(variance)
}

func minMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func medianIQR(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	med := percentile(sorted, 50)
	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	return med, q3 - q1
}

// percentile assumes values is already sorted ascending. An empty
// slice yields 0.
func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := pct / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
