// Package preprocess implements the Preprocessor (C5): feature
// selection, scaler fit/apply, fixed-length sequence assembly, and the
// training/serving parity invariants of §4.5.
package preprocess

import (
	"sort"

	"fxreversal/internal/apperr"
	"fxreversal/internal/bars"
	"fxreversal/internal/indicators"
)

// outlierIQRMultiple is the cleaning policy's outlier rule: values
// beyond median +/- 3*IQR on non-volume columns are dropped.
const outlierIQRMultiple = 3.0

// Clean applies the cleaning policy of §4.5: drop duplicate
// timestamps, forward/back-fill OHLC, sort ascending, then (by the
// caller, after indicator computation) drop rows with any remaining
// NaN in the selected feature set and remove 3xIQR outliers.
func Clean(series []bars.Bar) []bars.Bar {
	cleaned := bars.DropDuplicateTimestamps(series)
	bars.SortAscending(cleaned)
	fillForwardBackward(cleaned)
	return cleaned
}

func fillForwardBackward(series []bars.Bar) {
	// Forward-fill: a bar whose OHLC are all zero takes the prior bar's
	// OHLC values, keeping its own timestamp, with volume set to 0.
	for i := 1; i < len(series); i++ {
		if series[i].Open == 0 && series[i].High == 0 && series[i].Low == 0 && series[i].Close == 0 {
			ts := series[i].Timestamp
			series[i] = series[i-1]
			series[i].Timestamp = ts
			series[i].Volume = 0
		}
	}
	// Back-fill: a leading zero bar takes the next bar's OHLC values.
	for i := len(series) - 2; i >= 0; i-- {
		if series[i].Open == 0 && series[i].High == 0 && series[i].Low == 0 && series[i].Close == 0 {
			ts := series[i].Timestamp
			series[i] = series[i+1]
			series[i].Timestamp = ts
			series[i].Volume = 0
		}
	}
}

// removeOutliers drops rows whose selected feature values fall beyond
// median +/- outlierIQRMultiple*IQR, computed per-column over the
// candidate set. Volume is excluded per policy.
func removeOutliers(rows []indicators.Row, selected []string) []indicators.Row {
	keep := make([]bool, len(rows))
	for i := range keep {
		keep[i] = true
	}

	for _, name := range selected {
		if name == "volume" {
			continue
		}
		values := make([]float64, len(rows))
		for i, r := range rows {
			v, _ := r.FeatureValue(name)
			values[i] = v
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		med := percentile(sorted, 50)
		q1 := percentile(sorted, 25)
		q3 := percentile(sorted, 75)
		iqr := q3 - q1
		if iqr == 0 {
			continue
		}
		lo := med - outlierIQRMultiple*iqr
		hi := med + outlierIQRMultiple*iqr
		for i, v := range values {
			if v < lo || v > hi {
				keep[i] = false
			}
		}
	}

	out := make([]indicators.Row, 0, len(rows))
	for i, r := range rows {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out
}

// dropUndefinedAndIncomplete removes indicator rows still marked
// Undefined (lookback not yet mature) or missing a selected feature.
func dropUndefinedAndIncomplete(rows []indicators.Row, selected []string) []indicators.Row {
	out := make([]indicators.Row, 0, len(rows))
	for _, r := range rows {
		if r.Undefined {
			continue
		}
		complete := true
		for _, name := range selected {
			if _, ok := r.FeatureValue(name); !ok {
				complete = false
				break
			}
		}
		if complete {
			out = append(out, r)
		}
	}
	return out
}

// FitOnTraining fits a scaler on training data only. Callers must
// ensure rows come exclusively from the training split.
func FitOnTraining(rows []indicators.Row, selected []string, kind Kind, rangeLo, rangeHi float64) *Scaler {
	mature := dropUndefinedAndIncomplete(rows, selected)
	mature = removeOutliers(mature, selected)

	columns := make([][]float64, len(selected))
	for i, name := range selected {
		col := make([]float64, len(mature))
		for j, r := range mature {
			v, _ := r.FeatureValue(name)
			col[j] = v
		}
		columns[i] = col
	}

	return Fit(kind, selected, columns, rangeLo, rangeHi)
}

// TransformForTraining windows cleaned, scaled rows into (N,T,F)
// sequences, with y aligned by the index of the final bar in each
// window (the decision bar). labels must be parallel to rows (one
// entry per input row, in the same order the labeler emitted them);
// the mature/outlier filters are applied to rows and labels in
// lockstep so a dropped row can never shift a later label onto the
// wrong window.
func TransformForTraining(rows []indicators.Row, scaler *Scaler, selected []string, window int, labels []int) ([][][]float64, []int, error) {
	if err := checkParity(scaler, selected); err != nil {
		return nil, nil, err
	}

	idx := matureIndices(rows, selected)
	idx = outlierIndices(rows, idx, selected)

	if len(idx) < window {
		return nil, nil, apperr.NewInsufficientData(len(idx), window)
	}

	var X [][][]float64
	var y []int
	for end := window - 1; end < len(idx); end++ {
		seq := make([][]float64, window)
		for t := 0; t < window; t++ {
			seq[t] = scaledRow(rows[idx[end-window+1+t]], scaler, selected)
		}
		X = append(X, seq)
		if labels != nil {
			origIdx := idx[end]
			if origIdx < len(labels) {
				y = append(y, labels[origIdx])
			}
		}
	}

	return X, y, nil
}

// matureIndices returns the indices into rows whose lookback has
// matured and which carry every selected feature.
func matureIndices(rows []indicators.Row, selected []string) []int {
	idx := make([]int, 0, len(rows))
	for i, r := range rows {
		if r.Undefined {
			continue
		}
		complete := true
		for _, name := range selected {
			if _, ok := r.FeatureValue(name); !ok {
				complete = false
				break
			}
		}
		if complete {
			idx = append(idx, i)
		}
	}
	return idx
}

// outlierIndices narrows idx (indices into rows) by the 3xIQR rule on
// non-volume selected columns, computed over the candidate set.
func outlierIndices(rows []indicators.Row, idx []int, selected []string) []int {
	keep := make([]bool, len(idx))
	for i := range keep {
		keep[i] = true
	}

	for _, name := range selected {
		if name == "volume" {
			continue
		}
		values := make([]float64, len(idx))
		for j, i := range idx {
			v, _ := rows[i].FeatureValue(name)
			values[j] = v
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		med := percentile(sorted, 50)
		q1 := percentile(sorted, 25)
		q3 := percentile(sorted, 75)
		iqr := q3 - q1
		if iqr == 0 {
			continue
		}
		lo := med - outlierIQRMultiple*iqr
		hi := med + outlierIQRMultiple*iqr
		for j, v := range values {
			if v < lo || v > hi {
				keep[j] = false
			}
		}
	}

	out := make([]int, 0, len(idx))
	for j, i := range idx {
		if keep[j] {
			out = append(out, i)
		}
	}
	return out
}

// PreparePrediction assembles a single (1,T,F) sequence from raw bars
// up to the decision time. No forward information is consulted: bars
// after the last element of raw are never read.
func PreparePrediction(raw []bars.Bar, scaler *Scaler, selected []string, window int) ([][][]float64, error) {
	if err := checkParity(scaler, selected); err != nil {
		return nil, err
	}

	cleaned := Clean(raw)
	rows := indicators.Compute(cleaned)
	mature := dropUndefinedAndIncomplete(rows, selected)
	mature = removeOutliers(mature, selected)

	if len(mature) < window {
		return nil, apperr.NewInsufficientData(len(mature), window)
	}

	tail := mature[len(mature)-window:]
	seq := make([][]float64, window)
	for t, r := range tail {
		seq[t] = scaledRow(r, scaler, selected)
	}

	return [][][]float64{seq}, nil
}

func scaledRow(r indicators.Row, scaler *Scaler, selected []string) []float64 {
	raw := make([]float64, len(selected))
	for i, name := range selected {
		v, _ := r.FeatureValue(name)
		raw[i] = v
	}
	return scaler.Transform(raw)
}

// checkParity enforces invariant 1 of §4.5: the set and order of
// selected must match scaler.FeatureNames exactly.
func checkParity(scaler *Scaler, selected []string) error {
	if len(scaler.FeatureNames) != len(selected) {
		return apperr.NewFeatureMismatch(len(scaler.FeatureNames), len(selected))
	}
	for i, name := range selected {
		if scaler.FeatureNames[i] != name {
			return apperr.NewValidationError("feature order mismatch at index %d: scaler has %q, request has %q", i, scaler.FeatureNames[i], name)
		}
	}
	return nil
}
