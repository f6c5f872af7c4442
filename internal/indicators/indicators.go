// Package indicators computes the fixed technical-indicator family
// (C1) from an ordered OHLC series. The definitions are frozen: any
// change to a lookback or seeding rule changes the feature list a
// served model expects, so this package is version-tagged together
// with config.DefaultSelectedFeatures.
package indicators

import (
	"math"

	"fxreversal/internal/bars"
)

// Row is an indicator row: the source bar plus every derived column.
// Columns that are not yet defined (insufficient lookback) are
// emitted as NaN with Undefined=true; the preprocessor drops these.
type Row struct {
	Bar bars.Bar

	SMA20  float64
	SMA50  float64
	SMA200 float64
	EMA12  float64
	EMA26  float64

	RSI14 float64

	MACD          float64
	MACDSignal    float64
	MACDHistogram float64

	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64
	BollingerWidth  float64

	ATR14 float64

	StochK float64
	StochD float64

	Momentum10 float64
	ROC12      float64
	WilliamsR  float64
	CCI20      float64
	ADX14      float64

	PriceChange float64
	PriceRange  float64
	BodySize    float64

	// Undefined is true while any of the above lacks a mature lookback.
	Undefined bool
}

// FeatureValue looks up a named feature column by the names used in
// config.DefaultSelectedFeatures and the persisted feature list.
// Unknown names return (0, false).
func (r Row) FeatureValue(name string) (float64, bool) {
	switch name {
	case "open":
		return r.Bar.Open, true
	case "high":
		return r.Bar.High, true
	case "low":
		return r.Bar.Low, true
	case "close":
		return r.Bar.Close, true
	case "volume":
		return r.Bar.Volume, true
	case "sma_20":
		return r.SMA20, true
	case "sma_50":
		return r.SMA50, true
	case "sma_200":
		return r.SMA200, true
	case "ema_12":
		return r.EMA12, true
	case "ema_26":
		return r.EMA26, true
	case "rsi_14":
		return r.RSI14, true
	case "macd":
		return r.MACD, true
	case "macd_signal":
		return r.MACDSignal, true
	case "macd_histogram":
		return r.MACDHistogram, true
	case "bollinger_upper":
		return r.BollingerUpper, true
	case "bollinger_middle":
		return r.BollingerMiddle, true
	case "bollinger_lower":
		return r.BollingerLower, true
	case "bollinger_width":
		return r.BollingerWidth, true
	case "atr_14":
		return r.ATR14, true
	case "stoch_k":
		return r.StochK, true
	case "stoch_d":
		return r.StochD, true
	case "momentum_10":
		return r.Momentum10, true
	case "roc_12":
		return r.ROC12, true
	case "williams_r":
		return r.WilliamsR, true
	case "cci_20":
		return r.CCI20, true
	case "adx_14":
		return r.ADX14, true
	case "price_change":
		return r.PriceChange, true
	case "price_range":
		return r.PriceRange, true
	case "body_size":
		return r.BodySize, true
	default:
		return 0, false
	}
}

// Compute turns an ordered bar series into indicator rows. Leading
// rows whose inputs are not yet mature carry Undefined=true.
func Compute(series []bars.Bar) []Row {
	n := len(series)
	rows := make([]Row, n)

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range series {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	sma20 := sma(closes, 20)
	sma50 := sma(closes, 50)
	sma200 := sma(closes, 200)
	ema12 := ema(closes, 12)
	ema26 := ema(closes, 26)
	rsi14 := rsi(closes, 14)
	macdLine, macdSignal, macdHist := macd(closes, 12, 26, 9)
	bbUpper, bbMiddle, bbLower, bbWidth := bollinger(closes, 20, 2.0)
	atr14 := atr(series, 14)
	stochK, stochD := stochastic(series, 14, 3)
	mom10 := momentum(closes, 10)
	roc12 := roc(closes, 12)
	willR := williamsR(series, 14)
	cci20 := cci(series, 20)
	adx14 := adx(series, 14)

	longestLookback := 200 // SMA200 is the longest-lookback indicator

	for i := 0; i < n; i++ {
		r := Row{Bar: series[i]}
		r.SMA20, r.SMA50, r.SMA200 = sma20[i], sma50[i], sma200[i]
		r.EMA12, r.EMA26 = ema12[i], ema26[i]
		r.RSI14 = rsi14[i]
		r.MACD, r.MACDSignal, r.MACDHistogram = macdLine[i], macdSignal[i], macdHist[i]
		r.BollingerUpper, r.BollingerMiddle, r.BollingerLower, r.BollingerWidth = bbUpper[i], bbMiddle[i], bbLower[i], bbWidth[i]
		r.ATR14 = atr14[i]
		r.StochK, r.StochD = stochK[i], stochD[i]
		r.Momentum10 = mom10[i]
		r.ROC12 = roc12[i]
		r.WilliamsR = willR[i]
		r.CCI20 = cci20[i]
		r.ADX14 = adx14[i]

		r.PriceChange = series[i].Close - series[i].Open
		r.PriceRange = series[i].High - series[i].Low
		r.BodySize = math.Abs(series[i].Close - series[i].Open)

		r.Undefined = i < longestLookback-1
		rows[i] = r
	}

	return rows
}

func sma(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func ema(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	mult := 2.0 / float64(period+1)
	var seed float64
	for i := range values {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		if i == period-1 {
			sum := 0.0
			for j := 0; j <= i; j++ {
				sum += values[j]
			}
			seed = sum / float64(period)
			out[i] = seed
			continue
		}
		out[i] = (values[i]-out[i-1])*mult + out[i-1]
	}
	return out
}

func rsi(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < period {
			out[i] = math.NaN()
			continue
		}
		gains, losses := 0.0, 0.0
		for j := i - period + 1; j <= i; j++ {
			change := values[j] - values[j-1]
			if change > 0 {
				gains += change
			} else {
				losses -= change
			}
		}
		avgGain := gains / float64(period)
		avgLoss := losses / float64(period)
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - (100 / (1 + rs))
	}
	return out
}

func macd(values []float64, fast, slow, signalPeriod int) ([]float64, []float64, []float64) {
	fastEMA := ema(values, fast)
	slowEMA := ema(values, slow)
	line := make([]float64, len(values))
	for i := range values {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	signal := ema(replaceNaN(line, 0), signalPeriod)
	hist := make([]float64, len(values))
	for i := range values {
		if math.IsNaN(line[i]) || math.IsNaN(signal[i]) {
			hist[i] = math.NaN()
			continue
		}
		hist[i] = line[i] - signal[i]
	}
	return line, signal, hist
}

func replaceNaN(values []float64, with float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = with
		} else {
			out[i] = v
		}
	}
	return out
}

func bollinger(values []float64, period int, stdDevMult float64) ([]float64, []float64, []float64, []float64) {
	upper := make([]float64, len(values))
	middle := make([]float64, len(values))
	lower := make([]float64, len(values))
	width := make([]float64, len(values))
	for i := range values {
		if i < period-1 {
			upper[i], middle[i], lower[i], width[i] = math.NaN(), math.NaN(), math.NaN(), math.NaN()
			continue
		}
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += values[j]
		}
		mean := sum / float64(period)
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			variance += (values[j] - mean) * (values[j] - mean)
		}
		variance /= float64(period)
		sd := math.Sqrt(variance)
		middle[i] = mean
		upper[i] = mean + stdDevMult*sd
		lower[i] = mean - stdDevMult*sd
		width[i] = upper[i] - lower[i]
	}
	return upper, middle, lower, width
}

func atr(series []bars.Bar, period int) []float64 {
	out := make([]float64, len(series))
	trueRanges := make([]float64, len(series))
	for i := range series {
		if i == 0 {
			trueRanges[i] = series[i].High - series[i].Low
			continue
		}
		hl := series[i].High - series[i].Low
		hc := math.Abs(series[i].High - series[i-1].Close)
		lc := math.Abs(series[i].Low - series[i-1].Close)
		trueRanges[i] = math.Max(hl, math.Max(hc, lc))
	}
	for i := range series {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += trueRanges[j]
		}
		out[i] = sum / float64(period)
	}
	return out
}

func stochastic(series []bars.Bar, period, smoothD int) ([]float64, []float64) {
	k := make([]float64, len(series))
	for i := range series {
		if i < period-1 {
			k[i] = math.NaN()
			continue
		}
		hi, lo := series[i].High, series[i].Low
		for j := i - period + 1; j <= i; j++ {
			if series[j].High > hi {
				hi = series[j].High
			}
			if series[j].Low < lo {
				lo = series[j].Low
			}
		}
		if hi == lo {
			k[i] = 50
			continue
		}
		k[i] = (series[i].Close - lo) / (hi - lo) * 100
	}
	d := sma(replaceNaN(k, 50), smoothD)
	for i := range d {
		if i < period-1 {
			d[i] = math.NaN()
		}
	}
	return k, d
}

func momentum(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < period {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i] - values[i-period]
	}
	return out
}

func roc(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < period || values[i-period] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (values[i] - values[i-period]) / values[i-period] * 100
	}
	return out
}

func williamsR(series []bars.Bar, period int) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		hi, lo := series[i].High, series[i].Low
		for j := i - period + 1; j <= i; j++ {
			if series[j].High > hi {
				hi = series[j].High
			}
			if series[j].Low < lo {
				lo = series[j].Low
			}
		}
		if hi == lo {
			out[i] = -50
			continue
		}
		out[i] = (hi - series[i].Close) / (hi - lo) * -100
	}
	return out
}

func cci(series []bars.Bar, period int) []float64 {
	typicalPrices := make([]float64, len(series))
	for i, b := range series {
		typicalPrices[i] = (b.High + b.Low + b.Close) / 3
	}
	out := make([]float64, len(series))
	for i := range series {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += typicalPrices[j]
		}
		mean := sum / float64(period)
		meanDev := 0.0
		for j := i - period + 1; j <= i; j++ {
			meanDev += math.Abs(typicalPrices[j] - mean)
		}
		meanDev /= float64(period)
		if meanDev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (typicalPrices[i] - mean) / (0.015 * meanDev)
	}
	return out
}

func adx(series []bars.Bar, period int) []float64 {
	n := len(series)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := series[i].High - series[i-1].High
		downMove := series[i-1].Low - series[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		hl := series[i].High - series[i].Low
		hc := math.Abs(series[i].High - series[i-1].Close)
		lc := math.Abs(series[i].Low - series[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	smoothedTR := wilderSmooth(tr, period)
	smoothedPlusDM := wilderSmooth(plusDM, period)
	smoothedMinusDM := wilderSmooth(minusDM, period)

	dx := make([]float64, n)
	for i := range dx {
		if math.IsNaN(smoothedTR[i]) || smoothedTR[i] == 0 {
			dx[i] = math.NaN()
			continue
		}
		plusDI := smoothedPlusDM[i] / smoothedTR[i] * 100
		minusDI := smoothedMinusDM[i] / smoothedTR[i] * 100
		sum := plusDI + minusDI
		if sum == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = math.Abs(plusDI-minusDI) / sum * 100
	}

	return wilderSmooth(replaceNaN(dx, 0), period)
}

// wilderSmooth applies Wilder's smoothing (a period-scaled running sum).
func wilderSmooth(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	var running float64
	for i := range values {
		if i < period {
			out[i] = math.NaN()
			running += values[i]
			if i == period-1 {
				out[i] = running
			}
			continue
		}
		running = out[i-1] - out[i-1]/float64(period) + values[i]
		out[i] = running
	}
	return out
}
