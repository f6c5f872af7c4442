// Package swing implements the strict swing-point labeler (C2):
// a bar is promoted to a reversal only when it is a local low/high
// extremum over a symmetric lookback window AND the forward window
// realises a move past a timeframe-dependent pip threshold.
package swing

import (
	"fxreversal/internal/bars"
	"fxreversal/internal/indicators"
)

// Signal encodes the Mode-1 label direction: 0=none, 1=long, 2=short.
type Signal int

const (
	SignalNone  Signal = 0
	SignalLong  Signal = 1
	SignalShort Signal = 2
)

// Mode1Label is the Swing-variant Mode-1 label for a single bar.
type Mode1Label struct {
	Signal       Signal  `json:"signal"`
	Confidence   float64 `json:"confidence"`
	EntryPrice   float64 `json:"entry_price"`
	MovePips     float64 `json:"move_pips"`
	TimeframeTag string  `json:"timeframe_tag"`
}

// Params configures the scan for one timeframe (§4.2 table).
type Params struct {
	LookbackBars    int
	MinReversalPips int
	LookforwardBars int
}

// Label scans indicator rows and emits one Mode-1 label per bar.
// Bars lacking the required lookback or lookforward receive signal=0.
func Label(rows []indicators.Row, pair, timeframeTag string, p Params) []Mode1Label {
	out := make([]Mode1Label, len(rows))
	pip := bars.PipSize(pair)
	n := len(rows)

	for i := 0; i < n; i++ {
		out[i] = Mode1Label{Signal: SignalNone, TimeframeTag: timeframeTag}

		if i-p.LookbackBars < 0 || i+p.LookbackBars >= n || i+p.LookforwardBars >= n {
			continue
		}

		isSwingLow := true
		isSwingHigh := true
		low := rows[i].Bar.Low
		high := rows[i].Bar.High
		for j := i - p.LookbackBars; j <= i+p.LookbackBars; j++ {
			if j == i {
				continue
			}
			if rows[j].Bar.Low < low {
				isSwingLow = false
			}
			if rows[j].Bar.High > high {
				isSwingHigh = false
			}
		}

		if isSwingLow {
			maxForwardHigh := low
			for j := i + 1; j <= i+p.LookforwardBars; j++ {
				if rows[j].Bar.High > maxForwardHigh {
					maxForwardHigh = rows[j].Bar.High
				}
			}
			movePips := (maxForwardHigh - low) / pip
			if movePips >= float64(p.MinReversalPips) {
				out[i] = Mode1Label{
					Signal:       SignalLong,
					Confidence:   confidence(rows[i], movePips, float64(p.MinReversalPips)),
					EntryPrice:   low,
					MovePips:     movePips,
					TimeframeTag: timeframeTag,
				}
				continue
			}
		}

		if isSwingHigh {
			minForwardLow := high
			for j := i + 1; j <= i+p.LookforwardBars; j++ {
				if rows[j].Bar.Low < minForwardLow {
					minForwardLow = rows[j].Bar.Low
				}
			}
			movePips := (high - minForwardLow) / pip
			if movePips >= float64(p.MinReversalPips) {
				out[i] = Mode1Label{
					Signal:       SignalShort,
					Confidence:   confidence(rows[i], movePips, float64(p.MinReversalPips)),
					EntryPrice:   high,
					MovePips:     movePips,
					TimeframeTag: timeframeTag,
				}
			}
		}
	}

	return out
}

// confidence is a monotone function of the realised move and
// corroborating indicator state (ADX strength, RSI extremity, MACD
// separation, moderate ATR/price ratio).
func confidence(r indicators.Row, movePips, minPips float64) float64 {
	c := 0.5

	moveRatio := movePips / minPips
	if moveRatio > 1 {
		bonus := (moveRatio - 1) * 0.15
		if bonus > 0.2 {
			bonus = 0.2
		}
		c += bonus
	}

	if !r.Undefined {
		if r.ADX14 > 25 {
			c += 0.1
		} else if r.ADX14 > 20 {
			c += 0.05
		}

		if r.RSI14 > 70 || r.RSI14 < 30 {
			c += 0.08
		}

		macdSep := r.MACD - r.MACDSignal
		if macdSep < 0 {
			macdSep = -macdSep
		}
		if macdSep > 0 {
			bonus := macdSep * 10
			if bonus > 0.1 {
				bonus = 0.1
			}
			c += bonus
		}

		if r.Bar.Close != 0 {
			atrRatio := r.ATR14 / r.Bar.Close
			if atrRatio > 0.003 && atrRatio < 0.02 {
				c += 0.05
			}
		}
	}

	if c > 1 {
		c = 1
	}
	return c
}
