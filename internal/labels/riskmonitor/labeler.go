// Package riskmonitor implements the secondary, in-trade label set
// (C4): for each Mode-1 entry it walks forward bar-by-bar and emits a
// monitoring checkpoint carrying misjudge/reversal probabilities and a
// recommended action. It is grounded on the live drawdown/trailing-
// stop bookkeeping the teacher's risk manager performs, repurposed
// from a forward-looking risk controller to a backward-looking label
// walk over already-known future bars.
package riskmonitor

import (
	"fxreversal/internal/indicators"
)

type Direction int

const (
	DirectionLong Direction = iota
	DirectionShort
)

type Action string

const (
	ActionHold       Action = "hold"
	ActionStopLoss   Action = "stop_loss"
	ActionTakeProfit Action = "take_profit"
)

// Checkpoint is a per-bar decision record for an open position.
type Checkpoint struct {
	EntryIndex          int       `json:"entry_index"`
	CurrentIndex        int       `json:"current_index"`
	BarsHeld            int       `json:"bars_held"`
	Direction           Direction `json:"direction"`
	EntryPrice          float64   `json:"entry_price"`
	CurrentPrice        float64   `json:"current_price"`
	PnLPct              float64   `json:"pnl_pct"`
	PnLPips             float64   `json:"pnl_pips"`
	MisjudgeProbability float64   `json:"misjudge_probability"`
	ReversalProbability float64   `json:"reversal_probability"`
	Action              Action    `json:"action"`
	TimeframeTag        string    `json:"timeframe_tag"`
}

// Entry is a Mode-1 entry to monitor forward from.
type Entry struct {
	Index     int
	Direction Direction
	Price     float64
}

// extensionThresholdPct is the forward-drawdown-extension / profit-
// reversal threshold (2%) used to bias misjudge/reversal probabilities.
const extensionThresholdPct = 2.0

// MonitorDuration returns the configured checkpoint horizon in bars
// for the given timeframe tag (D1=10, H4=30, H1=72), defaulting to D1.
func MonitorDuration(timeframeTag string, byTF map[string]int) int {
	if d, ok := byTF[timeframeTag]; ok {
		return d
	}
	return 10
}

// Label walks forward from entry.Index+1 up to entry.Index+duration
// (bounded by the series length) and emits one checkpoint per bar.
func Label(rows []indicators.Row, entry Entry, duration int, pip float64, timeframeTag string) []Checkpoint {
	n := len(rows)
	end := entry.Index + duration
	if end >= n {
		end = n - 1
	}

	var out []Checkpoint
	runningMaxDrawdownPct := 0.0
	runningMaxProfitPct := 0.0

	for i := entry.Index + 1; i <= end; i++ {
		current := rows[i].Bar.Close
		pnlPct := pctChange(entry.Direction, entry.Price, current)
		pnlPips := (current - entry.Price) / pip
		if entry.Direction == DirectionShort {
			pnlPips = -pnlPips
		}

		if pnlPct < 0 && -pnlPct > runningMaxDrawdownPct {
			runningMaxDrawdownPct = -pnlPct
		}
		if pnlPct > runningMaxProfitPct {
			runningMaxProfitPct = pnlPct
		}

		forwardExtendsDrawdown := forwardDrawdownExtends(rows, entry, i, end, runningMaxDrawdownPct)
		forwardReversesProfit := forwardProfitReverses(rows, entry, i, end, runningMaxProfitPct)

		misjudge := clamp01(runningMaxDrawdownPct/10 + boolBonus(forwardExtendsDrawdown, 0.25))
		reversal := clamp01(runningMaxProfitPct/10 + boolBonus(forwardReversesProfit, 0.25))

		var action Action
		switch {
		case misjudge > 0.5:
			action = ActionStopLoss
		case reversal > 0.5:
			action = ActionTakeProfit
		default:
			action = ActionHold
		}

		out = append(out, Checkpoint{
			EntryIndex:          entry.Index,
			CurrentIndex:        i,
			BarsHeld:            i - entry.Index,
			Direction:           entry.Direction,
			EntryPrice:          entry.Price,
			CurrentPrice:        current,
			PnLPct:              pnlPct,
			PnLPips:             pnlPips,
			MisjudgeProbability: misjudge,
			ReversalProbability: reversal,
			Action:              action,
			TimeframeTag:        timeframeTag,
		})
	}

	return out
}

func pctChange(dir Direction, entry, current float64) float64 {
	if entry == 0 {
		return 0
	}
	pct := (current - entry) / entry * 100
	if dir == DirectionShort {
		return -pct
	}
	return pct
}

// forwardDrawdownExtends reports whether, beyond bar i, the drawdown
// from entry ever extends at least extensionThresholdPct past the
// running max drawdown observed up to i.
func forwardDrawdownExtends(rows []indicators.Row, entry Entry, i, end int, runningMaxDrawdownPct float64) bool {
	for j := i + 1; j <= end; j++ {
		pct := pctChange(entry.Direction, entry.Price, rows[j].Bar.Close)
		if pct < 0 && -pct >= runningMaxDrawdownPct+extensionThresholdPct {
			return true
		}
	}
	return false
}

// forwardProfitReverses reports whether, beyond bar i, profit reverses
// by at least extensionThresholdPct without extending further first.
func forwardProfitReverses(rows []indicators.Row, entry Entry, i, end int, runningMaxProfitPct float64) bool {
	for j := i + 1; j <= end; j++ {
		pct := pctChange(entry.Direction, entry.Price, rows[j].Bar.Close)
		if pct <= runningMaxProfitPct-extensionThresholdPct {
			return true
		}
		if pct > runningMaxProfitPct {
			return false
		}
	}
	return false
}

func boolBonus(b bool, bonus float64) float64 {
	if b {
		return bonus
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
