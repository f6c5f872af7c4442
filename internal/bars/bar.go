// Package bars defines the raw OHLC bar type shared by every stage of
// the pipeline, from indicator computation through serving.
package bars

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

// Bar is a single OHLC candle. Volume may be zero for FX pairs.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate enforces low <= min(open,close) <= max(open,close) <= high.
func (b Bar) Validate() error {
	lo := b.Open
	if b.Close < lo {
		lo = b.Close
	}
	hi := b.Open
	if b.Close > hi {
		hi = b.Close
	}
	if !(b.Low <= lo && lo <= hi && hi <= b.High) {
		return fmt.Errorf("bar at %s violates low<=min(open,close)<=max(open,close)<=high: low=%v open=%v close=%v high=%v",
			b.Timestamp.Format(time.RFC3339), b.Low, b.Open, b.Close, b.High)
	}
	return nil
}

// PipSize returns 1 pip in price units for the given pair. JPY quote
// currencies use 0.01; everything else uses 0.0001.
func PipSize(pair string) float64 {
	if len(pair) >= 3 && (pair[len(pair)-3:] == "JPY") {
		return 0.01
	}
	return 0.0001
}

// SortAscending sorts bars in place by timestamp, ascending.
func SortAscending(series []Bar) {
	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
}

// DropDuplicateTimestamps removes bars sharing a timestamp with an
// earlier bar in the series, keeping the first occurrence.
func DropDuplicateTimestamps(series []Bar) []Bar {
	seen := make(map[int64]struct{}, len(series))
	out := make([]Bar, 0, len(series))
	for _, b := range series {
		key := b.Timestamp.UnixNano()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, b)
	}
	return out
}

// LoadCSV reads a headered CSV of OHLC bars for the offline training
// and threshold-optimisation CLIs. The timestamp column accepts
// RFC3339 or unix-seconds; volume is optional and defaults to zero.
func LoadCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("expected a header row plus at least one data row")
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("csv missing required column %q", required)
		}
	}

	out := make([]Bar, 0, len(records)-1)
	for _, rec := range records[1:] {
		ts, err := parseTimestamp(rec[col["timestamp"]])
		if err != nil {
			return nil, err
		}
		b := Bar{
			Timestamp: ts,
			Open:      mustFloat(rec[col["open"]]),
			High:      mustFloat(rec[col["high"]]),
			Low:       mustFloat(rec[col["low"]]),
			Close:     mustFloat(rec[col["close"]]),
		}
		if i, ok := col["volume"]; ok && i < len(rec) {
			b.Volume = mustFloat(rec[i])
		}
		out = append(out, b)
	}
	return out, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func mustFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
