// Command threshold-optimize implements the offline loop of the
// Threshold Optimiser (C11): load a registered version's Stage-1
// model and scaler, run it over a held-out bar series with known
// Mode-1 labels, scan candidate thresholds, and persist the chosen
// one as <version>_threshold.json for the predictor to pick up on its
// next load.
package main

import (
	"flag"
	"log"
	"time"

	"fxreversal/config"
	"fxreversal/internal/bars"
	"fxreversal/internal/indicators"
	"fxreversal/internal/labels/profitable"
	"fxreversal/internal/labels/swing"
	"fxreversal/internal/model/stage1"
	"fxreversal/internal/preprocess"
	"fxreversal/internal/threshold"
)

func main() {
	barsPath := flag.String("bars", "", "CSV file of held-out OHLC bars")
	pair := flag.String("pair", "EUR/USD", "currency pair")
	timeframe := flag.String("timeframe", "D1", "timeframe tag")
	labelMode := flag.String("label-mode", "swing", "labeler: swing or profitable")
	versionID := flag.String("version", "v3.2", "registered version id whose artefacts to load")
	modelsRoot := flag.String("models-root", "models", "artefact directory")
	policy := flag.String("policy", "best_f1", "selection policy: best_f1, best_f2, recall_at_least_50, recall_at_least_70")
	flag.Parse()

	if *barsPath == "" {
		log.Fatal("-bars is required")
	}

	series, err := bars.LoadCSV(*barsPath)
	if err != nil {
		log.Fatalf("loading bars: %v", err)
	}

	cfg := config.Default()
	cleaned := preprocess.Clean(series)
	rows := indicators.Compute(cleaned)

	signals := labelRows(rows, *pair, *timeframe, *labelMode, cfg)
	binaryY := make([]int, len(signals))
	for i, s := range signals {
		if s != 0 {
			binaryY[i] = 1
		}
	}

	scaler, err := preprocess.LoadScaler(modelsRootPath(*modelsRoot, *versionID, "scaler"))
	if err != nil {
		log.Fatalf("loading scaler: %v", err)
	}
	s1, err := stage1.Load(modelsRootPath(*modelsRoot, *versionID, "stage1"))
	if err != nil {
		log.Fatalf("loading stage1 model: %v", err)
	}

	X, y, err := preprocess.TransformForTraining(rows, scaler, scaler.FeatureNames, cfg.Sequence.SequenceLength, binaryY)
	if err != nil {
		log.Fatalf("windowing held-out data: %v", err)
	}

	probs := s1.PredictBatch(X)

	scanCfg := threshold.DefaultScanConfig()
	result, err := threshold.Scan(probs, y, scanCfg)
	if err != nil {
		log.Fatalf("threshold scan failed: %v", err)
	}

	artefact, err := threshold.WriteArtefact(*modelsRoot, *versionID, result, threshold.Policy(*policy), time.Now())
	if err != nil {
		log.Fatalf("writing threshold artefact: %v", err)
	}

	log.Printf("recommended threshold for %s under %s: %.2f (precision=%.3f recall=%.3f f1=%.3f, average_precision=%.3f)",
		*versionID, *policy, artefact.Chosen.Threshold, artefact.Chosen.Precision, artefact.Chosen.Recall, artefact.Chosen.F1, artefact.AveragePrecision)
}

func labelRows(rows []indicators.Row, pair, timeframe, mode string, cfg *config.Config) []int {
	out := make([]int, len(rows))
	switch mode {
	case "profitable":
		params := profitable.Params{LookforwardBars: 10, MinProfitPips: 30, MinRR: 1.5, MaxLossPips: 50}
		for i, l := range profitable.Label(rows, pair, timeframe, params) {
			out[i] = int(l.Signal)
		}
	default:
		swingCfg, ok := cfg.Labeling.SwingByTimeframe[timeframe]
		if !ok {
			swingCfg = cfg.Labeling.SwingByTimeframe["D1"]
		}
		params := swing.Params{LookbackBars: swingCfg.LookbackBars, MinReversalPips: swingCfg.MinReversalPips, LookforwardBars: swingCfg.LookforwardBars}
		for i, l := range swing.Label(rows, pair, timeframe, params) {
			out[i] = int(l.Signal)
		}
	}
	return out
}

func modelsRootPath(root, versionID, kind string) string {
	return root + "/" + versionID + "_" + kind + ".json"
}
