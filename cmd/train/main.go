// Command train runs the offline fit for one model version: it reads
// an OHLC bar series, generates Mode-1 labels under the chosen
// labeler, fits the preprocessor's scaler on the training split, and
// trains the Stage-1 detector (C6) followed by the Stage-2 classifier
// (C7) on the positive-class subset. It writes the artefact set a
// registry.Version expects: <id>_stage1.json, <id>_stage2.json,
// <id>_scaler.json, <id>_features.json, <id>_metadata.json.
//
// This mirrors the teacher's operational split between a long-running
// service (main.go) and one-shot CLI tooling (cmd/analyze_trades in
// the source repo) rather than folding training into the server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"fxreversal/config"
	"fxreversal/internal/bars"
	"fxreversal/internal/indicators"
	"fxreversal/internal/labels/profitable"
	"fxreversal/internal/labels/riskmonitor"
	"fxreversal/internal/labels/swing"
	"fxreversal/internal/model/stage1"
	"fxreversal/internal/model/stage2"
	"fxreversal/internal/preprocess"
)

func main() {
	barsPath := flag.String("bars", "", "CSV file of OHLC bars (timestamp,open,high,low,close,volume)")
	pair := flag.String("pair", "EUR/USD", "currency pair, e.g. EUR/USD")
	timeframe := flag.String("timeframe", "D1", "timeframe tag: D1, H4, or H1")
	labelMode := flag.String("label-mode", "swing", "labeler: swing or profitable")
	protocol := flag.String("protocol", "balanced_bce", "stage1 training protocol: focal or balanced_bce")
	versionID := flag.String("version", "v3.2", "model version id to write artefacts for")
	displayName := flag.String("display-name", "", "human-readable version name")
	modelsRoot := flag.String("models-root", "models", "output directory for artefacts")
	flag.Parse()

	if *barsPath == "" {
		log.Fatal("-bars is required")
	}
	if *displayName == "" {
		*displayName = *versionID
	}

	series, err := bars.LoadCSV(*barsPath)
	if err != nil {
		log.Fatalf("loading bars: %v", err)
	}

	cfg := config.Default()
	cleaned := preprocess.Clean(series)
	rows := indicators.Compute(cleaned)

	labels := labelRows(rows, *pair, *timeframe, *labelMode, cfg)

	checkpoints := riskMonitorCheckpoints(rows, labels, *pair, *timeframe, cfg)
	log.Printf("risk-monitor: %d checkpoints over %d Mode-1 entries", len(checkpoints), countNonZero(labels))

	binaryY := make([]int, len(labels))
	directionY := make([]int, len(labels)) // only meaningful where binaryY==1; 1=short, 0=long
	for i, sig := range labels {
		if sig != 0 {
			binaryY[i] = 1
			directionY[i] = sig - 1 // Long=1->0, Short=2->1
		}
	}

	trainRows, testRows, trainY, testY, trainDir := splitTrainTest(rows, binaryY, directionY, cfg.Sequence.TrainSize)

	scaler := preprocess.FitOnTraining(trainRows, cfg.Sequence.Features, preprocess.Kind(cfg.Sequence.Scaler), cfg.Sequence.FeatureRangeLo, cfg.Sequence.FeatureRangeHi)

	Xtrain, Ytrain, err := preprocess.TransformForTraining(trainRows, scaler, cfg.Sequence.Features, cfg.Sequence.SequenceLength, trainY)
	if err != nil {
		log.Fatalf("windowing training split: %v", err)
	}
	Xtest, _, err := preprocess.TransformForTraining(testRows, scaler, cfg.Sequence.Features, cfg.Sequence.SequenceLength, testY)
	if err != nil {
		log.Fatalf("windowing test split: %v", err)
	}

	arch1 := stage1.DefaultArchitecture()
	arch1.FeatureCount = len(cfg.Sequence.Features)
	arch1.WindowLength = cfg.Sequence.SequenceLength

	trainCfg := stage1.DefaultTrainConfig(stage1.Protocol(*protocol))
	s1Model, s1Metrics, err := stage1.Train(Xtrain, Ytrain, arch1, trainCfg)
	if err != nil {
		log.Fatalf("stage1 training failed: %v", err)
	}
	log.Printf("stage1 trained: protocol=%s positive_rate=%.3f pred_stddev=%.4f l2_norm=%.4f",
		*protocol, positiveRate(Ytrain), s1Metrics.PredictionStdDev, s1Metrics.FirstLayerL2Norm)

	heldOutProbs := s1Model.PredictBatch(Xtest)
	log.Printf("stage1 held-out: n=%d mean_prob=%.4f", len(heldOutProbs), mean(heldOutProbs))

	// Window the direction labels the same way as Ytrain so each entry
	// belongs to the same decision bar as the matching Xtrain window.
	_, dirTrain, err := preprocess.TransformForTraining(trainRows, scaler, cfg.Sequence.Features, cfg.Sequence.SequenceLength, trainDir)
	if err != nil {
		log.Fatalf("windowing training directions: %v", err)
	}
	Xpos, Ypos := positiveSubset(Xtrain, dirTrain, Ytrain)
	arch2 := stage2.DefaultArchitecture()
	arch2.FeatureCount = len(cfg.Sequence.Features)
	arch2.WindowLength = cfg.Sequence.SequenceLength

	var s2Model *stage2.Model
	if len(Xpos) > 0 {
		s2Model, _, err = stage2.Train(Xpos, Ypos, arch2, stage2.DefaultTrainConfig())
		if err != nil {
			log.Fatalf("stage2 training failed: %v", err)
		}
		log.Printf("stage2 trained: positive_windows=%d", len(Xpos))
	} else {
		log.Printf("stage2 skipped: no positive-class windows in training split")
	}

	if err := os.MkdirAll(*modelsRoot, 0o755); err != nil {
		log.Fatalf("creating models root: %v", err)
	}
	writeArtefacts(*modelsRoot, *versionID, *displayName, scaler, cfg.Sequence.Features, s1Model, s2Model, s1Metrics)
	writeRiskMonitor(*modelsRoot, *versionID, checkpoints)
	fmt.Printf("wrote artefacts for %s under %s\n", *versionID, *modelsRoot)
}

// riskMonitorCheckpoints computes the C4 secondary label set: for
// every Mode-1 entry produced by the primary labeler, it walks forward
// with riskmonitor.Label to produce the in-trade monitoring checkpoints
// persisted alongside the primary artefacts.
func riskMonitorCheckpoints(rows []indicators.Row, labels []int, pair, timeframe string, cfg *config.Config) []riskmonitor.Checkpoint {
	pip := bars.PipSize(pair)
	duration := riskmonitor.MonitorDuration(timeframe, cfg.Labeling.MonitorDurationByTF)

	var out []riskmonitor.Checkpoint
	for i, sig := range labels {
		if sig == 0 {
			continue
		}
		direction := riskmonitor.DirectionLong
		if sig == 2 {
			direction = riskmonitor.DirectionShort
		}
		entry := riskmonitor.Entry{Index: i, Direction: direction, Price: rows[i].Bar.Close}
		out = append(out, riskmonitor.Label(rows, entry, duration, pip, timeframe)...)
	}
	return out
}

func countNonZero(labels []int) int {
	n := 0
	for _, l := range labels {
		if l != 0 {
			n++
		}
	}
	return n
}

func writeRiskMonitor(root, versionID string, checkpoints []riskmonitor.Checkpoint) {
	data, err := json.MarshalIndent(checkpoints, "", "  ")
	if err != nil {
		log.Fatalf("marshaling risk-monitor checkpoints: %v", err)
	}
	if err := os.WriteFile(fmt.Sprintf("%s/%s_riskmonitor.json", root, versionID), data, 0o644); err != nil {
		log.Fatalf("saving risk-monitor checkpoints: %v", err)
	}
}

func labelRows(rows []indicators.Row, pair, timeframe, mode string, cfg *config.Config) []int {
	signals := make([]int, len(rows))

	switch mode {
	case "profitable":
		params := profitable.Params{LookforwardBars: 10, MinProfitPips: 30, MinRR: 1.5, MaxLossPips: 50}
		for i, l := range profitable.Label(rows, pair, timeframe, params) {
			signals[i] = int(l.Signal)
		}
	default:
		swingCfg, ok := cfg.Labeling.SwingByTimeframe[timeframe]
		if !ok {
			swingCfg = cfg.Labeling.SwingByTimeframe["D1"]
		}
		params := swing.Params{LookbackBars: swingCfg.LookbackBars, MinReversalPips: swingCfg.MinReversalPips, LookforwardBars: swingCfg.LookforwardBars}
		for i, l := range swing.Label(rows, pair, timeframe, params) {
			signals[i] = int(l.Signal)
		}
	}
	return signals
}

// splitTrainTest partitions indicator rows chronologically, the only
// split that does not leak forward information into the fitted scaler.
func splitTrainTest(rows []indicators.Row, binaryY, directionY []int, trainSize float64) (trainRows, testRows []indicators.Row, trainY, testY, trainDir []int) {
	n := len(rows)
	cut := int(float64(n) * trainSize)
	return rows[:cut], rows[cut:], binaryY[:cut], binaryY[cut:], directionY[:cut]
}

func positiveSubset(X [][][]float64, directionY, binaryY []int) ([][][]float64, []int) {
	var Xpos [][][]float64
	var Ypos []int
	for i, y := range binaryY {
		if y == 1 && i < len(directionY) {
			Xpos = append(Xpos, X[i])
			Ypos = append(Ypos, directionY[i])
		}
	}
	return Xpos, Ypos
}

func positiveRate(y []int) float64 {
	if len(y) == 0 {
		return 0
	}
	sum := 0
	for _, v := range y {
		sum += v
	}
	return float64(sum) / float64(len(y))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

type metadataFile struct {
	VersionID        string    `json:"version_id"`
	DisplayName      string    `json:"display_name"`
	TrainedAt        time.Time `json:"trained_at"`
	Stage1PredStdDev float64   `json:"stage1_prediction_stddev"`
	Stage1L2Norm     float64   `json:"stage1_first_layer_l2_norm"`
	HasStage2        bool      `json:"has_stage2"`
}

func writeArtefacts(root, versionID, displayName string, scaler *preprocess.Scaler, features []string, s1 *stage1.Model, s2 *stage2.Model, metrics *stage1.Metrics) {
	if err := s1.Save(fmt.Sprintf("%s/%s_stage1.json", root, versionID)); err != nil {
		log.Fatalf("saving stage1: %v", err)
	}
	if s2 != nil {
		if err := s2.Save(fmt.Sprintf("%s/%s_stage2.json", root, versionID)); err != nil {
			log.Fatalf("saving stage2: %v", err)
		}
	}
	if err := scaler.Save(fmt.Sprintf("%s/%s_scaler.json", root, versionID)); err != nil {
		log.Fatalf("saving scaler: %v", err)
	}

	featuresData, _ := json.MarshalIndent(struct {
		Features    []string `json:"features"`
		NumFeatures int      `json:"num_features"`
	}{features, len(features)}, "", "  ")
	if err := os.WriteFile(fmt.Sprintf("%s/%s_features.json", root, versionID), featuresData, 0o644); err != nil {
		log.Fatalf("saving features: %v", err)
	}

	meta := metadataFile{
		VersionID:        versionID,
		DisplayName:      displayName,
		TrainedAt:        time.Now(),
		Stage1PredStdDev: metrics.PredictionStdDev,
		Stage1L2Norm:     metrics.FirstLayerL2Norm,
		HasStage2:        s2 != nil,
	}
	metaData, _ := json.MarshalIndent(meta, "", "  ")
	if err := os.WriteFile(fmt.Sprintf("%s/%s_metadata.json", root, versionID), metaData, 0o644); err != nil {
		log.Fatalf("saving metadata: %v", err)
	}
}
