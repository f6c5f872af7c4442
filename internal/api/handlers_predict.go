package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fxreversal/internal/apperr"
	"fxreversal/internal/bars"
	"fxreversal/internal/experiment"
	"fxreversal/internal/logging"
	"fxreversal/internal/model/predictor"
	"fxreversal/internal/obs"
	"fxreversal/internal/preprocess"
	"fxreversal/internal/registry"
)

// predictRequest is the /reversal/predict body: a pre-preprocessed
// (T,F) window plus an optional explicit version.
type predictRequest struct {
	Features [][]float64 `json:"features"`
	Version  string      `json:"version"`
	UserID   string      `json:"user_id"`
}

// rawBar is the wire shape of one bar in a predict_raw request.
type rawBar struct {
	Timestamp *time.Time `json:"timestamp"`
	Open      float64    `json:"open"`
	High      float64    `json:"high"`
	Low       float64    `json:"low"`
	Close     float64    `json:"close"`
	Volume    float64    `json:"volume"`
}

type predictRawRequest struct {
	Pair      string   `json:"pair"`
	Timeframe string   `json:"timeframe"`
	Data      []rawBar `json:"data"`
	Version   string   `json:"version"`
	UserID    string   `json:"user_id"`
}

func (r predictRawRequest) toBars() []bars.Bar {
	out := make([]bars.Bar, len(r.Data))
	for i, b := range r.Data {
		ts := time.Time{}
		if b.Timestamp != nil {
			ts = *b.Timestamp
		} else {
			ts = time.Unix(int64(i), 0)
		}
		out[i] = bars.Bar{Timestamp: ts, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	return out
}

func validatePair(pair string) error {
	if strings.Count(pair, "/") != 1 {
		return apperr.NewValidationError("pair must contain exactly one '/', got %q", pair)
	}
	return nil
}

// resolveVariant applies the A/B assignment rule: an explicit version
// in the request always wins; otherwise, if an experiment is active
// and a user id was supplied, the assigned variant's version id is
// used; otherwise the registry's active version is used (version="").
func (s *Server) resolveVariant(requestedVersion, userID string) (version, variant string) {
	if requestedVersion != "" {
		return requestedVersion, ""
	}
	if active := s.experiments.Active(); active != nil && userID != "" {
		v := active.AssignVariant(userID)
		return v, v
	}
	return "", ""
}

func (s *Server) observePrediction(userID, variant string, result *predictor.Result) {
	if variant == "" {
		return
	}
	s.experiments.Observe(userID, variant, func(exp *experiment.Experiment) int {
		return exp.RecordPrediction(variant, result)
	})
}

func (s *Server) emitPredictionMetrics(result *predictor.Result) {
	obs.PredictRequestsTotal.WithLabelValues(string(result.Signal), result.ModelVersion).Inc()
	obs.Stage1ProbabilityHistogram.Observe(result.Stage1Prob)
}

func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, apperr.NewValidationError("invalid request body: %v", err))
		return
	}

	version, variant := s.resolveVariant(req.Version, req.UserID)

	start := time.Now()
	result, err := s.predictor.Predict(req.Features, version)
	if err != nil {
		mapError(c, err)
		return
	}
	obs.PredictLatencySeconds.WithLabelValues(result.ModelVersion).Observe(time.Since(start).Seconds())
	s.emitPredictionMetrics(result)
	s.observePrediction(req.UserID, variant, result)
	s.hub.Emit(WSEventPrediction, result)
	if s.repo != nil {
		var s2 *float64
		if result.Stage2Prob != nil {
			s2 = result.Stage2Prob
		}
		if err := s.repo.LogPrediction(c.Request.Context(), result.ModelVersion, string(result.Signal), result.Confidence, result.Stage1Prob, s2); err != nil {
			logging.Default().WithError(err).Warn("failed to persist prediction log entry")
		}
	}

	respondOK(c, result)
}

func (s *Server) handlePredictRaw(c *gin.Context) {
	var req predictRawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, apperr.NewValidationError("invalid request body: %v", err))
		return
	}
	if err := validatePair(req.Pair); err != nil {
		mapError(c, err)
		return
	}

	version, variant := s.resolveVariant(req.Version, req.UserID)

	v, err := s.versionOrActive(version)
	if err != nil {
		mapError(c, err)
		return
	}

	batch, err := preprocess.PreparePrediction(req.toBars(), v.Scaler(), v.Features(), s.sequence.SequenceLength)
	if err != nil {
		mapError(c, err)
		return
	}

	start := time.Now()
	result, err := s.predictor.Predict(batch[0], v.VersionID)
	if err != nil {
		mapError(c, err)
		return
	}
	obs.PredictLatencySeconds.WithLabelValues(result.ModelVersion).Observe(time.Since(start).Seconds())
	s.emitPredictionMetrics(result)
	s.observePrediction(req.UserID, variant, result)
	s.hub.Emit(WSEventPrediction, result)

	direction := "none"
	if result.Signal == predictor.SignalLong {
		direction = "long"
	} else if result.Signal == predictor.SignalShort {
		direction = "short"
	}

	respondOK(c, gin.H{
		"pair":          req.Pair,
		"timeframe":     req.Timeframe,
		"signal":        result.Signal,
		"confidence":    result.Confidence,
		"stage1_prob":   result.Stage1Prob,
		"stage2_prob":   result.Stage2Prob,
		"model_version": result.ModelVersion,
		"factors": gin.H{
			"reversal_detected": result.Signal != predictor.SignalHold,
			"direction":         direction,
		},
		"timestamp": result.Timestamp,
	})
}

// versionOrActive resolves a version id (possibly empty) to a
// *registry.Version, reusing the predictor's own resolution policy by
// delegating to the registry directly since we need the Version object
// (not just a prediction) to drive server-side preprocessing.
func (s *Server) versionOrActive(versionID string) (*registry.Version, error) {
	if versionID != "" {
		v, ok := s.registry.Get(versionID)
		if !ok || !v.IsLoaded() {
			return nil, apperr.NewVersionNotAvailable(versionID)
		}
		return v, nil
	}
	v := s.registry.GetActive()
	if v == nil {
		return nil, apperr.NewNotReady("no active model version is loaded")
	}
	return v, nil
}

type compareRequest struct {
	Features [][]float64 `json:"features"`
	Versions []string    `json:"versions"`
}

type compareRawRequest struct {
	Pair      string   `json:"pair"`
	Timeframe string   `json:"timeframe"`
	Data      []rawBar `json:"data"`
	Versions  []string `json:"versions"`
}

type compareResult struct {
	Results      map[string]*predictor.Result `json:"results"`
	Consensus    string                        `json:"consensus"`
	Disagreement bool                          `json:"disagreement"`
}

func buildCompareResult(results map[string]*predictor.Result) *compareResult {
	seen := map[predictor.Signal]bool{}
	var first predictor.Signal
	for _, r := range results {
		if first == "" {
			first = r.Signal
		}
		seen[r.Signal] = true
	}
	return &compareResult{
		Results:      results,
		Consensus:    string(first),
		Disagreement: len(seen) > 1,
	}
}

func (s *Server) handleCompare(c *gin.Context) {
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, apperr.NewValidationError("invalid request body: %v", err))
		return
	}
	if len(req.Versions) < 2 {
		mapError(c, apperr.NewValidationError("compare requires at least two version ids"))
		return
	}

	results := make(map[string]*predictor.Result, len(req.Versions))
	for _, version := range req.Versions {
		result, err := s.predictor.Predict(req.Features, version)
		if err != nil {
			mapError(c, err)
			return
		}
		results[version] = result
		s.emitPredictionMetrics(result)
	}
	respondOK(c, buildCompareResult(results))
}

func (s *Server) handleCompareRaw(c *gin.Context) {
	var req compareRawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, apperr.NewValidationError("invalid request body: %v", err))
		return
	}
	if err := validatePair(req.Pair); err != nil {
		mapError(c, err)
		return
	}
	if len(req.Versions) < 2 {
		mapError(c, apperr.NewValidationError("compare requires at least two version ids"))
		return
	}

	rawBars := predictRawRequest{Data: req.Data}.toBars()

	results := make(map[string]*predictor.Result, len(req.Versions))
	for _, version := range req.Versions {
		v, err := s.versionOrActive(version)
		if err != nil {
			mapError(c, err)
			return
		}
		batch, err := preprocess.PreparePrediction(rawBars, v.Scaler(), v.Features(), s.sequence.SequenceLength)
		if err != nil {
			mapError(c, err)
			return
		}
		result, err := s.predictor.Predict(batch[0], v.VersionID)
		if err != nil {
			mapError(c, err)
			return
		}
		results[version] = result
		s.emitPredictionMetrics(result)
	}
	respondOK(c, gin.H{"pair": req.Pair, "timeframe": req.Timeframe, "comparison": buildCompareResult(results)})
}
