package api

import (
	"math"

	"github.com/gin-gonic/gin"

	"fxreversal/internal/apperr"
	"fxreversal/internal/experiment"
)

// createExperimentRequest mirrors the A/B experiment shape of §3: two
// named variants (model version ids) and the traffic fraction routed
// to variant A. Internally this becomes a two-arm weighted Experiment.
type createExperimentRequest struct {
	ExperimentID      string   `json:"experiment_id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	VariantAVersionID string   `json:"variant_a_version_id"`
	VariantBVersionID string   `json:"variant_b_version_id"`
	TrafficSplitA     *float64 `json:"traffic_split_a"`
}

func (s *Server) handleCreateExperiment(c *gin.Context) {
	var req createExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, apperr.NewValidationError("invalid request body: %v", err))
		return
	}
	if req.ExperimentID == "" {
		mapError(c, apperr.NewValidationError("experiment_id is required"))
		return
	}
	if req.VariantAVersionID == "" || req.VariantBVersionID == "" {
		mapError(c, apperr.NewValidationError("variant_a_version_id and variant_b_version_id are required"))
		return
	}
	trafficSplitA := 0.5
	if req.TrafficSplitA != nil {
		if *req.TrafficSplitA <= 0 || *req.TrafficSplitA >= 1 {
			mapError(c, apperr.NewValidationError("traffic_split_a must be strictly between 0 and 1"))
			return
		}
		trafficSplitA = *req.TrafficSplitA
	}

	weightA := int(math.Round(trafficSplitA * 100))
	if weightA < 1 {
		weightA = 1
	}
	weightB := 100 - weightA
	if weightB < 1 {
		weightB = 1
	}

	exp, err := experiment.New(req.ExperimentID, req.Name, []experiment.Variant{
		{Name: req.VariantAVersionID, Weight: weightA},
		{Name: req.VariantBVersionID, Weight: weightB},
	})
	if err != nil {
		mapError(c, err)
		return
	}
	s.experiments.Create(exp)
	respondCreated(c, exp)
}

func (s *Server) handleActivateExperiment(c *gin.Context) {
	id := c.Param("id")
	if err := s.experiments.Activate(id); err != nil {
		mapError(c, err)
		return
	}
	s.hub.Emit(WSEventExperimentActivated, gin.H{"active_experiment": id})
	respondOK(c, gin.H{"active_experiment": id})
}

func (s *Server) handleStopExperiment(c *gin.Context) {
	id := c.Param("id")
	if err := s.experiments.Stop(id); err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, gin.H{"stopped_experiment": id})
}

func (s *Server) handleListExperiments(c *gin.Context) {
	experiments := s.experiments.List()
	active := s.experiments.Active()
	activeID := ""
	if active != nil {
		activeID = active.ExperimentID
	}
	respondOK(c, gin.H{"experiments": experiments, "active_experiment_id": activeID})
}

// experimentVariantMetrics is one variant's rolling counters plus its
// derived average confidence, since VariantStats only carries the
// running sum (§3 "counters hold ... total_confidence, avg_confidence").
type experimentVariantMetrics struct {
	Count           int64            `json:"count"`
	Signals         map[string]int64 `json:"signals"`
	TotalConfidence float64          `json:"total_confidence"`
	AvgConfidence   float64          `json:"avg_confidence"`
}

func (s *Server) handleExperimentMetrics(c *gin.Context) {
	id := c.Param("id")
	exp, ok := s.experiments.Get(id)
	if !ok {
		mapError(c, apperr.NewValidationError("unknown experiment %q", id))
		return
	}

	snapshot := exp.Snapshot()
	metrics := make(map[string]experimentVariantMetrics, len(snapshot))
	for name, stats := range snapshot {
		avg := 0.0
		if stats.Count > 0 {
			avg = stats.TotalConfidence / float64(stats.Count)
		}
		metrics[name] = experimentVariantMetrics{
			Count:           stats.Count,
			Signals:         stats.Signals,
			TotalConfidence: stats.TotalConfidence,
			AvgConfidence:   avg,
		}
	}

	respondOK(c, gin.H{
		"experiment_id": exp.ExperimentID,
		"active":        exp.Active,
		"variants":      metrics,
	})
}
