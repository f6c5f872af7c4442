package api

import (
	"github.com/gin-gonic/gin"

	"fxreversal/internal/apperr"
)

// handleListModels returns every registered version with its load
// status and metadata (§6.1 GET /reversal/models).
func (s *Server) handleListModels(c *gin.Context) {
	respondOK(c, s.registry.GetVersionsInfo())
}

// handleGetModel returns introspection info for a single version.
func (s *Server) handleGetModel(c *gin.Context) {
	versionID := c.Param("version")
	v, ok := s.registry.Get(versionID)
	if !ok {
		mapError(c, apperr.NewVersionNotAvailable(versionID))
		return
	}
	for _, info := range s.registry.GetVersionsInfo() {
		if info.VersionID == v.VersionID {
			respondOK(c, info)
			return
		}
	}
	mapError(c, apperr.NewVersionNotAvailable(versionID))
}

// handleSwitchModel atomically activates a version, per §4.9 `switch`:
// loads it if not already loaded, then replaces the active pointer.
// The prior active version stays loaded for in-flight requests.
func (s *Server) handleSwitchModel(c *gin.Context) {
	versionID := c.Param("version")
	if err := s.registry.Switch(versionID); err != nil {
		mapError(c, err)
		return
	}
	s.log.WithField("version", versionID).Info("active model version switched")
	s.hub.Emit(WSEventVersionSwitched, gin.H{"active_version": versionID})
	respondOK(c, gin.H{"active_version": versionID})
}
