package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/intelwatch/ttpmon/pkg/models"
)

// runCollectorHandler handles POST /api/v1/collector/run. The sweep runs
// synchronously under a collector ledger entry; manual runs do not take the
// scheduler lease.
func (s *Server) runCollectorHandler(c *gin.Context) {
	jobID, summary, err := s.jobs.RunCollector(c.Request.Context(), models.TriggerManual)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, CollectorRunResponse{
		Status:  "collection completed",
		JobID:   jobID,
		Summary: summary,
	})
}

// runMitreSyncHandler handles POST /api/v1/mitre/sync. Both catalog phases
// run synchronously under a mitre_sync ledger entry.
func (s *Server) runMitreSyncHandler(c *gin.Context) {
	jobID, result, err := s.jobs.RunMitreSync(c.Request.Context(), models.TriggerManual)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MitreSyncResponse{
		Status:  "ok",
		JobID:   jobID,
		Created: result.Created,
		Updated: result.Updated,
	})
}
