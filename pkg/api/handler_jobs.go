package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/store"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 200
)

func (s *Server) displayJob(jr models.JobResponse) models.JobResponse {
	jr.StartedAt = s.display(jr.StartedAt)
	jr.FinishedAt = s.displayPtr(jr.FinishedAt)
	jr.UpdatedAt = s.display(jr.UpdatedAt)
	return jr
}

// listJobsHandler handles GET /api/v1/jobs. Rows come back newest first,
// optionally filtered by status and job_type.
func (s *Server) listJobsHandler(c *gin.Context) {
	limit := defaultJobLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxJobLimit {
		limit = maxJobLimit
	}

	status := models.JobStatus(strings.ToUpper(c.Query("status")))
	jobType := models.JobType(c.Query("job_type"))

	jobs, err := s.jobs.ListJobs(c.Request.Context(), limit, status, jobType)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	out := make([]models.JobResponse, 0, len(jobs))
	for _, jr := range jobs {
		out = append(out, s.displayJob(jr))
	}
	c.JSON(http.StatusOK, out)
}

// getJobHandler handles GET /api/v1/jobs/:id.
func (s *Server) getJobHandler(c *gin.Context) {
	jr, err := s.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.displayJob(*jr))
}
