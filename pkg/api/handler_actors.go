package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/store"
)

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return 0, false
	}
	return id, true
}

func (s *Server) displayActor(a models.ThreatActor) models.ThreatActor {
	a.CreatedAt = s.display(a.CreatedAt)
	return a
}

// createActorHandler handles POST /api/v1/actors. Registering an external id
// that is already known revives and refreshes the stored actor instead of
// creating a duplicate.
func (s *Server) createActorHandler(c *gin.Context) {
	var req models.CreateActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, created, err := s.store.CreateOrReviveActor(c.Request.Context(), req)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, s.displayActor(*actor))
}

// listActorsHandler handles GET /api/v1/actors.
func (s *Server) listActorsHandler(c *gin.Context) {
	includeInactive := c.Query("include_inactive") == "true"

	actors, err := s.store.ListActors(c.Request.Context(), includeInactive)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	for i := range actors {
		actors[i].CreatedAt = s.display(actors[i].CreatedAt)
		actors[i].LastScanAt = s.displayPtr(actors[i].LastScanAt)
	}
	c.JSON(http.StatusOK, actors)
}

// updateActorHandler handles PUT /api/v1/actors/:id.
func (s *Server) updateActorHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req models.UpdateActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, err := s.store.UpdateActor(c.Request.Context(), id, req)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.displayActor(*actor))
}

// setActorActiveHandler handles PATCH /api/v1/actors/:id/active.
func (s *Server) setActorActiveHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req models.SetActorActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "active is required"})
		return
	}

	actor, err := s.store.SetActorActive(c.Request.Context(), id, *req.Active)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "id": actor.ID, "active": actor.Active})
}

// deleteActorHandler handles DELETE /api/v1/actors/:id. Deletion is soft:
// the actor is deactivated and keeps its technique history.
func (s *Server) deleteActorHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	actor, err := s.store.SetActorActive(c.Request.Context(), id, false)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated", "id": actor.ID})
}

// scanActorHandler handles POST /api/v1/actors/:id/scan. The scan runs
// synchronously under an actor_scan ledger entry; manual scans bypass the
// collection throttle.
func (s *Server) scanActorHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	actor, err := s.store.GetActor(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	jobID, outcome, err := s.jobs.RunActorScan(c.Request.Context(), actor)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ScanResponse{
		Status:  "ok",
		ActorID: actor.ID,
		JobID:   jobID,
		Result:  outcome,
	})
}

// actorTimelineHandler handles GET /api/v1/actors/:id/timeline.
func (s *Server) actorTimelineHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if _, err := s.store.GetActor(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
			return
		}
		s.writeServiceError(c, err)
		return
	}

	entries, err := s.store.ActorTimeline(c.Request.Context(), id)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	for i := range entries {
		entries[i].Date = s.display(entries[i].Date)
	}
	c.JSON(http.StatusOK, entries)
}
