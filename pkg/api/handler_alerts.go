package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/store"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 500
	alertEvidenceMax  = 3
)

// listAlertsHandler handles GET /api/v1/alerts. Alerts come back newest
// first, enriched with the pair's current counters, the thresholds in force,
// and recent evidence.
func (s *Server) listAlertsHandler(c *gin.Context) {
	limit := defaultAlertLimit
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
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	alerts, err := s.store.ListAlerts(c.Request.Context(), limit)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	out := make([]models.AlertDetail, 0, len(alerts))
	for _, a := range alerts {
		detail, err := s.enrichAlert(c.Request.Context(), a)
		if err != nil {
			s.writeServiceError(c, err)
			return
		}
		out = append(out, detail)
	}
	c.JSON(http.StatusOK, out)
}

// enrichAlert resolves the display fields of one alert. Referenced rows that
// no longer exist are skipped, leaving the matching fields empty; risk-change
// alerts carry no actor or technique and pass through untouched.
func (s *Server) enrichAlert(ctx context.Context, a models.Alert) (models.AlertDetail, error) {
	detail := models.AlertDetail{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		Severity:    a.Severity,
		CreatedAt:   s.display(a.CreatedAt),
	}

	var tech *models.Technique
	if a.ActorID != nil {
		actor, err := s.store.GetActor(ctx, *a.ActorID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return detail, err
		}
		if err == nil {
			detail.Actor = actor.Name
		}
	}
	if a.TechniqueID != nil {
		t, err := s.store.GetTechniqueByID(ctx, *a.TechniqueID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return detail, err
		}
		if err == nil {
			tech = t
			detail.Technique = t.Code
			detail.TechniqueName = t.Name
			detail.Tactic = t.Tactics
		}
	}
	if a.ActorID == nil || a.TechniqueID == nil {
		return detail, nil
	}

	rec, err := s.store.GetPresence(ctx, *a.ActorID, *a.TechniqueID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return detail, err
	}
	if err == nil {
		sightings := rec.SightingsCount
		seenDays := rec.SeenDaysCount
		detail.SightingsCount = &sightings
		detail.SeenDaysCount = &seenDays
		if tech != nil {
			minSightings, minDays, reason := s.thresholds.Resolve(tech.Code, tech.Tactics)
			detail.Thresholds = &models.AlertThresholds{
				MinSightings:    minSightings,
				MinDistinctDays: minDays,
				Reason:          reason,
			}
		}
	}

	eventType, err := s.store.LatestEventTypeAt(ctx, *a.ActorID, *a.TechniqueID, a.CreatedAt)
	if err != nil {
		return detail, err
	}
	detail.LastEventType = eventType

	hashes, err := s.store.NewestEvidenceHashes(ctx, *a.ActorID, *a.TechniqueID, alertEvidenceMax)
	if err != nil {
		return detail, err
	}
	detail.Evidence = hashes
	return detail, nil
}
