package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/scheduler"
)

func (s *Server) scheduleResponse(cfg *models.ScheduleConfig) models.ScheduleResponse {
	days := make([]string, 0)
	for _, d := range strings.Split(cfg.Days, ",") {
		if d = strings.TrimSpace(d); d != "" {
			days = append(days, d)
		}
	}
	return models.ScheduleResponse{
		TimeHHMM:  cfg.TimeHHMM,
		Days:      days,
		Enabled:   cfg.Enabled,
		LastRunAt: s.displayPtr(cfg.LastRunAt),
	}
}

func (s *Server) mitreScheduleResponse(cfg *models.MitreSyncConfig) models.MitreScheduleResponse {
	return models.MitreScheduleResponse{
		DayOfWeek: cfg.DayOfWeek,
		TimeHHMM:  cfg.TimeHHMM,
		Enabled:   cfg.Enabled,
		LastRunAt: s.displayPtr(cfg.LastRunAt),
	}
}

// validateHHMM normalizes an optional HH:MM field, writing the 400 response
// itself when the value is malformed.
func validateHHMM(c *gin.Context, raw *string) (*string, bool) {
	if raw == nil {
		return nil, true
	}
	parsed, ok := scheduler.ParseHHMM(*raw)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time_hhmm must be in HH:MM 24h format"})
		return nil, false
	}
	return &parsed, true
}

// getScheduleHandler handles GET /api/v1/schedule.
func (s *Server) getScheduleHandler(c *gin.Context) {
	cfg, err := s.store.GetOrCreateScheduleConfig(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.scheduleResponse(cfg))
}

// updateScheduleHandler handles PUT /api/v1/schedule. Omitted fields keep
// their current values.
func (s *Server) updateScheduleHandler(c *gin.Context) {
	var req models.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeHHMM, ok := validateHHMM(c, req.TimeHHMM)
	if !ok {
		return
	}
	var days *string
	if req.Days != nil {
		keys := make([]string, 0, len(req.Days))
		for _, d := range req.Days {
			key := strings.ToLower(strings.TrimSpace(d))
			if !scheduler.ValidDayKey(key) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "days must be mon..sun"})
				return
			}
			keys = append(keys, key)
		}
		joined := strings.Join(keys, ",")
		days = &joined
	}

	cfg, err := s.store.GetOrCreateScheduleConfig(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	if timeHHMM != nil {
		cfg.TimeHHMM = *timeHHMM
	}
	if days != nil {
		cfg.Days = *days
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}

	updated, err := s.store.UpdateScheduleConfig(c.Request.Context(), cfg.ID, cfg.TimeHHMM, cfg.Days, cfg.Enabled, time.Now().UTC())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.scheduleResponse(updated))
}

// getMitreScheduleHandler handles GET /api/v1/mitre/schedule.
func (s *Server) getMitreScheduleHandler(c *gin.Context) {
	cfg, err := s.store.GetOrCreateMitreSyncConfig(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.mitreScheduleResponse(cfg))
}

// updateMitreScheduleHandler handles PUT /api/v1/mitre/schedule. Omitted
// fields keep their current values.
func (s *Server) updateMitreScheduleHandler(c *gin.Context) {
	var req models.UpdateMitreScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var dayOfWeek *string
	if req.DayOfWeek != nil {
		key := strings.ToLower(strings.TrimSpace(*req.DayOfWeek))
		if !scheduler.ValidDayKey(key) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day_of_week must be mon..sun"})
			return
		}
		dayOfWeek = &key
	}
	timeHHMM, ok := validateHHMM(c, req.TimeHHMM)
	if !ok {
		return
	}

	cfg, err := s.store.GetOrCreateMitreSyncConfig(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	if dayOfWeek != nil {
		cfg.DayOfWeek = *dayOfWeek
	}
	if timeHHMM != nil {
		cfg.TimeHHMM = *timeHHMM
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}

	updated, err := s.store.UpdateMitreSyncConfig(c.Request.Context(), cfg.ID, cfg.DayOfWeek, cfg.TimeHHMM, cfg.Enabled, time.Now().UTC())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.mitreScheduleResponse(updated))
}
