// Package api is the operator HTTP surface: actor registry management,
// manual job triggers, the job ledger, alert and timeline reads, and the
// runtime schedule configuration.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intelwatch/ttpmon/pkg/catalog"
	"github.com/intelwatch/ttpmon/pkg/collector"
	"github.com/intelwatch/ttpmon/pkg/config"
	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/reconcile"
	"github.com/intelwatch/ttpmon/pkg/scheduler"
	"github.com/intelwatch/ttpmon/pkg/store"
)

// JobService runs jobs under ledger entries and reads the ledger back.
// Satisfied by *jobs.Service.
type JobService interface {
	RunCollector(ctx context.Context, trigger models.JobTrigger) (string, *collector.Summary, error)
	RunActorScan(ctx context.Context, actor *models.ThreatActor) (string, reconcile.Outcome, error)
	RunMitreSync(ctx context.Context, trigger models.JobTrigger) (string, *catalog.SyncResult, error)
	GetJob(ctx context.Context, id string) (*models.JobResponse, error)
	ListJobs(ctx context.Context, limit int, status models.JobStatus, jobType models.JobType) ([]models.JobResponse, error)
}

// Server is the operator HTTP API.
type Server struct {
	store      *store.Store
	db         *sql.DB
	jobs       JobService
	thresholds config.Thresholds
	registry   *prometheus.Registry
	loc        *time.Location
	logger     *slog.Logger

	httpServer *http.Server
}

// NewServer creates the API server. registry may be nil, which disables the
// /metrics endpoint.
func NewServer(st *store.Store, db *sql.DB, jobSvc JobService, thresholds config.Thresholds, registry *prometheus.Registry) *Server {
	if st == nil {
		panic("api.NewServer: store must not be nil")
	}
	if jobSvc == nil {
		panic("api.NewServer: job service must not be nil")
	}
	return &Server{
		store:      st,
		db:         db,
		jobs:       jobSvc,
		thresholds: thresholds,
		registry:   registry,
		loc:        scheduler.Location(),
		logger:     slog.Default(),
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.requestLogger(), gin.Recovery(), securityHeaders())

	r.GET("/", s.rootHandler)
	r.GET("/health", s.healthHandler)
	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/actors", s.createActorHandler)
		v1.GET("/actors", s.listActorsHandler)
		v1.PUT("/actors/:id", s.updateActorHandler)
		v1.PATCH("/actors/:id/active", s.setActorActiveHandler)
		v1.DELETE("/actors/:id", s.deleteActorHandler)
		v1.POST("/actors/:id/scan", s.scanActorHandler)
		v1.GET("/actors/:id/timeline", s.actorTimelineHandler)

		v1.GET("/alerts", s.listAlertsHandler)

		v1.GET("/jobs", s.listJobsHandler)
		v1.GET("/jobs/:id", s.getJobHandler)

		v1.GET("/schedule", s.getScheduleHandler)
		v1.PUT("/schedule", s.updateScheduleHandler)
		v1.GET("/mitre/schedule", s.getMitreScheduleHandler)
		v1.PUT("/mitre/schedule", s.updateMitreScheduleHandler)

		v1.POST("/collector/run", s.runCollectorHandler)
		v1.POST("/mitre/sync", s.runMitreSyncHandler)
	}

	return r
}

// Start blocks serving HTTP on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// display converts a stored UTC timestamp to the operator display zone.
func (s *Server) display(t time.Time) time.Time {
	return t.In(s.loc)
}

func (s *Server) displayPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	local := t.In(s.loc)
	return &local
}
