// Package jobs runs collection and catalog work under a persistent ledger:
// every execution gets a JobRun row with live progress markers, a terminal
// status, and enough detail to audit it afterwards.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/intelwatch/ttpmon/pkg/catalog"
	"github.com/intelwatch/ttpmon/pkg/collector"
	"github.com/intelwatch/ttpmon/pkg/metrics"
	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/reconcile"
	"github.com/intelwatch/ttpmon/pkg/store"
)

const (
	// errorTextLimit caps stored failure messages.
	errorTextLimit = 1000

	// orphanCutoff is how stale a RUNNING heartbeat may get before startup
	// recovery declares the job dead. Matches the longest scheduler lease.
	orphanCutoff = 60 * time.Minute
)

// CollectionRunner runs a full collection sweep. Satisfied by
// *collector.Runner.
type CollectionRunner interface {
	Run(ctx context.Context, progress collector.ProgressFunc) (*collector.Summary, error)
}

// ActorReconciler scans a single actor. Satisfied by *reconcile.Engine.
type ActorReconciler interface {
	Reconcile(ctx context.Context, actor *models.ThreatActor, now time.Time) reconcile.Outcome
}

// CatalogSyncer refreshes the technique catalog. Satisfied by
// *catalog.Syncer.
type CatalogSyncer interface {
	LoadLegacy(ctx context.Context) (catalog.LoadResult, error)
	SyncSTIX(ctx context.Context) (catalog.SyncResult, error)
}

// Service executes jobs and keeps their ledger rows current.
type Service struct {
	store   *store.Store
	runner  CollectionRunner
	engine  ActorReconciler
	syncer  CatalogSyncer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService creates the job service. m may be nil.
func NewService(st *store.Store, runner CollectionRunner, engine ActorReconciler, syncer CatalogSyncer, m *metrics.Metrics) *Service {
	if st == nil {
		panic("jobs.NewService: store must not be nil")
	}
	if runner == nil {
		panic("jobs.NewService: runner must not be nil")
	}
	if engine == nil {
		panic("jobs.NewService: engine must not be nil")
	}
	if syncer == nil {
		panic("jobs.NewService: syncer must not be nil")
	}
	return &Service{
		store:   st,
		runner:  runner,
		engine:  engine,
		syncer:  syncer,
		metrics: m,
		logger:  slog.Default(),
	}
}

// RunCollector executes a full collection sweep under a ledger entry and
// returns the job id alongside the run summary.
func (s *Service) RunCollector(ctx context.Context, trigger models.JobTrigger) (string, *collector.Summary, error) {
	jr, err := s.start(ctx, models.JobTypeCollector, trigger, nil, 0)
	if err != nil {
		return "", nil, err
	}
	startedAt := time.Now()

	summary, err := s.runner.Run(ctx, func(processed, total int, details string) {
		s.progress(ctx, jr.ID, processed, total, details)
	})
	s.metrics.RecordJobDuration(string(models.JobTypeCollector), time.Since(startedAt))
	if err != nil {
		s.metrics.RecordCollectionRun(string(trigger), "error")
		s.finishError(ctx, jr.ID, err)
		return jr.ID, nil, err
	}

	s.metrics.RecordCollectionRun(string(trigger), "ok")
	s.finishSuccess(ctx, jr.ID, fmt.Sprintf("scanned=%d skipped=%d errors=%d",
		summary.Scanned, summary.Skipped, summary.Errors))
	return jr.ID, summary, nil
}

// RunActorScan reconciles one actor immediately, bypassing the collection
// throttle. A reconciliation error outcome fails the job but is not an
// execution error: the outcome carries the detail.
func (s *Service) RunActorScan(ctx context.Context, actor *models.ThreatActor) (string, reconcile.Outcome, error) {
	jr, err := s.start(ctx, models.JobTypeActorScan, models.TriggerManual, actor, 1)
	if err != nil {
		return "", reconcile.Outcome{}, err
	}
	startedAt := time.Now()
	s.progress(ctx, jr.ID, 0, 1, fmt.Sprintf("scan:%s:start", actor.Name))

	outcome := s.engine.Reconcile(ctx, actor, time.Now().UTC())
	s.metrics.RecordJobDuration(string(models.JobTypeActorScan), time.Since(startedAt))
	s.progress(ctx, jr.ID, 1, 1, fmt.Sprintf("scan:%s:%s", actor.Name, outcome.Status))

	if outcome.Status != reconcile.StatusOK {
		s.metrics.RecordActorScan("error")
		s.finishError(ctx, jr.ID, errors.New(outcome.Err))
		return jr.ID, outcome, nil
	}
	s.metrics.RecordActorScan("ok")
	s.finishSuccess(ctx, jr.ID, fmt.Sprintf("source=%s total=%d", outcome.Source, outcome.Total))
	return jr.ID, outcome, nil
}

// RunMitreSync refreshes the technique catalog in two phases: the legacy
// bundle import (create-only), then the STIX upsert sync. The failing phase
// is named in the job error.
func (s *Service) RunMitreSync(ctx context.Context, trigger models.JobTrigger) (string, *catalog.SyncResult, error) {
	jr, err := s.start(ctx, models.JobTypeMitreSync, trigger, nil, 2)
	if err != nil {
		return "", nil, err
	}
	startedAt := time.Now()

	s.progress(ctx, jr.ID, 0, 2, "load_mitre:start")
	if _, err := s.syncer.LoadLegacy(ctx); err != nil {
		s.metrics.RecordMitreSyncRun("error")
		s.metrics.RecordJobDuration(string(models.JobTypeMitreSync), time.Since(startedAt))
		wrapped := fmt.Errorf("load_mitre: %w", err)
		s.finishError(ctx, jr.ID, wrapped)
		return jr.ID, nil, wrapped
	}

	s.progress(ctx, jr.ID, 1, 2, "sync_mitre_from_github:start")
	result, err := s.syncer.SyncSTIX(ctx)
	s.metrics.RecordJobDuration(string(models.JobTypeMitreSync), time.Since(startedAt))
	if err != nil {
		s.metrics.RecordMitreSyncRun("error")
		wrapped := fmt.Errorf("sync_mitre_from_github: %w", err)
		s.finishError(ctx, jr.ID, wrapped)
		return jr.ID, nil, wrapped
	}

	s.metrics.RecordMitreSyncRun("ok")
	s.progress(ctx, jr.ID, 2, 2, "mitre sync done")
	s.finishSuccess(ctx, jr.ID, fmt.Sprintf("updated=%d created=%d", result.Updated, result.Created))
	return jr.ID, &result, nil
}

// GetJob returns one ledger row with its computed progress percentage.
func (s *Service) GetJob(ctx context.Context, id string) (*models.JobResponse, error) {
	jr, err := s.store.GetJobRun(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToResponse(*jr)
	return &resp, nil
}

// ListJobs returns ledger rows newest first, optionally filtered.
func (s *Service) ListJobs(ctx context.Context, limit int, status models.JobStatus, jobType models.JobType) ([]models.JobResponse, error) {
	runs, err := s.store.ListJobRuns(ctx, limit, status, jobType)
	if err != nil {
		return nil, err
	}
	out := make([]models.JobResponse, 0, len(runs))
	for _, jr := range runs {
		out = append(out, ToResponse(jr))
	}
	return out, nil
}

// SweepOrphans fails RUNNING ledger rows whose heartbeat went quiet for the
// whole orphan cutoff. Called once at startup, before the schedulers start.
func (s *Service) SweepOrphans(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	n, err := s.store.MarkOrphanedJobRuns(ctx, now.Add(-orphanCutoff), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("Recovered orphaned job runs", "count", n)
	}
	return n, nil
}

// ToResponse attaches the completion percentage to a ledger row. The
// percentage is nil when the total is unknown.
func ToResponse(jr models.JobRun) models.JobResponse {
	resp := models.JobResponse{JobRun: jr}
	if jr.TotalItems > 0 {
		pct := math.Round(float64(jr.ProcessedItems)/float64(jr.TotalItems)*10000) / 100
		resp.ProgressPct = &pct
	}
	return resp
}

func (s *Service) start(ctx context.Context, jobType models.JobType, trigger models.JobTrigger, actor *models.ThreatActor, total int) (*models.JobRun, error) {
	now := time.Now().UTC()
	jr := &models.JobRun{
		ID:         uuid.New().String(),
		JobType:    jobType,
		Trigger:    trigger,
		Status:     models.JobStatusRunning,
		TotalItems: total,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	if actor != nil {
		jr.ActorID = &actor.ID
		jr.ActorName = &actor.Name
	}
	if err := s.store.CreateJobRun(ctx, jr); err != nil {
		return nil, err
	}
	s.logger.Info("Job started", "job_id", jr.ID, "job_type", jobType, "trigger", trigger)
	return jr, nil
}

// progress best-effort updates the ledger; the job outlives a failed marker.
func (s *Service) progress(ctx context.Context, id string, processed, total int, details string) {
	var d *string
	if details != "" {
		d = &details
	}
	if err := s.store.UpdateJobProgress(ctx, id, processed, total, d, time.Now().UTC()); err != nil {
		s.logger.Warn("Job progress update failed", "job_id", id, "error", err)
	}
}

func (s *Service) finishSuccess(ctx context.Context, id string, details string) {
	var d *string
	if details != "" {
		d = &details
	}
	if err := s.store.FinishJobRun(ctx, id, models.JobStatusSuccess, d, nil, time.Now().UTC()); err != nil {
		s.logger.Error("Job completion update failed", "job_id", id, "error", err)
	}
	s.logger.Info("Job finished", "job_id", id, "status", models.JobStatusSuccess)
}

func (s *Service) finishError(ctx context.Context, id string, jobErr error) {
	text := jobErr.Error()
	if len(text) > errorTextLimit {
		// The cut can land mid-rune; Postgres rejects invalid UTF-8.
		text = strings.ToValidUTF8(text[:errorTextLimit], "")
	}
	if err := s.store.FinishJobRun(ctx, id, models.JobStatusError, nil, &text, time.Now().UTC()); err != nil {
		s.logger.Error("Job completion update failed", "job_id", id, "error", err)
	}
	s.logger.Warn("Job failed", "job_id", id, "error", text)
}
