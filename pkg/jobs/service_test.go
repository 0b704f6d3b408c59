package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelwatch/ttpmon/pkg/catalog"
	"github.com/intelwatch/ttpmon/pkg/collector"
	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/reconcile"
	"github.com/intelwatch/ttpmon/pkg/store"
	testutil "github.com/intelwatch/ttpmon/test/util"
)

type stubRunner struct {
	summary *collector.Summary
	err     error
}

func (s *stubRunner) Run(ctx context.Context, progress collector.ProgressFunc) (*collector.Summary, error) {
	if s.err != nil {
		return nil, s.err
	}
	if progress != nil {
		progress(0, s.summary.TotalActors, "")
		for i := 1; i <= s.summary.Processed; i++ {
			progress(i, s.summary.TotalActors, fmt.Sprintf("scan:actor-%d:ok", i))
		}
	}
	return s.summary, nil
}

type stubEngine struct {
	outcome reconcile.Outcome
}

func (s *stubEngine) Reconcile(ctx context.Context, actor *models.ThreatActor, now time.Time) reconcile.Outcome {
	return s.outcome
}

type stubSyncer struct {
	loadErr error
	syncErr error
	sync    catalog.SyncResult
}

func (s *stubSyncer) LoadLegacy(ctx context.Context) (catalog.LoadResult, error) {
	if s.loadErr != nil {
		return catalog.LoadResult{}, s.loadErr
	}
	return catalog.LoadResult{Created: 3, Total: 3}, nil
}

func (s *stubSyncer) SyncSTIX(ctx context.Context) (catalog.SyncResult, error) {
	if s.syncErr != nil {
		return catalog.SyncResult{}, s.syncErr
	}
	return s.sync, nil
}

func newTestService(t *testing.T, runner CollectionRunner, engine ActorReconciler, syncer CatalogSyncer) (*Service, *store.Store) {
	t.Helper()
	s := store.New(testutil.SetupTestDatabase(t))
	if runner == nil {
		runner = &stubRunner{summary: &collector.Summary{}}
	}
	if engine == nil {
		engine = &stubEngine{outcome: reconcile.Outcome{Status: reconcile.StatusOK}}
	}
	if syncer == nil {
		syncer = &stubSyncer{}
	}
	return NewService(s, runner, engine, syncer, nil), s
}

func TestRunCollectorLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	runner := &stubRunner{summary: &collector.Summary{
		TotalActors: 2, Processed: 2, Scanned: 2, Skipped: 0, Errors: 0, CountriesEvaluated: 1,
	}}
	svc, _ := newTestService(t, runner, nil, nil)

	jobID, summary, err := svc.RunCollector(ctx, models.TriggerManual)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
	assert.Equal(t, 2, summary.Scanned)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeCollector, job.JobType)
	assert.Equal(t, models.TriggerManual, job.Trigger)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
	assert.Equal(t, 2, job.TotalItems)
	assert.Equal(t, 2, job.ProcessedItems)
	require.NotNil(t, job.Details)
	assert.Equal(t, "scanned=2 skipped=0 errors=0", *job.Details)
	assert.Nil(t, job.Error)
	require.NotNil(t, job.FinishedAt)
	require.NotNil(t, job.ProgressPct)
	assert.Equal(t, 100.0, *job.ProgressPct)
}

func TestRunCollectorFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	runner := &stubRunner{err: errors.New("database unavailable")}
	svc, _ := newTestService(t, runner, nil, nil)

	jobID, summary, err := svc.RunCollector(ctx, models.TriggerScheduler)
	require.Error(t, err)
	assert.Nil(t, summary)
	require.NotEmpty(t, jobID)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "database unavailable", *job.Error)
	require.NotNil(t, job.FinishedAt)
}

func TestRunActorScan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	engine := &stubEngine{outcome: reconcile.Outcome{
		Status: reconcile.StatusOK, Source: reconcile.SourceAttackTechniques, Total: 3, Inserted: 1,
	}}
	svc, s := newTestService(t, nil, engine, nil)
	actor, err := s.CreateActor(ctx, models.CreateActorRequest{Name: "APT-Condor", Country: "CO"})
	require.NoError(t, err)

	jobID, outcome, err := svc.RunActorScan(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusOK, outcome.Status)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeActorScan, job.JobType)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
	require.NotNil(t, job.ActorID)
	assert.Equal(t, actor.ID, *job.ActorID)
	require.NotNil(t, job.ActorName)
	assert.Equal(t, "APT-Condor", *job.ActorName)
	assert.Equal(t, 1, job.TotalItems)
	assert.Equal(t, 1, job.ProcessedItems)
	require.NotNil(t, job.Details)
	assert.Equal(t, "source=attack_techniques total=3", *job.Details)
}

func TestRunActorScanFailureOutcome(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	engine := &stubEngine{outcome: reconcile.Outcome{Status: reconcile.StatusError, Err: reconcile.KindNotFound}}
	svc, s := newTestService(t, nil, engine, nil)
	actor, err := s.CreateActor(ctx, models.CreateActorRequest{Name: "Ghost Crew", Country: "CO"})
	require.NoError(t, err)

	// A failed reconciliation is a job failure, not an execution error.
	jobID, outcome, err := svc.RunActorScan(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusError, outcome.Status)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "NOT_FOUND", *job.Error)
	require.NotNil(t, job.Details)
	assert.Equal(t, "scan:Ghost Crew:error", *job.Details)
}

func TestRunMitreSync(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	syncer := &stubSyncer{sync: catalog.SyncResult{Created: 2, Updated: 5}}
	svc, _ := newTestService(t, nil, nil, syncer)

	jobID, result, err := svc.RunMitreSync(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 5, result.Updated)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeMitreSync, job.JobType)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
	assert.Equal(t, 2, job.TotalItems)
	assert.Equal(t, 2, job.ProcessedItems)
	require.NotNil(t, job.Details)
	assert.Equal(t, "updated=5 created=2", *job.Details)
}

func TestRunMitreSyncPhaseFailures(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	svc, _ := newTestService(t, nil, nil, &stubSyncer{loadErr: errors.New("bundle host returned HTTP 502")})
	jobID, _, err := svc.RunMitreSync(ctx, models.TriggerScheduler)
	require.Error(t, err)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "load_mitre:")
	assert.Equal(t, 0, job.ProcessedItems)

	svc, _ = newTestService(t, nil, nil, &stubSyncer{syncErr: errors.New("bundle host returned HTTP 502")})
	jobID, _, err = svc.RunMitreSync(ctx, models.TriggerScheduler)
	require.Error(t, err)

	job, err = svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "sync_mitre_from_github:")
	// The first phase completed before the second failed.
	assert.Equal(t, 1, job.ProcessedItems)
}

func TestFinishErrorTruncatesLongMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	runner := &stubRunner{err: errors.New(strings.Repeat("x", 1500))}
	svc, _ := newTestService(t, runner, nil, nil)

	jobID, _, err := svc.RunCollector(ctx, models.TriggerManual)
	require.Error(t, err)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job.Error)
	assert.Len(t, *job.Error, 1000)
}

func TestFinishErrorTruncatesOnRuneBoundary(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	// Three-byte runes put the 1000-byte cut mid-rune; the stored text must
	// still be valid UTF-8 or Postgres refuses the row and it stays RUNNING.
	runner := &stubRunner{err: errors.New(strings.Repeat("データベース接続失敗", 45))}
	svc, _ := newTestService(t, runner, nil, nil)

	jobID, _, err := svc.RunCollector(ctx, models.TriggerManual)
	require.Error(t, err)

	job, err := svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	require.NotNil(t, job.Error)
	assert.True(t, utf8.ValidString(*job.Error))
	assert.LessOrEqual(t, len(*job.Error), 1000)
}

func TestListJobsFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	svc, _ := newTestService(t, &stubRunner{summary: &collector.Summary{TotalActors: 1, Processed: 1, Scanned: 1}}, nil, &stubSyncer{})

	_, _, err := svc.RunCollector(ctx, models.TriggerManual)
	require.NoError(t, err)
	_, _, err = svc.RunMitreSync(ctx, models.TriggerManual)
	require.NoError(t, err)

	all, err := svc.ListJobs(ctx, 50, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	collectors, err := svc.ListJobs(ctx, 50, "", models.JobTypeCollector)
	require.NoError(t, err)
	require.Len(t, collectors, 1)
	assert.Equal(t, models.JobTypeCollector, collectors[0].JobType)

	succeeded, err := svc.ListJobs(ctx, 50, models.JobStatusSuccess, "")
	require.NoError(t, err)
	assert.Len(t, succeeded, 2)
}

func TestSweepOrphans(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	svc, s := newTestService(t, nil, nil, nil)

	stale := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.CreateJobRun(ctx, &models.JobRun{
		ID:        "dead-beef",
		JobType:   models.JobTypeCollector,
		Trigger:   models.TriggerScheduler,
		Status:    models.JobStatusRunning,
		StartedAt: stale,
		UpdatedAt: stale,
	}))

	n, err := svc.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, err := svc.GetJob(ctx, "dead-beef")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "orphaned: no progress heartbeat", *job.Error)
}

func TestToResponseProgressPct(t *testing.T) {
	resp := ToResponse(models.JobRun{TotalItems: 0, ProcessedItems: 0})
	assert.Nil(t, resp.ProgressPct)

	resp = ToResponse(models.JobRun{TotalItems: 2, ProcessedItems: 1})
	require.NotNil(t, resp.ProgressPct)
	assert.Equal(t, 50.0, *resp.ProgressPct)

	resp = ToResponse(models.JobRun{TotalItems: 3, ProcessedItems: 2})
	require.NotNil(t, resp.ProgressPct)
	assert.Equal(t, 66.67, *resp.ProgressPct)
}
