// Package scheduler runs the time-of-day dispatch loops for scheduled
// collection runs and MITRE catalog refreshes. Cross-process coordination is
// the row lease in the schedule config tables; an in-process try-lock only
// keeps one goroutine from racing the lease grab, and is released before the
// dispatched job starts working.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/intelwatch/ttpmon/pkg/catalog"
	"github.com/intelwatch/ttpmon/pkg/collector"
	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/store"
)

const (
	collectorInitialDelay = 3 * time.Second
	collectorTickEvery    = 30 * time.Second
	collectorLease        = 30 * time.Minute

	mitreInitialDelay = 5 * time.Second
	mitreTickEvery    = 60 * time.Second
	mitreLease        = 60 * time.Minute
)

// JobService is the slice of the job runner the scheduler dispatches to.
// Satisfied by *jobs.Service.
type JobService interface {
	RunCollector(ctx context.Context, trigger models.JobTrigger) (string, *collector.Summary, error)
	RunMitreSync(ctx context.Context, trigger models.JobTrigger) (string, *catalog.SyncResult, error)
}

// Scheduler owns the two dispatch loops. Configured slots are interpreted in
// the operator timezone; lease timestamps are UTC.
type Scheduler struct {
	store  *store.Store
	jobs   JobService
	loc    *time.Location
	logger *slog.Logger

	collectorMu sync.Mutex
	mitreMu     sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the scheduler.
func New(st *store.Store, jobSvc JobService) *Scheduler {
	if st == nil {
		panic("scheduler.New: store must not be nil")
	}
	if jobSvc == nil {
		panic("scheduler.New: jobs must not be nil")
	}
	return &Scheduler{
		store:  st,
		jobs:   jobSvc,
		loc:    Location(),
		logger: slog.Default(),
	}
}

// Start launches both dispatch loops.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Schedulers started",
		"collector_tick", collectorTickEvery,
		"mitre_tick", mitreTickEvery,
		"timezone", s.loc.String())
}

// Stop signals both loops to exit and waits for them to finish. In-flight
// jobs are not cancelled; the lease expiry covers a worker that dies mid-run.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Schedulers stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, collectorInitialDelay, collectorTickEvery, s.collectorTick)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, mitreInitialDelay, mitreTickEvery, s.mitreTick)
	}()
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, initial, every time.Duration, tick func(ctx context.Context)) {
	timer := time.NewTimer(initial)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	tick(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (s *Scheduler) collectorTick(ctx context.Context) {
	cfg, err := s.store.GetOrCreateScheduleConfig(ctx)
	if err != nil {
		s.logger.Error("Collector schedule read failed", "error", err)
		return
	}
	if !cfg.Enabled {
		return
	}
	slot, ok := ParseHHMM(cfg.TimeHHMM)
	if !ok {
		s.logger.Warn("Collector schedule has an unparseable time", "time_hhmm", cfg.TimeHHMM)
		return
	}

	now := time.Now()
	local := now.In(s.loc)
	if !dayListContains(cfg.Days, WeekdayKey(local.Weekday())) {
		return
	}
	if local.Format("15:04") != slot {
		return
	}
	if coversSlot(cfg.LastRunAt, now, slot, s.loc) {
		return
	}

	s.dispatch(&s.collectorMu, func() (bool, error) {
		return s.store.AcquireScheduleLease(ctx, cfg.ID, time.Now().UTC(), collectorLease)
	}, func() {
		s.runCollectorJob(cfg.ID)
	})
}

func (s *Scheduler) mitreTick(ctx context.Context) {
	cfg, err := s.store.GetOrCreateMitreSyncConfig(ctx)
	if err != nil {
		s.logger.Error("MITRE sync schedule read failed", "error", err)
		return
	}
	if !cfg.Enabled {
		return
	}
	slot, ok := ParseHHMM(cfg.TimeHHMM)
	if !ok {
		s.logger.Warn("MITRE sync schedule has an unparseable time", "time_hhmm", cfg.TimeHHMM)
		return
	}

	now := time.Now()
	local := now.In(s.loc)
	if WeekdayKey(local.Weekday()) != strings.ToLower(strings.TrimSpace(cfg.DayOfWeek)) {
		return
	}
	if local.Format("15:04") != slot {
		return
	}
	if coversSlot(cfg.LastRunAt, now, slot, s.loc) {
		return
	}

	s.dispatch(&s.mitreMu, func() (bool, error) {
		return s.store.AcquireMitreSyncLease(ctx, cfg.ID, time.Now().UTC(), mitreLease)
	}, func() {
		s.runMitreJob(cfg.ID)
	})
}

// dispatch serialises one launch: the try-lock is held only across the lease
// grab and the goroutine start, never across the job itself. Losing either
// guard means another worker (or this one) already owns the slot.
func (s *Scheduler) dispatch(mu *sync.Mutex, acquire func() (bool, error), run func()) {
	if !mu.TryLock() {
		return
	}
	defer mu.Unlock()

	won, err := acquire()
	if err != nil {
		s.logger.Error("Lease acquisition failed", "error", err)
		return
	}
	if !won {
		return
	}
	go run()
}

// runCollectorJob executes a scheduled collection run to completion. The job
// deliberately detaches from the loop context so shutdown does not abort a
// run in flight.
func (s *Scheduler) runCollectorJob(configID int64) {
	ctx := context.Background()
	if _, _, err := s.jobs.RunCollector(ctx, models.TriggerScheduler); err != nil {
		s.logger.Error("Scheduled collection run failed", "error", err)
	}
	// Completion always advances last_run_at, success or not, so a failing
	// job cannot refire all day inside its slot.
	if err := s.store.CompleteScheduleRun(ctx, configID, time.Now().UTC()); err != nil {
		s.logger.Error("Collector lease release failed", "error", err)
	}
}

func (s *Scheduler) runMitreJob(configID int64) {
	ctx := context.Background()
	if _, _, err := s.jobs.RunMitreSync(ctx, models.TriggerScheduler); err != nil {
		s.logger.Error("Scheduled MITRE sync failed", "error", err)
	}
	if err := s.store.CompleteMitreSyncRun(ctx, configID, time.Now().UTC()); err != nil {
		s.logger.Error("MITRE sync lease release failed", "error", err)
	}
}

// coversSlot reports whether the recorded last run already served this slot:
// same calendar date and same HH:MM in the schedule timezone.
func coversSlot(lastRunAt *time.Time, now time.Time, slot string, loc *time.Location) bool {
	if lastRunAt == nil {
		return false
	}
	last := lastRunAt.In(loc)
	local := now.In(loc)
	ly, lm, ld := last.Date()
	ny, nm, nd := local.Date()
	return ly == ny && lm == nm && ld == nd && last.Format("15:04") == slot
}

func dayListContains(days, key string) bool {
	for _, d := range strings.Split(days, ",") {
		if strings.ToLower(strings.TrimSpace(d)) == key {
			return true
		}
	}
	return false
}
