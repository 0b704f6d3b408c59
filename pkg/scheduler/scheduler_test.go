package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelwatch/ttpmon/pkg/catalog"
	"github.com/intelwatch/ttpmon/pkg/collector"
	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/store"
	testutil "github.com/intelwatch/ttpmon/test/util"
)

type stubJobs struct {
	collectorErr  error
	mitreErr      error
	collectorRuns atomic.Int32
	mitreRuns     atomic.Int32
}

func (s *stubJobs) RunCollector(ctx context.Context, trigger models.JobTrigger) (string, *collector.Summary, error) {
	s.collectorRuns.Add(1)
	if s.collectorErr != nil {
		return "job-1", nil, s.collectorErr
	}
	return "job-1", &collector.Summary{}, nil
}

func (s *stubJobs) RunMitreSync(ctx context.Context, trigger models.JobTrigger) (string, *catalog.SyncResult, error) {
	s.mitreRuns.Add(1)
	if s.mitreErr != nil {
		return "job-2", nil, s.mitreErr
	}
	return "job-2", &catalog.SyncResult{}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(testutil.SetupTestDatabase(t))
}

func TestParseHHMM(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"06:00", "06:00", true},
		{"6:5", "06:05", true},
		{" 23:59 ", "23:59", true},
		{"0:0", "00:00", true},
		{"24:00", "", false},
		{"12:60", "", false},
		{"-1:30", "", false},
		{"noon", "", false},
		{"12", "", false},
		{"12:00:00", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseHHMM(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestWeekdayKey(t *testing.T) {
	assert.Equal(t, "sun", WeekdayKey(time.Sunday))
	assert.Equal(t, "mon", WeekdayKey(time.Monday))
	assert.Equal(t, "sat", WeekdayKey(time.Saturday))
}

func TestValidDayKey(t *testing.T) {
	assert.True(t, ValidDayKey("mon"))
	assert.True(t, ValidDayKey(" SUN "))
	assert.False(t, ValidDayKey("monday"))
	assert.False(t, ValidDayKey(""))
}

func TestDayListContains(t *testing.T) {
	assert.True(t, dayListContains("mon,tue,wed,thu,fri", "tue"))
	assert.True(t, dayListContains(" MON , TUE", "tue"))
	assert.False(t, dayListContains("mon,tue,wed,thu,fri", "sun"))
	assert.False(t, dayListContains("", "mon"))
}

func TestCoversSlot(t *testing.T) {
	loc := Location()

	assert.False(t, coversSlot(nil, time.Now(), "06:00", loc))

	// 11:00 UTC is 06:00 in Bogotá.
	lastRun := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 2, 11, 30, 0, 0, time.UTC)
	assert.True(t, coversSlot(&lastRun, now, "06:00", loc))

	// Same clock time the day before does not cover today's slot.
	dayBefore := lastRun.Add(-24 * time.Hour)
	assert.False(t, coversSlot(&dayBefore, now, "06:00", loc))

	// A run recorded for a different slot does not cover this one.
	assert.False(t, coversSlot(&lastRun, now, "07:00", loc))
}

func TestDispatchLeaseCollision(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	cfg, err := s.GetOrCreateScheduleConfig(ctx)
	require.NoError(t, err)

	sched := New(s, &stubJobs{})
	ran := make(chan struct{}, 2)
	acquire := func() (bool, error) {
		return s.AcquireScheduleLease(ctx, cfg.ID, time.Now().UTC(), collectorLease)
	}

	// Two dispatches race for the same slot: the row count decides, so
	// exactly one runs.
	sched.dispatch(&sched.collectorMu, acquire, func() { ran <- struct{}{} })
	sched.dispatch(&sched.collectorMu, acquire, func() { ran <- struct{}{} })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("winning dispatch never ran")
	}
	select {
	case <-ran:
		t.Fatal("losing dispatch ran anyway")
	case <-time.After(100 * time.Millisecond):
	}

	// Completion releases the lease for the next slot.
	require.NoError(t, s.CompleteScheduleRun(ctx, cfg.ID, time.Now().UTC()))
	sched.dispatch(&sched.collectorMu, acquire, func() { ran <- struct{}{} })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch after release never ran")
	}
}

func TestRunCollectorJobAlwaysReleasesLease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	cfg, err := s.GetOrCreateScheduleConfig(ctx)
	require.NoError(t, err)

	jobsStub := &stubJobs{collectorErr: errors.New("feed exploded")}
	sched := New(s, jobsStub)

	won, err := s.AcquireScheduleLease(ctx, cfg.ID, time.Now().UTC(), collectorLease)
	require.NoError(t, err)
	require.True(t, won)

	// Even a failing run releases the lease and pins the slot.
	sched.runCollectorJob(cfg.ID)
	assert.Equal(t, int32(1), jobsStub.collectorRuns.Load())

	after, err := s.GetOrCreateScheduleConfig(ctx)
	require.NoError(t, err)
	assert.False(t, after.Running)
	assert.Nil(t, after.LockUntil)
	require.NotNil(t, after.LastRunAt)
	assert.WithinDuration(t, time.Now().UTC(), *after.LastRunAt, 5*time.Second)
}

func TestRunMitreJobAlwaysReleasesLease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	cfg, err := s.GetOrCreateMitreSyncConfig(ctx)
	require.NoError(t, err)

	jobsStub := &stubJobs{mitreErr: errors.New("bundle host returned HTTP 502")}
	sched := New(s, jobsStub)

	won, err := s.AcquireMitreSyncLease(ctx, cfg.ID, time.Now().UTC(), mitreLease)
	require.NoError(t, err)
	require.True(t, won)

	sched.runMitreJob(cfg.ID)
	assert.Equal(t, int32(1), jobsStub.mitreRuns.Load())

	after, err := s.GetOrCreateMitreSyncConfig(ctx)
	require.NoError(t, err)
	assert.False(t, after.Running)
	assert.Nil(t, after.LockUntil)
	require.NotNil(t, after.LastRunAt)
}

func TestStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	s := newTestStore(t)
	sched := New(s, &stubJobs{})

	sched.Start(context.Background())
	// Idempotent: a second Start is a no-op.
	sched.Start(context.Background())

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
