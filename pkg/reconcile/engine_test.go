package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelwatch/ttpmon/pkg/alerting"
	"github.com/intelwatch/ttpmon/pkg/config"
	"github.com/intelwatch/ttpmon/pkg/feed"
	"github.com/intelwatch/ttpmon/pkg/metrics"
	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/store"
	testutil "github.com/intelwatch/ttpmon/test/util"
)

// stubIntel serves canned feed responses. Tests mutate its fields between
// Reconcile calls to play out multi-scan scenarios.
type stubIntel struct {
	resolveID   string
	resolveErr  error
	techniques  []string
	fetchErr    error
	fallback    *feed.FallbackResult
	fallbackErr error

	resolveCalls  int
	fallbackLimit int
}

func (s *stubIntel) ResolveCollection(ctx context.Context, name string) (string, error) {
	s.resolveCalls++
	if s.resolveErr != nil {
		return "", s.resolveErr
	}
	return s.resolveID, nil
}

func (s *stubIntel) FetchTechniques(ctx context.Context, collectionID string) ([]string, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.techniques, nil
}

func (s *stubIntel) FetchTechniquesFromFiles(ctx context.Context, collectionID string, limit int) (*feed.FallbackResult, error) {
	s.fallbackLimit = limit
	if s.fallbackErr != nil {
		return nil, s.fallbackErr
	}
	if s.fallback != nil {
		return s.fallback, nil
	}
	return &feed.FallbackResult{Evidence: map[string][]string{}}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(testutil.SetupTestDatabase(t))
}

func newTestEngine(t *testing.T, s *store.Store, intel Intel, thresholds config.Thresholds) *Engine {
	t.Helper()
	return NewEngine(s, intel, alerting.NewDebouncer(), thresholds, 40, nil)
}

func defaultThresholds() config.Thresholds {
	return config.Thresholds{MinSightings: 3, MinDistinctDays: 2}
}

func seedActor(t *testing.T, s *store.Store, name string) *models.ThreatActor {
	t.Helper()
	actor, err := s.CreateActor(context.Background(), models.CreateActorRequest{Name: name, Country: "CO"})
	require.NoError(t, err)
	return actor
}

func seedTechnique(t *testing.T, s *store.Store, code, name, tactics string) *models.Technique {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateTechniqueIfAbsent(ctx, code, name, tactics)
	require.NoError(t, err)
	technique, err := s.GetTechniqueByCode(ctx, code)
	require.NoError(t, err)
	return technique
}

func presence(t *testing.T, s *store.Store, actorID, techniqueID int64) *store.PresenceRow {
	t.Helper()
	row, err := s.GetPresence(context.Background(), actorID, techniqueID)
	require.NoError(t, err)
	return row
}

func TestConfirmationAcrossDays(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	technique := seedTechnique(t, s, "T1059", "Command and Scripting Interpreter", "execution")
	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1059"}}
	e := newTestEngine(t, s, intel, defaultThresholds())

	day1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// First observation: pending, no event, no alert.
	out := e.Reconcile(ctx, actor, day1)
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, SourceAttackTechniques, out.Source)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, out.NewPending)
	assert.Zero(t, out.NewConfirmed)

	row := presence(t, s, actor.ID, technique.ID)
	assert.Equal(t, 1, row.SightingsCount)
	assert.Equal(t, 1, row.SeenDaysCount)
	require.NotNil(t, row.NewAlertSent)
	assert.False(t, *row.NewAlertSent)

	timeline, err := s.ActorTimeline(ctx, actor.ID)
	require.NoError(t, err)
	assert.Empty(t, timeline)

	// Second observation the same day: sightings advance, days do not.
	out = e.Reconcile(ctx, actor, day1.Add(2*time.Hour))
	require.Equal(t, StatusOK, out.Status)
	assert.Zero(t, out.NewConfirmed)

	row = presence(t, s, actor.ID, technique.ID)
	assert.Equal(t, 2, row.SightingsCount)
	assert.Equal(t, 1, row.SeenDaysCount)

	// Third observation on the next day crosses both thresholds.
	day2 := day1.Add(24 * time.Hour)
	out = e.Reconcile(ctx, actor, day2)
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 1, out.NewConfirmed)
	assert.Zero(t, out.NewPending)

	row = presence(t, s, actor.ID, technique.ID)
	assert.Equal(t, 3, row.SightingsCount)
	assert.Equal(t, 2, row.SeenDaysCount)
	require.NotNil(t, row.NewAlertSent)
	assert.True(t, *row.NewAlertSent)
	assert.WithinDuration(t, day1, row.FirstSeen, time.Second)
	assert.WithinDuration(t, day2, row.LastSeen, time.Second)

	timeline, err = s.ActorTimeline(ctx, actor.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, models.EventTypeNew, timeline[0].EventType)

	alerts, err := s.ListAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "APT-Condor using T1059", alerts[0].Title)
	assert.Equal(t, "NEW confirmed (3/3 observations, 2/2 days). source=attack_techniques", alerts[0].Description)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)

	// NEW fires at most once per pair lifetime.
	out = e.Reconcile(ctx, actor, day2.Add(time.Hour))
	require.Equal(t, StatusOK, out.Status)
	assert.Zero(t, out.NewConfirmed)

	timeline, err = s.ActorTimeline(ctx, actor.ID)
	require.NoError(t, err)
	assert.Len(t, timeline, 1)
}

func TestImmediateConfirmationForWatchlist(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	seedTechnique(t, s, "T1486", "Data Encrypted for Impact", "impact")

	thresholds := defaultThresholds()
	thresholds.Watchlist = config.ParseWatchlist("T1486")
	thresholds.WatchlistMinSightings = 1
	thresholds.WatchlistMinDistinctDays = 1

	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1486"}}
	e := newTestEngine(t, s, intel, thresholds)

	out := e.Reconcile(ctx, actor, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, out.NewConfirmed)
	assert.Zero(t, out.NewPending)

	alerts, err := s.ListAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "NEW confirmed (1/1 observations, 1/1 days). source=attack_techniques", alerts[0].Description)
}

func TestTacticOverrideConfirmation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	technique := seedTechnique(t, s, "T1078", "Valid Accounts", "initial-access,persistence")

	// The most sensitive matching override wins component-wise.
	thresholds := defaultThresholds()
	thresholds.TacticOverrides = map[string]config.Threshold{
		"initial-access": {MinSightings: 2, MinDistinctDays: 1},
		"persistence":    {MinSightings: 5, MinDistinctDays: 3},
	}

	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1078"}}
	e := newTestEngine(t, s, intel, thresholds)

	day1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	out := e.Reconcile(ctx, actor, day1)
	require.Equal(t, StatusOK, out.Status)
	assert.Zero(t, out.NewConfirmed)

	out = e.Reconcile(ctx, actor, day1.Add(time.Hour))
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 1, out.NewConfirmed)

	row := presence(t, s, actor.ID, technique.ID)
	assert.Equal(t, 2, row.SightingsCount)
	assert.Equal(t, 1, row.SeenDaysCount)

	alerts, err := s.ListAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "NEW confirmed (2/2 observations, 1/1 days). source=attack_techniques", alerts[0].Description)
}

func TestFilesFallbackStoresEvidence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	t1055 := seedTechnique(t, s, "T1055", "Process Injection", "defense-evasion")
	t1027 := seedTechnique(t, s, "T1027", "Obfuscated Files or Information", "defense-evasion")

	intel := &stubIntel{
		resolveID: "col-1",
		fallback: &feed.FallbackResult{
			Techniques: []string{"T1055", "T1027"},
			Evidence: map[string][]string{
				"T1055": {"aaa111", "bbb222"},
				"T1027": {"ccc333", "ddd444"},
			},
		},
	}
	e := newTestEngine(t, s, intel, defaultThresholds())

	out := e.Reconcile(ctx, actor, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, SourceFilesBehaviour, out.Source)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 2, out.Inserted)
	assert.Equal(t, 2, out.NewPending)
	assert.Equal(t, 4, out.EvidenceAdded)
	assert.Equal(t, 40, intel.fallbackLimit)

	// Evidence lands even though both pairs are still pending.
	hashes, err := s.NewestEvidenceHashes(ctx, actor.ID, t1055.ID, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aaa111", "bbb222"}, hashes)
	hashes, err = s.NewestEvidenceHashes(ctx, actor.ID, t1027.ID, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ccc333", "ddd444"}, hashes)

	alerts, err := s.ListAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// Replaying the same fallback adds nothing: evidence is deduplicated.
	out = e.Reconcile(ctx, actor, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	require.Equal(t, StatusOK, out.Status)
	assert.Zero(t, out.EvidenceAdded)
}

func TestDisappearance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	t1059 := seedTechnique(t, s, "T1059", "Command and Scripting Interpreter", "execution")
	t1105 := seedTechnique(t, s, "T1105", "Ingress Tool Transfer", "command-and-control")

	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1059"}}
	e := newTestEngine(t, s, intel, defaultThresholds())

	day1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	out := e.Reconcile(ctx, actor, day1)
	require.Equal(t, StatusOK, out.Status)

	// The next fetch lists a different technique.
	intel.techniques = []string{"T1105"}
	day2 := day1.Add(24 * time.Hour)
	out = e.Reconcile(ctx, actor, day2)
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, out.Disabled)

	gone := presence(t, s, actor.ID, t1059.ID)
	assert.False(t, gone.Active)
	// Counters freeze at their last observed values.
	assert.Equal(t, 1, gone.SightingsCount)
	assert.WithinDuration(t, day1, gone.LastSeen, time.Second)

	added := presence(t, s, actor.ID, t1105.ID)
	assert.True(t, added.Active)

	timeline, err := s.ActorTimeline(ctx, actor.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, models.EventTypeDisappeared, timeline[0].EventType)
	assert.Equal(t, "T1059", timeline[0].Technique)

	alerts, err := s.ListAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityLow, alerts[0].Severity)
	assert.Equal(t, "Technique no longer observed in current collection window", alerts[0].Description)
}

func TestReactivationSuppressesSameTickNew(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	technique := seedTechnique(t, s, "T1059", "Command and Scripting Interpreter", "execution")

	thresholds := config.Thresholds{MinSightings: 2, MinDistinctDays: 1}
	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1059"}}
	e := newTestEngine(t, s, intel, thresholds)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	out := e.Reconcile(ctx, actor, base)
	require.Equal(t, StatusOK, out.Status)
	assert.Zero(t, out.NewConfirmed)

	intel.techniques = nil
	out = e.Reconcile(ctx, actor, base.Add(time.Hour))
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 1, out.Disabled)

	// The comeback sightings cross the threshold, but the same tick only
	// ever fires the reactivation.
	intel.techniques = []string{"T1059"}
	out = e.Reconcile(ctx, actor, base.Add(2*time.Hour))
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 1, out.Reactivated)
	assert.Zero(t, out.NewConfirmed)

	row := presence(t, s, actor.ID, technique.ID)
	assert.True(t, row.Active)
	assert.Equal(t, 2, row.SightingsCount)
	require.NotNil(t, row.NewAlertSent)
	assert.False(t, *row.NewAlertSent)

	// The next quiet tick confirms.
	out = e.Reconcile(ctx, actor, base.Add(3*time.Hour))
	require.Equal(t, StatusOK, out.Status)
	assert.Zero(t, out.Reactivated)
	assert.Equal(t, 1, out.NewConfirmed)

	timeline, err := s.ActorTimeline(ctx, actor.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	assert.Equal(t, models.EventTypeDisappeared, timeline[0].EventType)
	assert.Equal(t, models.EventTypeReactivated, timeline[1].EventType)
	assert.Equal(t, models.EventTypeNew, timeline[2].EventType)

	alerts, err := s.ListAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
}

func TestNoRetroactiveNewForLegacyRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	technique := seedTechnique(t, s, "T1059", "Command and Scripting Interpreter", "execution")

	// A row from before confirmation tracking: new_alert_sent is NULL.
	seeded := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.InsertPresence(ctx, models.ActorTechnique{
		ActorID:        actor.ID,
		TechniqueID:    technique.ID,
		FirstSeen:      seeded,
		LastSeen:       seeded,
		LastCollected:  seeded,
		Active:         true,
		SightingsCount: 9,
		SeenDaysCount:  5,
	})
	require.NoError(t, err)

	// Thresholds a legacy row trivially satisfies.
	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1059"}}
	e := newTestEngine(t, s, intel, config.Thresholds{MinSightings: 1, MinDistinctDays: 1})

	out := e.Reconcile(ctx, actor, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	require.Equal(t, StatusOK, out.Status)
	assert.Zero(t, out.NewConfirmed)

	row := presence(t, s, actor.ID, technique.ID)
	require.NotNil(t, row.NewAlertSent)
	assert.True(t, *row.NewAlertSent)
	assert.Equal(t, 10, row.SightingsCount)

	timeline, err := s.ActorTimeline(ctx, actor.ID)
	require.NoError(t, err)
	assert.Empty(t, timeline)
}

func TestTransientErrorLeavesStateUntouched(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	technique := seedTechnique(t, s, "T1059", "Command and Scripting Interpreter", "execution")

	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1059"}}
	e := newTestEngine(t, s, intel, defaultThresholds())

	day1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	out := e.Reconcile(ctx, actor, day1)
	require.Equal(t, StatusOK, out.Status)

	// A transient failure must never read as disappearance.
	intel.fetchErr = feed.ErrTransient
	out = e.Reconcile(ctx, actor, day1.Add(time.Hour))
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, KindError, out.Err)
	assert.Equal(t, SourceAttackTechniques, out.Source)

	row := presence(t, s, actor.ID, technique.ID)
	assert.True(t, row.Active)
	assert.Equal(t, 1, row.SightingsCount)
	assert.WithinDuration(t, day1, row.LastCollected, time.Second)

	timeline, err := s.ActorTimeline(ctx, actor.ID)
	require.NoError(t, err)
	assert.Empty(t, timeline)
}

func TestRolledBackScanLeavesCountersUntouched(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	seedTechnique(t, s, "T1486", "Data Encrypted for Impact", "impact")

	m := metrics.New(prometheus.NewRegistry())
	thresholds := config.Thresholds{MinSightings: 1, MinDistinctDays: 1}
	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1486", "T1486"}}
	e := NewEngine(s, intel, alerting.NewDebouncer(), thresholds, 40, m)

	day1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// The duplicate code forces a second presence insert for the same pair,
	// failing the transaction after the first code already confirmed and
	// alerted. The rollback must take the counters with it.
	out := e.Reconcile(ctx, actor, day1)
	require.Equal(t, StatusError, out.Status)
	assert.Zero(t, promtestutil.ToFloat64(m.IntelEvents.WithLabelValues("NEW")))
	assert.Zero(t, promtestutil.ToFloat64(m.Alerts.WithLabelValues("HIGH")))

	timeline, err := s.ActorTimeline(ctx, actor.ID)
	require.NoError(t, err)
	assert.Empty(t, timeline)

	// A clean pass commits, and only then do the counters move.
	intel.techniques = []string{"T1486"}
	out = e.Reconcile(ctx, actor, day1.Add(time.Hour))
	require.Equal(t, StatusOK, out.Status)
	require.Equal(t, 1, out.NewConfirmed)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.IntelEvents.WithLabelValues("NEW")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.Alerts.WithLabelValues("HIGH")))
}

func TestFallbackFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	technique := seedTechnique(t, s, "T1059", "Command and Scripting Interpreter", "execution")

	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1059"}}
	e := newTestEngine(t, s, intel, defaultThresholds())

	out := e.Reconcile(ctx, actor, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	require.Equal(t, StatusOK, out.Status)

	intel.techniques = nil
	intel.fallbackErr = feed.ErrTransient
	out = e.Reconcile(ctx, actor, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, KindFilesFallbackError, out.Err)
	assert.Equal(t, SourceFilesBehaviour, out.Source)

	row := presence(t, s, actor.ID, technique.ID)
	assert.True(t, row.Active)
}

func TestCollectionNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "Unknown Crew")
	intel := &stubIntel{resolveErr: feed.ErrNotFound}
	e := newTestEngine(t, s, intel, defaultThresholds())

	out := e.Reconcile(ctx, actor, time.Now().UTC())
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, KindNotFound, out.Err)
	assert.Empty(t, out.Source)

	rows, err := s.ListPresenceByActor(ctx, actor.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStoredExternalIDSkipsResolution(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	externalID := "threat-actor--condor"
	actor, err := s.CreateActor(ctx, models.CreateActorRequest{Name: "APT-Condor", ExternalID: &externalID})
	require.NoError(t, err)
	seedTechnique(t, s, "T1059", "Command and Scripting Interpreter", "execution")

	intel := &stubIntel{resolveID: "should-not-be-used", techniques: []string{"T1059"}}
	e := newTestEngine(t, s, intel, defaultThresholds())

	out := e.Reconcile(ctx, actor, time.Now().UTC())
	require.Equal(t, StatusOK, out.Status)
	assert.Zero(t, intel.resolveCalls)
}

func TestMissingCatalogCodesAreCountedNotStored(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	seedTechnique(t, s, "T1059", "Command and Scripting Interpreter", "execution")

	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1059", "T9999"}}
	e := newTestEngine(t, s, intel, defaultThresholds())

	out := e.Reconcile(ctx, actor, time.Now().UTC())
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, out.MissingMitre)

	rows, err := s.ListPresenceByActor(ctx, actor.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEmptyFeedDisablesEverything(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)
	actor := seedActor(t, s, "APT-Condor")
	seedTechnique(t, s, "T1059", "Command and Scripting Interpreter", "execution")

	intel := &stubIntel{resolveID: "col-1", techniques: []string{"T1059"}}
	e := newTestEngine(t, s, intel, defaultThresholds())

	day1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	out := e.Reconcile(ctx, actor, day1)
	require.Equal(t, StatusOK, out.Status)

	// An empty but successful fetch (and empty fallback) is authoritative.
	intel.techniques = nil
	out = e.Reconcile(ctx, actor, day1.Add(24*time.Hour))
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, SourceAttackTechniques, out.Source)
	assert.Zero(t, out.Total)
	assert.Equal(t, 1, out.Disabled)
}

func TestSameUTCDate(t *testing.T) {
	a := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	b := time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)
	assert.False(t, sameUTCDate(a, b))
	assert.True(t, sameUTCDate(a, a.Add(time.Minute)))

	// Calendar dates compare in UTC regardless of the inputs' zones.
	bogota := time.FixedZone("America/Bogota", -5*3600)
	assert.True(t, sameUTCDate(time.Date(2025, 6, 1, 20, 0, 0, 0, bogota), time.Date(2025, 6, 2, 0, 30, 0, 0, time.UTC)))
}
