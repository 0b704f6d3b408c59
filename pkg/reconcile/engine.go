// Package reconcile converts one actor's feed observations into presence
// state transitions: NEW confirmations, reactivations, and disappearances.
// Each actor reconciles inside a single transaction, so a feed hiccup or a
// mid-run failure never leaves half-applied state behind.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intelwatch/ttpmon/pkg/alerting"
	"github.com/intelwatch/ttpmon/pkg/config"
	"github.com/intelwatch/ttpmon/pkg/feed"
	"github.com/intelwatch/ttpmon/pkg/metrics"
	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/store"
)

// Outcome statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Outcome error kinds.
const (
	// KindNotFound: the feed has no collection for the actor.
	KindNotFound = "NOT_FOUND"
	// KindError: a transient failure; presence state was left untouched.
	KindError = "ERROR"
	// KindFilesFallbackError: the primary listing was empty and the
	// file-behaviour fallback itself failed.
	KindFilesFallbackError = "FILES_FALLBACK_ERROR"
)

// Technique sources.
const (
	SourceAttackTechniques = "attack_techniques"
	SourceFilesBehaviour   = "files_behaviour_mitre_trees"
)

// Intel is the slice of the feed client the engine consumes.
type Intel interface {
	ResolveCollection(ctx context.Context, name string) (string, error)
	FetchTechniques(ctx context.Context, collectionID string) ([]string, error)
	FetchTechniquesFromFiles(ctx context.Context, collectionID string, limit int) (*feed.FallbackResult, error)
}

// Outcome reports one actor's reconciliation.
type Outcome struct {
	Status        string `json:"status"`
	Err           string `json:"error,omitempty"`
	Source        string `json:"source,omitempty"`
	Total         int    `json:"total"`
	Inserted      int    `json:"inserted"`
	NewConfirmed  int    `json:"new_confirmed"`
	NewPending    int    `json:"new_pending"`
	Reactivated   int    `json:"reactivated"`
	Disabled      int    `json:"disabled"`
	MissingMitre  int    `json:"missing_mitre"`
	EvidenceAdded int    `json:"evidence_added"`
}

// Engine reconciles actors against the feed.
type Engine struct {
	store         *store.Store
	intel         Intel
	debouncer     *alerting.Debouncer
	thresholds    config.Thresholds
	fallbackLimit int
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewEngine creates a reconciliation engine. m may be nil.
func NewEngine(st *store.Store, intel Intel, debouncer *alerting.Debouncer, thresholds config.Thresholds, fallbackLimit int, m *metrics.Metrics) *Engine {
	if st == nil {
		panic("reconcile.NewEngine: store must not be nil")
	}
	if intel == nil {
		panic("reconcile.NewEngine: intel must not be nil")
	}
	if debouncer == nil {
		panic("reconcile.NewEngine: debouncer must not be nil")
	}
	return &Engine{
		store:         st,
		intel:         intel,
		debouncer:     debouncer,
		thresholds:    thresholds,
		fallbackLimit: fallbackLimit,
		metrics:       m,
		logger:        slog.Default(),
	}
}

// Reconcile fetches the actor's current techniques and applies the state
// transitions in one transaction. Feed failures return an error outcome and
// leave presence rows exactly as they were: a technique only counts as
// disappeared when a successful fetch no longer lists it.
func (e *Engine) Reconcile(ctx context.Context, actor *models.ThreatActor, now time.Time) Outcome {
	collectionID, err := e.resolveCollection(ctx, actor)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			e.logger.Warn("No feed collection for actor", "actor", actor.Name)
			return Outcome{Status: StatusError, Err: KindNotFound}
		}
		e.logger.Warn("Collection resolution failed", "actor", actor.Name, "error", err)
		return Outcome{Status: StatusError, Err: KindError}
	}

	codes, err := e.intel.FetchTechniques(ctx, collectionID)
	if err != nil {
		e.logger.Warn("Technique listing failed", "actor", actor.Name, "collection_id", collectionID, "error", err)
		return Outcome{Status: StatusError, Err: KindError, Source: SourceAttackTechniques}
	}

	source := SourceAttackTechniques
	var evidence map[string][]string
	if len(codes) == 0 {
		fallback, err := e.intel.FetchTechniquesFromFiles(ctx, collectionID, e.fallbackLimit)
		if err != nil {
			e.logger.Warn("File-behaviour fallback failed", "actor", actor.Name, "collection_id", collectionID, "error", err)
			return Outcome{Status: StatusError, Err: KindFilesFallbackError, Source: SourceFilesBehaviour}
		}
		if len(fallback.Techniques) > 0 {
			codes = fallback.Techniques
			evidence = fallback.Evidence
			source = SourceFilesBehaviour
		}
	}

	outcome := Outcome{Status: StatusOK, Source: source, Total: len(codes)}
	var emitted emitLog
	err = e.store.WithTx(ctx, func(tx *store.Store) error {
		return e.apply(ctx, tx, actor, codes, evidence, source, now, &outcome, &emitted)
	})
	if err != nil {
		e.logger.Error("Reconciliation failed", "actor", actor.Name, "error", err)
		return Outcome{Status: StatusError, Err: KindError, Source: source}
	}
	// Counters move only for committed rows; a rollback discards the log.
	emitted.flush(e.metrics)

	e.logger.Info("Actor reconciled",
		"actor", actor.Name,
		"source", outcome.Source,
		"total", outcome.Total,
		"inserted", outcome.Inserted,
		"new_confirmed", outcome.NewConfirmed,
		"reactivated", outcome.Reactivated,
		"disabled", outcome.Disabled)
	return outcome
}

// resolveCollection prefers the operator-stored collection ID and only asks
// the feed to search by name when none is stored.
func (e *Engine) resolveCollection(ctx context.Context, actor *models.ThreatActor) (string, error) {
	if actor.ExternalID != nil && *actor.ExternalID != "" {
		return *actor.ExternalID, nil
	}
	return e.intel.ResolveCollection(ctx, actor.Name)
}

// emitLog collects the events and alerts written inside one transaction so
// their metrics record only after the commit succeeds.
type emitLog struct {
	events []models.IntelEvent
	alerts []models.Severity
}

func (l *emitLog) add(ev models.IntelEvent, alerted bool) {
	l.events = append(l.events, ev)
	if alerted {
		l.alerts = append(l.alerts, alerting.SeverityFor(ev.EventType))
	}
}

func (l *emitLog) flush(m *metrics.Metrics) {
	for _, ev := range l.events {
		m.RecordIntelEvent(string(ev.EventType))
	}
	for _, severity := range l.alerts {
		m.RecordAlert(string(severity))
	}
}

func (e *Engine) apply(ctx context.Context, tx *store.Store, actor *models.ThreatActor, codes []string, evidence map[string][]string, source string, now time.Time, out *Outcome, emitted *emitLog) error {
	existing, err := tx.ListPresenceByActor(ctx, actor.ID)
	if err != nil {
		return err
	}
	byCode := make(map[string]store.PresenceRow, len(existing))
	for _, row := range existing {
		byCode[row.Code] = row
	}

	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		technique, err := tx.GetTechniqueByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			// Feed codes absent from the catalog are counted, not stored.
			e.logger.Warn("Technique missing from catalog", "actor", actor.Name, "code", code)
			out.MissingMitre++
			continue
		}
		if err != nil {
			return err
		}
		seen[code] = struct{}{}

		if row, ok := byCode[code]; ok {
			err = e.applyExisting(ctx, tx, actor, technique, row.ActorTechnique, source, now, out, emitted)
		} else {
			err = e.applyNew(ctx, tx, actor, technique, source, now, out, emitted)
		}
		if err != nil {
			return err
		}

		// Fallback evidence is kept for every observed technique, pending
		// or confirmed alike.
		if source == SourceFilesBehaviour {
			added, err := e.storeEvidence(ctx, tx, actor.ID, technique.ID, evidence[code], now)
			if err != nil {
				return err
			}
			out.EvidenceAdded += added
		}
	}

	// Active rows the fetch no longer lists have disappeared.
	for _, row := range existing {
		if _, ok := seen[row.Code]; ok || !row.Active {
			continue
		}
		rec := row.ActorTechnique
		rec.Active = false
		if err := tx.UpdatePresence(ctx, rec); err != nil {
			return err
		}
		technique := &models.Technique{ID: row.TechniqueID, Code: row.Code, Name: row.Name, Tactics: row.Tactics}
		if err := e.recordEvent(ctx, tx, actor, technique, models.EventTypeDisappeared, "Technique no longer observed in current collection window", now, emitted); err != nil {
			return err
		}
		out.Disabled++
	}
	return nil
}

// applyNew inserts a presence row for a first-ever observation. The pair
// starts pending and confirms immediately only when the thresholds in force
// are satisfiable by a single observation.
func (e *Engine) applyNew(ctx context.Context, tx *store.Store, actor *models.ThreatActor, technique *models.Technique, source string, now time.Time, out *Outcome, emitted *emitLog) error {
	minSightings, minDays, _ := e.thresholds.Resolve(technique.Code, technique.Tactics)
	confirmed := minSightings <= 1 && minDays <= 1

	sent := confirmed
	_, err := tx.InsertPresence(ctx, models.ActorTechnique{
		ActorID:        actor.ID,
		TechniqueID:    technique.ID,
		FirstSeen:      now,
		LastSeen:       now,
		LastCollected:  now,
		Active:         true,
		SightingsCount: 1,
		SeenDaysCount:  1,
		NewAlertSent:   &sent,
	})
	if err != nil {
		return err
	}
	out.Inserted++
	out.NewPending++

	if confirmed {
		contextText := fmt.Sprintf("NEW confirmed (%d/%d observations, %d/%d days). source=%s", 1, minSightings, 1, minDays, source)
		if err := e.recordEvent(ctx, tx, actor, technique, models.EventTypeNew, contextText, now, emitted); err != nil {
			return err
		}
		out.NewConfirmed++
		out.NewPending--
	}
	return nil
}

// applyExisting advances the counters of a known pair and fires at most one
// transition: a reactivation when the row was inactive, otherwise a NEW
// confirmation once the thresholds are met for the first time.
func (e *Engine) applyExisting(ctx context.Context, tx *store.Store, actor *models.ThreatActor, technique *models.Technique, rec models.ActorTechnique, source string, now time.Time, out *Outcome, emitted *emitLog) error {
	// Rows predating confirmation tracking never fire a retroactive NEW.
	if rec.NewAlertSent == nil {
		sent := true
		rec.NewAlertSent = &sent
	}

	prevLastSeen := rec.LastSeen
	rec.LastSeen = now
	rec.LastCollected = now
	rec.SightingsCount++
	if rec.SeenDaysCount == 0 {
		rec.SeenDaysCount = 1
	}
	if !prevLastSeen.IsZero() && !sameUTCDate(prevLastSeen, now) {
		rec.SeenDaysCount++
	}

	var eventType models.EventType
	var contextText string
	if !rec.Active {
		rec.Active = true
		eventType = models.EventTypeReactivated
		contextText = "Technique reactivated after inactivity"
		out.Reactivated++
	} else if !*rec.NewAlertSent {
		minSightings, minDays, _ := e.thresholds.Resolve(technique.Code, technique.Tactics)
		if rec.SightingsCount >= minSightings && rec.SeenDaysCount >= minDays {
			sent := true
			rec.NewAlertSent = &sent
			eventType = models.EventTypeNew
			contextText = fmt.Sprintf("NEW confirmed (%d/%d observations, %d/%d days). source=%s", rec.SightingsCount, minSightings, rec.SeenDaysCount, minDays, source)
			out.NewConfirmed++
		}
	}

	if err := tx.UpdatePresence(ctx, rec); err != nil {
		return err
	}
	if eventType == "" {
		return nil
	}
	return e.recordEvent(ctx, tx, actor, technique, eventType, contextText, now, emitted)
}

func (e *Engine) recordEvent(ctx context.Context, tx *store.Store, actor *models.ThreatActor, technique *models.Technique, eventType models.EventType, contextText string, now time.Time, emitted *emitLog) error {
	ev, err := tx.InsertEvent(ctx, actor.ID, technique.ID, eventType, now)
	if err != nil {
		return err
	}
	alerted, err := e.debouncer.Emit(ctx, tx, actor, technique, eventType, contextText, now)
	if err != nil {
		return err
	}
	emitted.add(*ev, alerted)
	return nil
}

func (e *Engine) storeEvidence(ctx context.Context, tx *store.Store, actorID, techniqueID int64, hashes []string, now time.Time) (int, error) {
	added := 0
	for _, h := range hashes {
		inserted, err := tx.AddEvidence(ctx, models.TechniqueEvidence{
			ActorID:     actorID,
			TechniqueID: techniqueID,
			SampleHash:  h,
			Source:      SourceFilesBehaviour,
			ObservedAt:  now,
		})
		if err != nil {
			return added, err
		}
		if inserted {
			added++
		}
	}
	return added, nil
}

// sameUTCDate reports whether two instants fall on the same UTC calendar day.
// Distinct-day counting uses calendar dates, not 24-hour spans.
func sameUTCDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
