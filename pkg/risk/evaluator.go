// Package risk scores countries by the technique activity of their attributed
// actors and alerts on sharp swings between consecutive snapshots.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/intelwatch/ttpmon/pkg/metrics"
	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/store"
)

// Scoring weights. Adoption counts the country's active actors per
// technique; the event counts and persistence are global.
const (
	weightAdoption    = 5.0
	weightNew         = 8.0
	weightReactivated = 10.0
	weightPersistence = 0.3
)

const (
	// recentWindow bounds the NEW / REACTIVATED event counts.
	recentWindow = 7 * 24 * time.Hour

	// topTechniques caps how many entries a ranking keeps. The snapshot
	// score sums the kept entries only.
	topTechniques = 15

	// changeThresholdPct is the relative swing between the two newest
	// snapshots that raises a risk-change alert.
	changeThresholdPct = 15.0
)

// Evaluator computes per-country technique rankings and maintains the risk
// snapshot series.
type Evaluator struct {
	store   *store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEvaluator creates a risk evaluator. m may be nil.
func NewEvaluator(st *store.Store, m *metrics.Metrics) *Evaluator {
	if st == nil {
		panic("risk.NewEvaluator: store must not be nil")
	}
	return &Evaluator{
		store:   st,
		metrics: m,
		logger:  slog.Default(),
	}
}

// TopTechniques ranks the techniques actively used by the country's actors,
// highest risk first, capped at 15 entries. A country with no active actors
// ranks empty.
func (e *Evaluator) TopTechniques(ctx context.Context, country string, now time.Time) ([]models.TechniqueRisk, error) {
	actorIDs, err := e.store.ActiveActorIDsByCountry(ctx, country)
	if err != nil {
		return nil, err
	}
	if len(actorIDs) == 0 {
		return nil, nil
	}
	return e.scoreTechniques(ctx, actorIDs, now)
}

func (e *Evaluator) scoreTechniques(ctx context.Context, actorIDs []int64, now time.Time) ([]models.TechniqueRisk, error) {
	adoptions, err := e.store.AdoptionByTechnique(ctx, actorIDs)
	if err != nil {
		return nil, err
	}

	since := now.Add(-recentWindow)
	entries := make([]models.TechniqueRisk, 0, len(adoptions))
	for _, a := range adoptions {
		newCount, err := e.store.CountEventsSince(ctx, a.TechniqueID, models.EventTypeNew, since)
		if err != nil {
			return nil, err
		}
		reactivated, err := e.store.CountEventsSince(ctx, a.TechniqueID, models.EventTypeReactivated, since)
		if err != nil {
			return nil, err
		}
		avgDays, err := e.store.AvgActiveAgeDays(ctx, a.TechniqueID, now)
		if err != nil {
			return nil, err
		}

		score := weightAdoption*float64(a.Adoption) +
			weightNew*float64(newCount) +
			weightReactivated*float64(reactivated) +
			weightPersistence*avgDays

		entries = append(entries, models.TechniqueRisk{
			TechniqueID:     a.TechniqueID,
			Code:            a.Code,
			Name:            a.Name,
			Adoption:        a.Adoption,
			New7d:           newCount,
			Reactivated7d:   reactivated,
			PersistenceDays: round2(avgDays),
			RiskScore:       round2(score),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RiskScore > entries[j].RiskScore
	})
	if len(entries) > topTechniques {
		entries = entries[:topTechniques]
	}
	return entries, nil
}

// Snapshot evaluates the country and persists one snapshot summarising the
// ranking: the sum of the kept entries' scores, how many techniques ranked,
// and how many actors are attributed. Nothing is written when the ranking is
// empty; the returned snapshot is nil in that case.
func (e *Evaluator) Snapshot(ctx context.Context, country string, now time.Time) (*models.CountryRiskSnapshot, error) {
	actorIDs, err := e.store.ActiveActorIDsByCountry(ctx, country)
	if err != nil {
		return nil, err
	}
	if len(actorIDs) == 0 {
		return nil, nil
	}
	entries, err := e.scoreTechniques(ctx, actorIDs, now)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	total := 0.0
	for _, entry := range entries {
		total += entry.RiskScore
	}
	snap := models.CountryRiskSnapshot{
		Country:        country,
		RiskScore:      round2(total),
		TechniqueCount: len(entries),
		ActorCount:     len(actorIDs),
		CreatedAt:      now,
	}
	if err := e.store.InsertRiskSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	e.metrics.RecordRiskSnapshot()
	e.logger.Info("Risk snapshot written",
		"country", country, "risk_score", snap.RiskScore, "techniques", snap.TechniqueCount, "actors", snap.ActorCount)
	return &snap, nil
}

// DetectChange compares the country's two newest snapshots and alerts when
// the relative change reaches the threshold: HIGH on a rise, LOW on a drop.
// With fewer than two snapshots, or a zero baseline, nothing fires.
func (e *Evaluator) DetectChange(ctx context.Context, country string, now time.Time) (bool, error) {
	snaps, err := e.store.LastRiskSnapshots(ctx, country, 2)
	if err != nil {
		return false, err
	}
	if len(snaps) < 2 {
		return false, nil
	}
	latest, prev := snaps[0].RiskScore, snaps[1].RiskScore
	if prev == 0 {
		return false, nil
	}

	change := (latest - prev) / prev * 100
	if math.Abs(change) < changeThresholdPct {
		return false, nil
	}

	severity := models.SeverityLow
	if change > 0 {
		severity = models.SeverityHigh
	}
	alert := models.Alert{
		Title:       fmt.Sprintf("Risk change detected in %s", country),
		Description: fmt.Sprintf("Risk changed %.2f%% (from %.2f to %.2f)", change, prev, latest),
		Severity:    severity,
		CreatedAt:   now,
	}
	if err := e.store.InsertAlert(ctx, alert); err != nil {
		return false, err
	}
	e.metrics.RecordAlert(string(severity))
	e.logger.Info("Risk change alert", "country", country, "change_pct", round2(change), "severity", severity)
	return true, nil
}

// EvaluateCountry runs the full per-country pass: snapshot, then change
// detection against the series.
func (e *Evaluator) EvaluateCountry(ctx context.Context, country string, now time.Time) error {
	if _, err := e.Snapshot(ctx, country, now); err != nil {
		return err
	}
	_, err := e.DetectChange(ctx, country, now)
	return err
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
