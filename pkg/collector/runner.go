// Package collector drives collection runs: every monitored actor is
// reconciled against the feed, subject to a per-actor throttle, and the
// countries touched by successful scans are re-scored afterwards.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/intelwatch/ttpmon/pkg/metrics"
	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/reconcile"
	"github.com/intelwatch/ttpmon/pkg/store"
)

// Reconciler scans one actor. Satisfied by *reconcile.Engine.
type Reconciler interface {
	Reconcile(ctx context.Context, actor *models.ThreatActor, now time.Time) reconcile.Outcome
}

// CountryEvaluator re-scores one country. Satisfied by *risk.Evaluator.
type CountryEvaluator interface {
	EvaluateCountry(ctx context.Context, country string, now time.Time) error
}

// ProgressFunc receives per-actor markers as a run advances. Markers are
// "skip:<actor>" for throttled actors and "scan:<actor>:<status>" for
// reconciled ones.
type ProgressFunc func(processed, total int, details string)

// ActorResult is one scanned actor's entry in the run summary. Throttled
// actors do not appear.
type ActorResult struct {
	ActorID int64  `json:"actor_id"`
	Actor   string `json:"actor"`
	Status  string `json:"status"`
	Source  string `json:"source,omitempty"`
	Total   int    `json:"total"`
}

// Summary aggregates one collection run.
type Summary struct {
	TotalActors        int           `json:"total_actors"`
	Processed          int           `json:"processed"`
	Scanned            int           `json:"scanned"`
	Skipped            int           `json:"skipped"`
	Errors             int           `json:"errors"`
	CountriesEvaluated int           `json:"countries_evaluated"`
	Actors             []ActorResult `json:"actors"`
}

// Runner executes collection runs.
type Runner struct {
	store    *store.Store
	engine   Reconciler
	risk     CountryEvaluator
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRunner creates a collection runner. scanMinInterval is the per-actor
// throttle; zero or negative disables it. m may be nil.
func NewRunner(st *store.Store, engine Reconciler, risk CountryEvaluator, scanMinInterval time.Duration, m *metrics.Metrics) *Runner {
	if st == nil {
		panic("collector.NewRunner: store must not be nil")
	}
	if engine == nil {
		panic("collector.NewRunner: engine must not be nil")
	}
	if risk == nil {
		panic("collector.NewRunner: risk must not be nil")
	}
	return &Runner{
		store:    st,
		engine:   engine,
		risk:     risk,
		interval: scanMinInterval,
		metrics:  m,
		logger:   slog.Default(),
	}
}

// Run reconciles every monitored actor in stable id order. Per-actor
// failures are tallied, never fatal: one broken collection must not starve
// the rest of the fleet. After the sweep, every country attributed to a
// successfully scanned actor is re-scored.
func (r *Runner) Run(ctx context.Context, progress ProgressFunc) (*Summary, error) {
	actors, err := r.store.ListActiveActors(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{TotalActors: len(actors)}
	countries := make(map[string]struct{})

	// Publish the workload size before the first actor is touched.
	r.report(progress, 0, summary.TotalActors, "")

	for i := range actors {
		actor := &actors[i]
		summary.Processed++

		now := time.Now().UTC()
		scan, err := r.shouldScan(ctx, actor.ID, now)
		if err != nil {
			// A broken throttle lookup falls back to scanning.
			r.logger.Warn("Throttle check failed", "actor", actor.Name, "error", err)
			scan = true
		}
		if !scan {
			summary.Skipped++
			r.metrics.RecordActorScan("skipped")
			r.report(progress, summary.Processed, summary.TotalActors, "skip:"+actor.Name)
			continue
		}

		outcome := r.engine.Reconcile(ctx, actor, now)
		summary.Scanned++
		summary.Actors = append(summary.Actors, ActorResult{
			ActorID: actor.ID,
			Actor:   actor.Name,
			Status:  outcome.Status,
			Source:  outcome.Source,
			Total:   outcome.Total,
		})
		if outcome.Status == reconcile.StatusOK {
			r.metrics.RecordActorScan("ok")
			if actor.Country != "" {
				countries[actor.Country] = struct{}{}
			}
		} else {
			summary.Errors++
			r.metrics.RecordActorScan("error")
		}
		r.report(progress, summary.Processed, summary.TotalActors, fmt.Sprintf("scan:%s:%s", actor.Name, outcome.Status))
	}

	summary.CountriesEvaluated = len(countries)
	for _, country := range sortedKeys(countries) {
		if err := r.risk.EvaluateCountry(ctx, country, time.Now().UTC()); err != nil {
			r.logger.Warn("Country risk evaluation failed", "country", country, "error", err)
		}
	}

	r.logger.Info("Collection run finished",
		"total_actors", summary.TotalActors,
		"scanned", summary.Scanned,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"countries", summary.CountriesEvaluated)
	return summary, nil
}

// shouldScan applies the per-actor throttle: a scan is due when the actor was
// never collected or its newest collection touch is at least the configured
// interval old.
func (r *Runner) shouldScan(ctx context.Context, actorID int64, now time.Time) (bool, error) {
	if r.interval <= 0 {
		return true, nil
	}
	last, err := r.store.LastCollectedAt(ctx, actorID)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return now.Sub(*last) >= r.interval, nil
}

func (r *Runner) report(progress ProgressFunc, processed, total int, details string) {
	if progress != nil {
		progress(processed, total, details)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
