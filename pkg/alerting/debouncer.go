// Package alerting turns intelligence events into operator alerts, gating
// repeats per (actor, technique, event type) behind a silence window.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/store"
)

// debounceWindow is how long a triple stays silent after alerting.
const debounceWindow = 24 * time.Hour

// Debouncer emits alerts for intelligence events. It runs on the caller's
// transaction-scoped store so a failed reconciliation takes its alerts down
// with it; bookkeeping that must survive the commit is the caller's.
type Debouncer struct {
	logger *slog.Logger
}

// NewDebouncer creates an alert debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{logger: slog.Default()}
}

// SeverityFor maps event types to alert severities.
func SeverityFor(eventType models.EventType) models.Severity {
	switch eventType {
	case models.EventTypeNew:
		return models.SeverityHigh
	case models.EventTypeReactivated:
		return models.SeverityMedium
	case models.EventTypeDisappeared:
		return models.SeverityLow
	default:
		return models.SeverityLow
	}
}

// Emit records an alert for the event unless the same (actor, technique,
// event type) triple alerted within the last 24 hours. A suppressed event is
// dropped silently, not retried. Reports whether an alert row was written.
func (d *Debouncer) Emit(ctx context.Context, tx *store.Store, actor *models.ThreatActor, technique *models.Technique, eventType models.EventType, contextText string, now time.Time) (bool, error) {
	ok, err := d.shouldAlert(ctx, tx, actor.ID, technique.ID, eventType, now)
	if err != nil {
		return false, err
	}
	if !ok {
		d.logger.Debug("Alert suppressed by debounce window",
			"actor", actor.Name, "technique", technique.Code, "event_type", eventType)
		return false, nil
	}

	description := contextText
	if description == "" {
		description = fmt.Sprintf("%s technique detected in monitored region", eventType)
	}

	alert := models.Alert{
		ActorID:     &actor.ID,
		TechniqueID: &technique.ID,
		Title:       fmt.Sprintf("%s using %s", actor.Name, technique.Code),
		Description: description,
		Severity:    SeverityFor(eventType),
		CreatedAt:   now,
	}
	if err := tx.InsertAlert(ctx, alert); err != nil {
		return false, err
	}
	return true, nil
}

// shouldAlert consults and advances the debounce record for a triple. The
// first event for a triple creates the record and alerts immediately.
func (d *Debouncer) shouldAlert(ctx context.Context, tx *store.Store, actorID, techniqueID int64, eventType models.EventType, now time.Time) (bool, error) {
	state, err := tx.GetAlertState(ctx, actorID, techniqueID, eventType)
	if errors.Is(err, store.ErrNotFound) {
		if err := tx.CreateAlertState(ctx, actorID, techniqueID, eventType, now); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if now.Sub(state.LastAlertAt) > debounceWindow {
		if err := tx.TouchAlertState(ctx, state.ID, now); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
