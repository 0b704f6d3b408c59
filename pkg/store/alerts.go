package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/intelwatch/ttpmon/pkg/models"
)

// InsertAlert persists an emitted alert.
func (s *Store) InsertAlert(ctx context.Context, a models.Alert) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO alerts (actor_id, technique_id, title, description, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ActorID, a.TechniqueID, a.Title, a.Description, a.Severity, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// ListAlerts returns the newest alerts first, up to limit.
func (s *Store) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, actor_id, technique_id, title, description, severity, created_at
		FROM alerts
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		err := rows.Scan(&a.ID, &a.ActorID, &a.TechniqueID, &a.Title, &a.Description, &a.Severity, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// GetAlertState returns the debounce record for an actor/technique/event
// triple, or ErrNotFound when the triple has never alerted.
func (s *Store) GetAlertState(ctx context.Context, actorID, techniqueID int64, eventType models.EventType) (*models.AlertState, error) {
	var st models.AlertState
	err := s.q.QueryRowContext(ctx, `
		SELECT id, actor_id, technique_id, event_type, last_alert_at
		FROM alert_state
		WHERE actor_id = $1 AND technique_id = $2 AND event_type = $3`,
		actorID, techniqueID, eventType).
		Scan(&st.ID, &st.ActorID, &st.TechniqueID, &st.EventType, &st.LastAlertAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert state: %w", err)
	}
	return &st, nil
}

// CreateAlertState records the first alert instant for a triple.
func (s *Store) CreateAlertState(ctx context.Context, actorID, techniqueID int64, eventType models.EventType, lastAlertAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO alert_state (actor_id, technique_id, event_type, last_alert_at)
		VALUES ($1, $2, $3, $4)`,
		actorID, techniqueID, eventType, lastAlertAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create alert state: %w", err)
	}
	return nil
}

// TouchAlertState advances the debounce clock for a triple.
func (s *Store) TouchAlertState(ctx context.Context, id int64, lastAlertAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE alert_state SET last_alert_at = $2 WHERE id = $1`, id, lastAlertAt)
	if err != nil {
		return fmt.Errorf("failed to update alert state: %w", err)
	}
	return nil
}
