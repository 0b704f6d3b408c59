package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/intelwatch/ttpmon/pkg/models"
)

// PresenceRow is an actor/technique association joined with the technique's
// catalog identity, the unit the reconciliation engine works on.
type PresenceRow struct {
	models.ActorTechnique
	Code    string
	Name    string
	Tactics string
}

const presenceColumns = `p.id, p.actor_id, p.technique_id, p.first_seen, p.last_seen, p.last_collected,
	       p.active, p.sightings_count, p.seen_days_count, p.new_alert_sent,
	       t.code, t.name, t.tactics`

func scanPresence(rows *sql.Rows) (PresenceRow, error) {
	var p PresenceRow
	err := rows.Scan(
		&p.ID, &p.ActorID, &p.TechniqueID, &p.FirstSeen, &p.LastSeen, &p.LastCollected,
		&p.Active, &p.SightingsCount, &p.SeenDaysCount, &p.NewAlertSent,
		&p.Code, &p.Name, &p.Tactics)
	return p, err
}

// ListPresenceByActor returns every presence row recorded for an actor,
// active or not, in stable id order.
func (s *Store) ListPresenceByActor(ctx context.Context, actorID int64) ([]PresenceRow, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+presenceColumns+`
		FROM actor_techniques p
		JOIN techniques t ON t.id = p.technique_id
		WHERE p.actor_id = $1
		ORDER BY p.id`, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence rows: %w", err)
	}
	defer rows.Close()

	var out []PresenceRow
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan presence row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPresence returns the presence row for one actor/technique pair, or
// ErrNotFound.
func (s *Store) GetPresence(ctx context.Context, actorID, techniqueID int64) (*PresenceRow, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+presenceColumns+`
		FROM actor_techniques p
		JOIN techniques t ON t.id = p.technique_id
		WHERE p.actor_id = $1 AND p.technique_id = $2`, actorID, techniqueID)
	if err != nil {
		return nil, fmt.Errorf("failed to get presence row: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get presence row: %w", err)
		}
		return nil, ErrNotFound
	}
	p, err := scanPresence(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan presence row: %w", err)
	}
	return &p, nil
}

// InsertPresence records a newly observed actor/technique association and
// returns the new row id.
func (s *Store) InsertPresence(ctx context.Context, p models.ActorTechnique) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO actor_techniques
			(actor_id, technique_id, first_seen, last_seen, last_collected, active, sightings_count, seen_days_count, new_alert_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		p.ActorID, p.TechniqueID, p.FirstSeen, p.LastSeen, p.LastCollected,
		p.Active, p.SightingsCount, p.SeenDaysCount, p.NewAlertSent).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("failed to insert presence row: %w", err)
	}
	return id, nil
}

// UpdatePresence writes back the mutable fields of a presence row.
func (s *Store) UpdatePresence(ctx context.Context, p models.ActorTechnique) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE actor_techniques
		SET last_seen = $2, last_collected = $3, active = $4,
		    sightings_count = $5, seen_days_count = $6, new_alert_sent = $7
		WHERE id = $1`,
		p.ID, p.LastSeen, p.LastCollected, p.Active,
		p.SightingsCount, p.SeenDaysCount, p.NewAlertSent)
	if err != nil {
		return fmt.Errorf("failed to update presence row: %w", err)
	}
	return nil
}
