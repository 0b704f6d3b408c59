package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/intelwatch/ttpmon/pkg/models"
)

// InsertEvent appends an intelligence event to an actor's history and
// returns the stored row.
func (s *Store) InsertEvent(ctx context.Context, actorID, techniqueID int64, eventType models.EventType, createdAt time.Time) (*models.IntelEvent, error) {
	ev := models.IntelEvent{
		ActorID:     actorID,
		TechniqueID: techniqueID,
		EventType:   eventType,
		CreatedAt:   createdAt,
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO intelligence_events (actor_id, technique_id, event_type, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		actorID, techniqueID, eventType, createdAt).Scan(&ev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	return &ev, nil
}

// ActorTimeline returns an actor's full event history, oldest first.
func (s *Store) ActorTimeline(ctx context.Context, actorID int64) ([]models.TimelineEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.code, t.tactics, e.event_type, e.created_at
		FROM intelligence_events e
		JOIN techniques t ON t.id = e.technique_id
		WHERE e.actor_id = $1
		ORDER BY e.created_at ASC, e.id ASC`, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}
	defer rows.Close()

	var entries []models.TimelineEntry
	for rows.Next() {
		var entry models.TimelineEntry
		if err := rows.Scan(&entry.Technique, &entry.Tactic, &entry.EventType, &entry.Date); err != nil {
			return nil, fmt.Errorf("failed to scan timeline entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountEventsSince counts events of one type recorded for a technique across
// all actors from the given instant on.
func (s *Store) CountEventsSince(ctx context.Context, techniqueID int64, eventType models.EventType, since time.Time) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM intelligence_events
		WHERE technique_id = $1 AND event_type = $2 AND created_at >= $3`,
		techniqueID, eventType, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// LatestEventTypeAt returns the type of the newest event recorded for the
// actor/technique pair at or before the given instant, or "" when the pair
// has no event history yet.
func (s *Store) LatestEventTypeAt(ctx context.Context, actorID, techniqueID int64, at time.Time) (models.EventType, error) {
	var eventType models.EventType
	err := s.q.QueryRowContext(ctx, `
		SELECT event_type FROM intelligence_events
		WHERE actor_id = $1 AND technique_id = $2 AND created_at <= $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		actorID, techniqueID, at).Scan(&eventType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load latest event: %w", err)
	}
	return eventType, nil
}
