package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/intelwatch/ttpmon/pkg/models"
)

const actorColumns = `id, name, external_id, COALESCE(country, ''), aliases, source, active, created_at`

func scanActor(row *sql.Row) (*models.ThreatActor, error) {
	var a models.ThreatActor
	err := row.Scan(&a.ID, &a.Name, &a.ExternalID, &a.Country, &a.Aliases, &a.Source, &a.Active, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetActor returns one actor by id, or ErrNotFound.
func (s *Store) GetActor(ctx context.Context, id int64) (*models.ThreatActor, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM threat_actors WHERE id = $1`, id)
	actor, err := scanActor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get actor: %w", err)
	}
	return actor, nil
}

// CreateActor inserts a new active actor. A duplicate name or external_id
// maps to ErrAlreadyExists.
func (s *Store) CreateActor(ctx context.Context, req models.CreateActorRequest) (*models.ThreatActor, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, NewValidationError("name", "required")
	}

	source := req.Source
	if source == "" {
		source = "feed"
	}
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO threat_actors (name, external_id, country, aliases, source, active, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, TRUE, $6)
		RETURNING `+actorColumns,
		req.Name, req.ExternalID, req.Country, req.Aliases, source, time.Now().UTC())

	actor, err := scanActor(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create actor: %w", err)
	}
	return actor, nil
}

// CreateOrReviveActor implements registration semantics: when the external id
// is already known the stored actor is refreshed from the request and forced
// active, otherwise a new actor is inserted. The returned flag reports
// whether a row was created.
func (s *Store) CreateOrReviveActor(ctx context.Context, req models.CreateActorRequest) (*models.ThreatActor, bool, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, false, NewValidationError("name", "required")
	}

	if req.ExternalID != nil && *req.ExternalID != "" {
		row := s.q.QueryRowContext(ctx, `
			UPDATE threat_actors
			SET name = $2,
			    country = NULLIF($3, ''),
			    aliases = $4,
			    source = COALESCE(NULLIF($5, ''), source),
			    active = TRUE
			WHERE external_id = $1
			RETURNING `+actorColumns,
			*req.ExternalID, req.Name, req.Country, req.Aliases, req.Source)

		actor, err := scanActor(row)
		if err == nil {
			return actor, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			if isUniqueViolation(err) {
				return nil, false, ErrAlreadyExists
			}
			return nil, false, fmt.Errorf("failed to revive actor: %w", err)
		}
	}

	actor, err := s.CreateActor(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return actor, true, nil
}

// UpdateActor applies the non-nil request fields to an actor.
func (s *Store) UpdateActor(ctx context.Context, id int64, req models.UpdateActorRequest) (*models.ThreatActor, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, NewValidationError("name", "must not be empty")
	}

	row := s.q.QueryRowContext(ctx, `
		UPDATE threat_actors
		SET name = COALESCE($2, name),
		    external_id = COALESCE($3, external_id),
		    country = COALESCE($4, country),
		    aliases = COALESCE($5, aliases),
		    source = COALESCE($6, source)
		WHERE id = $1
		RETURNING `+actorColumns,
		id, req.Name, req.ExternalID, req.Country, req.Aliases, req.Source)

	actor, err := scanActor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to update actor: %w", err)
	}
	return actor, nil
}

// SetActorActive flips the monitoring flag for an actor.
func (s *Store) SetActorActive(ctx context.Context, id int64, active bool) (*models.ThreatActor, error) {
	row := s.q.QueryRowContext(ctx, `
		UPDATE threat_actors SET active = $2 WHERE id = $1
		RETURNING `+actorColumns, id, active)

	actor, err := scanActor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set actor active flag: %w", err)
	}
	return actor, nil
}

// ListActors returns actors newest first, each annotated with the timestamp
// of its most recent collection pass. Inactive actors are included only on
// request.
func (s *Store) ListActors(ctx context.Context, includeInactive bool) ([]models.ActorResponse, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT a.id, a.name, a.external_id, COALESCE(a.country, ''), a.aliases, a.source, a.active, a.created_at,
		       MAX(p.last_collected)
		FROM threat_actors a
		LEFT JOIN actor_techniques p ON p.actor_id = a.id
		WHERE $1 OR a.active
		GROUP BY a.id
		ORDER BY a.created_at DESC, a.id DESC`, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list actors: %w", err)
	}
	defer rows.Close()

	var actors []models.ActorResponse
	for rows.Next() {
		var a models.ActorResponse
		err := rows.Scan(&a.ID, &a.Name, &a.ExternalID, &a.Country, &a.Aliases, &a.Source, &a.Active, &a.CreatedAt, &a.LastScanAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan actor: %w", err)
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

// ListActiveActors returns monitored actors in stable id order, the order
// collection runs visit them.
func (s *Store) ListActiveActors(ctx context.Context) ([]models.ThreatActor, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+actorColumns+` FROM threat_actors WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active actors: %w", err)
	}
	defer rows.Close()

	var actors []models.ThreatActor
	for rows.Next() {
		var a models.ThreatActor
		err := rows.Scan(&a.ID, &a.Name, &a.ExternalID, &a.Country, &a.Aliases, &a.Source, &a.Active, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan actor: %w", err)
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

// LastCollectedAt returns the most recent last_collected across an actor's
// presence rows, or nil when the actor has never been scanned.
func (s *Store) LastCollectedAt(ctx context.Context, actorID int64) (*time.Time, error) {
	var last *time.Time
	err := s.q.QueryRowContext(ctx, `
		SELECT MAX(last_collected) FROM actor_techniques WHERE actor_id = $1`, actorID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to read last collection time: %w", err)
	}
	return last, nil
}
