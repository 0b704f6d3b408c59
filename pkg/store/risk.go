package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/intelwatch/ttpmon/pkg/models"
)

// TechniqueAdoption counts how many of a set of actors actively use a
// technique.
type TechniqueAdoption struct {
	TechniqueID int64
	Code        string
	Name        string
	Adoption    int
}

// ActiveActorIDsByCountry returns the ids of monitored actors attributed to
// a country, in stable id order.
func (s *Store) ActiveActorIDsByCountry(ctx context.Context, country string) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id FROM threat_actors WHERE active AND country = $1 ORDER BY id`, country)
	if err != nil {
		return nil, fmt.Errorf("failed to list actors by country: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan actor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AdoptionByTechnique returns, for every technique actively used by at least
// one of the given actors, the technique identity and the number of those
// actors using it.
func (s *Store) AdoptionByTechnique(ctx context.Context, actorIDs []int64) ([]TechniqueAdoption, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT p.technique_id, t.code, t.name, COUNT(*)
		FROM actor_techniques p
		JOIN techniques t ON t.id = p.technique_id
		WHERE p.active AND p.actor_id = ANY($1)
		GROUP BY p.technique_id, t.code, t.name
		ORDER BY p.technique_id`, actorIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate adoption: %w", err)
	}
	defer rows.Close()

	var out []TechniqueAdoption
	for rows.Next() {
		var a TechniqueAdoption
		if err := rows.Scan(&a.TechniqueID, &a.Code, &a.Name, &a.Adoption); err != nil {
			return nil, fmt.Errorf("failed to scan adoption row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AvgActiveAgeDays returns the mean age in days, measured from first_seen to
// now, across every active presence row of a technique regardless of actor
// country. Zero when the technique has no active rows.
func (s *Store) AvgActiveAgeDays(ctx context.Context, techniqueID int64, now time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := s.q.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM ($2::timestamp - first_seen)) / 86400.0)
		FROM actor_techniques
		WHERE technique_id = $1 AND active`, techniqueID, now).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to compute persistence: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// InsertRiskSnapshot persists one country risk evaluation.
func (s *Store) InsertRiskSnapshot(ctx context.Context, snap models.CountryRiskSnapshot) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO country_risk_snapshots (country, risk_score, technique_count, actor_count, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		snap.Country, snap.RiskScore, snap.TechniqueCount, snap.ActorCount, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert risk snapshot: %w", err)
	}
	return nil
}

// LastRiskSnapshots returns up to n of a country's most recent snapshots,
// newest first.
func (s *Store) LastRiskSnapshots(ctx context.Context, country string, n int) ([]models.CountryRiskSnapshot, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, country, risk_score, technique_count, actor_count, created_at
		FROM country_risk_snapshots
		WHERE country = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, country, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.CountryRiskSnapshot
	for rows.Next() {
		var snap models.CountryRiskSnapshot
		err := rows.Scan(&snap.ID, &snap.Country, &snap.RiskScore, &snap.TechniqueCount, &snap.ActorCount, &snap.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
