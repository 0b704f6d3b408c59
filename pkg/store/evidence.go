package store

import (
	"context"
	"fmt"

	"github.com/intelwatch/ttpmon/pkg/models"
)

// AddEvidence links a sample hash to an actor/technique pair, ignoring
// duplicates. Reports whether a new row was inserted.
func (s *Store) AddEvidence(ctx context.Context, e models.TechniqueEvidence) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO technique_evidence (actor_id, technique_id, sample_hash, source, observed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (actor_id, technique_id, sample_hash) DO NOTHING`,
		e.ActorID, e.TechniqueID, e.SampleHash, e.Source, e.ObservedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert evidence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

// NewestEvidenceHashes returns up to limit sample hashes for the pair,
// newest observation first.
func (s *Store) NewestEvidenceHashes(ctx context.Context, actorID, techniqueID int64, limit int) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT sample_hash FROM technique_evidence
		WHERE actor_id = $1 AND technique_id = $2
		ORDER BY observed_at DESC, id DESC
		LIMIT $3`, actorID, techniqueID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan evidence hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
