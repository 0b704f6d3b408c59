package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/intelwatch/ttpmon/pkg/models"
)

// GetTechniqueByCode looks up a catalog entry by ATT&CK code, or ErrNotFound.
func (s *Store) GetTechniqueByCode(ctx context.Context, code string) (*models.Technique, error) {
	var t models.Technique
	err := s.q.QueryRowContext(ctx, `
		SELECT id, code, name, tactics, description FROM techniques WHERE code = $1`, code).
		Scan(&t.ID, &t.Code, &t.Name, &t.Tactics, &t.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get technique: %w", err)
	}
	return &t, nil
}

// GetTechniqueByID looks up a catalog entry by row id, or ErrNotFound.
func (s *Store) GetTechniqueByID(ctx context.Context, id int64) (*models.Technique, error) {
	var t models.Technique
	err := s.q.QueryRowContext(ctx, `
		SELECT id, code, name, tactics, description FROM techniques WHERE id = $1`, id).
		Scan(&t.ID, &t.Code, &t.Name, &t.Tactics, &t.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get technique: %w", err)
	}
	return &t, nil
}

// CreateTechniqueIfAbsent inserts a catalog entry unless the code already
// exists, reporting whether a row was created. Existing rows are left
// untouched.
func (s *Store) CreateTechniqueIfAbsent(ctx context.Context, code, name, tactics string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO techniques (code, name, tactics)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO NOTHING`, code, name, tactics)
	if err != nil {
		return false, fmt.Errorf("failed to insert technique: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

// UpsertTechnique creates or refreshes a catalog entry by code, reporting
// whether a new row was created.
func (s *Store) UpsertTechnique(ctx context.Context, t models.Technique) (bool, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `SELECT id FROM techniques WHERE code = $1`, t.Code).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO techniques (code, name, tactics, description)
			VALUES ($1, $2, $3, $4)`, t.Code, t.Name, t.Tactics, t.Description)
		if err != nil {
			return false, fmt.Errorf("failed to insert technique: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up technique: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		UPDATE techniques SET name = $2, tactics = $3, description = $4 WHERE id = $1`,
		id, t.Name, t.Tactics, t.Description)
	if err != nil {
		return false, fmt.Errorf("failed to update technique: %w", err)
	}
	return false, nil
}
