package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/intelwatch/ttpmon/pkg/models"
)

const jobRunColumns = `id, job_type, trigger, status, actor_id, actor_name,
	       total_items, processed_items, details, error, started_at, finished_at, updated_at`

func scanJobRun(scan func(...any) error) (*models.JobRun, error) {
	var jr models.JobRun
	err := scan(&jr.ID, &jr.JobType, &jr.Trigger, &jr.Status, &jr.ActorID, &jr.ActorName,
		&jr.TotalItems, &jr.ProcessedItems, &jr.Details, &jr.Error,
		&jr.StartedAt, &jr.FinishedAt, &jr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &jr, nil
}

// CreateJobRun inserts a new ledger row.
func (s *Store) CreateJobRun(ctx context.Context, jr *models.JobRun) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO job_runs
			(id, job_type, trigger, status, actor_id, actor_name,
			 total_items, processed_items, details, error, started_at, finished_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		jr.ID, jr.JobType, jr.Trigger, jr.Status, jr.ActorID, jr.ActorName,
		jr.TotalItems, jr.ProcessedItems, jr.Details, jr.Error,
		jr.StartedAt, jr.FinishedAt, jr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job run: %w", err)
	}
	return nil
}

// UpdateJobProgress writes counters and the progress marker, bumping the
// updated_at heartbeat. A nil details keeps the stored marker.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, processed, total int, details *string, now time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE job_runs
		SET processed_items = $2, total_items = $3, details = COALESCE($4, details), updated_at = $5
		WHERE id = $1`,
		id, processed, total, details, now)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// FinishJobRun finalizes a ledger row with its terminal status.
func (s *Store) FinishJobRun(ctx context.Context, id string, status models.JobStatus, details, errText *string, now time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE job_runs
		SET status = $2, details = COALESCE($3, details), error = COALESCE($4, error),
		    finished_at = $5, updated_at = $5
		WHERE id = $1`,
		id, status, details, errText, now)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	return nil
}

// GetJobRun returns one ledger row by id, or ErrNotFound.
func (s *Store) GetJobRun(ctx context.Context, id string) (*models.JobRun, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+jobRunColumns+` FROM job_runs WHERE id = $1`, id)
	jr, err := scanJobRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}
	return jr, nil
}

// ListJobRuns returns ledger rows newest first, optionally filtered by
// status and job type. Empty filter values match everything.
func (s *Store) ListJobRuns(ctx context.Context, limit int, status models.JobStatus, jobType models.JobType) ([]models.JobRun, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+jobRunColumns+`
		FROM job_runs
		WHERE ($2 = '' OR status = $2) AND ($3 = '' OR job_type = $3)
		ORDER BY started_at DESC, id
		LIMIT $1`,
		limit, string(status), string(jobType))
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []models.JobRun
	for rows.Next() {
		jr, err := scanJobRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, *jr)
	}
	return runs, rows.Err()
}

// MarkOrphanedJobRuns fails every RUNNING job whose heartbeat is older than
// the cutoff, returning how many rows were flipped. Called once at startup
// so jobs killed by a crash do not read as running forever.
func (s *Store) MarkOrphanedJobRuns(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE job_runs
		SET status = $1, error = $2, finished_at = $3, updated_at = $3
		WHERE status = $4 AND updated_at < $5`,
		models.JobStatusError, "orphaned: no progress heartbeat", now,
		models.JobStatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark orphaned job runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read orphan sweep result: %w", err)
	}
	return n, nil
}
