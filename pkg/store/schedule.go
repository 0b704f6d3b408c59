package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/intelwatch/ttpmon/pkg/models"
)

const (
	scheduleConfigTable  = "schedule_config"
	mitreSyncConfigTable = "mitre_sync_config"
)

const scheduleConfigColumns = `id, time_hhmm, days, enabled, last_run_at, running, lock_until, updated_at`

func scanScheduleConfig(row *sql.Row) (*models.ScheduleConfig, error) {
	var cfg models.ScheduleConfig
	err := row.Scan(&cfg.ID, &cfg.TimeHHMM, &cfg.Days, &cfg.Enabled,
		&cfg.LastRunAt, &cfg.Running, &cfg.LockUntil, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetOrCreateScheduleConfig returns the collector schedule singleton,
// inserting the default row on first read.
func (s *Store) GetOrCreateScheduleConfig(ctx context.Context) (*models.ScheduleConfig, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+scheduleConfigColumns+` FROM schedule_config ORDER BY id LIMIT 1`)
	cfg, err := scanScheduleConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		row = s.q.QueryRowContext(ctx, `
			INSERT INTO schedule_config DEFAULT VALUES RETURNING ` + scheduleConfigColumns)
		cfg, err = scanScheduleConfig(row)
		if err != nil {
			return nil, fmt.Errorf("failed to create schedule config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule config: %w", err)
	}
	return cfg, nil
}

// UpdateScheduleConfig persists operator changes to the collector schedule.
func (s *Store) UpdateScheduleConfig(ctx context.Context, id int64, timeHHMM, days string, enabled bool, now time.Time) (*models.ScheduleConfig, error) {
	row := s.q.QueryRowContext(ctx, `
		UPDATE schedule_config
		SET time_hhmm = $2, days = $3, enabled = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+scheduleConfigColumns,
		id, timeHHMM, days, enabled, now)
	cfg, err := scanScheduleConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule config: %w", err)
	}
	return cfg, nil
}

const mitreSyncConfigColumns = `id, day_of_week, time_hhmm, enabled, last_run_at, running, lock_until, updated_at`

func scanMitreSyncConfig(row *sql.Row) (*models.MitreSyncConfig, error) {
	var cfg models.MitreSyncConfig
	err := row.Scan(&cfg.ID, &cfg.DayOfWeek, &cfg.TimeHHMM, &cfg.Enabled,
		&cfg.LastRunAt, &cfg.Running, &cfg.LockUntil, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetOrCreateMitreSyncConfig returns the catalog refresh schedule singleton,
// inserting the default row on first read.
func (s *Store) GetOrCreateMitreSyncConfig(ctx context.Context) (*models.MitreSyncConfig, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+mitreSyncConfigColumns+` FROM mitre_sync_config ORDER BY id LIMIT 1`)
	cfg, err := scanMitreSyncConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		row = s.q.QueryRowContext(ctx, `
			INSERT INTO mitre_sync_config DEFAULT VALUES RETURNING ` + mitreSyncConfigColumns)
		cfg, err = scanMitreSyncConfig(row)
		if err != nil {
			return nil, fmt.Errorf("failed to create mitre sync config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mitre sync config: %w", err)
	}
	return cfg, nil
}

// UpdateMitreSyncConfig persists operator changes to the catalog refresh
// schedule.
func (s *Store) UpdateMitreSyncConfig(ctx context.Context, id int64, dayOfWeek, timeHHMM string, enabled bool, now time.Time) (*models.MitreSyncConfig, error) {
	row := s.q.QueryRowContext(ctx, `
		UPDATE mitre_sync_config
		SET day_of_week = $2, time_hhmm = $3, enabled = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+mitreSyncConfigColumns,
		id, dayOfWeek, timeHHMM, enabled, now)
	cfg, err := scanMitreSyncConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update mitre sync config: %w", err)
	}
	return cfg, nil
}

// AcquireScheduleLease attempts to take the collector run lease. See
// acquireLease.
func (s *Store) AcquireScheduleLease(ctx context.Context, id int64, now time.Time, lease time.Duration) (bool, error) {
	return s.acquireLease(ctx, scheduleConfigTable, id, now, lease)
}

// AcquireMitreSyncLease attempts to take the catalog refresh lease. See
// acquireLease.
func (s *Store) AcquireMitreSyncLease(ctx context.Context, id int64, now time.Time, lease time.Duration) (bool, error) {
	return s.acquireLease(ctx, mitreSyncConfigTable, id, now, lease)
}

// acquireLease performs the compare-and-set that protects scheduled runs
// across replicas: a single UPDATE takes the lease only when no other holder
// is live, and the row count tells us whether we won. A stale lock_until
// means the previous holder died without releasing, so the lease is
// reclaimable.
func (s *Store) acquireLease(ctx context.Context, table string, id int64, now time.Time, lease time.Duration) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE `+table+`
		SET running = TRUE, lock_until = $2
		WHERE id = $1 AND (running = FALSE OR lock_until IS NULL OR lock_until < $3)`,
		id, now.Add(lease), now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lease result: %w", err)
	}
	return n == 1, nil
}

// CompleteScheduleRun releases the collector lease and records the run
// instant, whether the run succeeded or failed.
func (s *Store) CompleteScheduleRun(ctx context.Context, id int64, finishedAt time.Time) error {
	return s.completeRun(ctx, scheduleConfigTable, id, finishedAt)
}

// CompleteMitreSyncRun releases the catalog refresh lease and records the
// run instant, whether the run succeeded or failed.
func (s *Store) CompleteMitreSyncRun(ctx context.Context, id int64, finishedAt time.Time) error {
	return s.completeRun(ctx, mitreSyncConfigTable, id, finishedAt)
}

func (s *Store) completeRun(ctx context.Context, table string, id int64, finishedAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE `+table+`
		SET last_run_at = $2, running = FALSE, lock_until = NULL
		WHERE id = $1`, id, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to complete scheduled run: %w", err)
	}
	return nil
}
