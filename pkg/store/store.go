// Package store implements the persistence layer as hand-written SQL over
// database/sql with the pgx driver.
//
// A Store is either pool-scoped (created by New) or transaction-scoped
// (handed to a WithTx callback). Repository methods behave identically on
// both; multi-step flows that must commit atomically, such as one actor's
// reconciliation, run inside WithTx.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the intersection of *sql.DB and *sql.Tx the repositories run on.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store executes queries against a database pool or an open transaction.
type Store struct {
	db *sql.DB // nil when transaction-scoped
	q  DBTX
}

// New creates a pool-scoped Store.
func New(db *sql.DB) *Store {
	if db == nil {
		panic("store.New: db must not be nil")
	}
	return &Store{db: db, q: db}
}

// WithTx runs fn with a transaction-scoped Store, committing when fn returns
// nil and rolling back otherwise. On an already transaction-scoped Store, fn
// joins the open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
