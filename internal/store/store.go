// Package store is the durable system of record: Postgres-backed
// persistence for papers, research episodes, user preferences, and
// generated reports (the `persistence` phase, spec.md §4). Working,
// episodic, and procedural memory (internal/memory) read and write only
// the KV store; nothing in internal/memory reads from this package.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scholarpilot.dev/core/core/db"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps a connection pool with typed accessors over the schema's
// tables. Methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

func New(database *db.DB) *Store {
	return &Store{pool: database.Pool()}
}

// withTx is a package-local convenience so file-scoped accessors below can
// share db.DB's transaction semantics without importing *db.DB directly.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
