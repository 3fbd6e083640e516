// Package sqlitestore is the default embedded store.Store
// implementation, backed by github.com/glebarez/go-sqlite (a cgo-free
// driver, so the orchestrator ships as a single static binary). The
// schema, pragma set, and single-writer discipline follow the same
// pattern the teacher's internal/db package uses for its task store.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store"
)

// Store wraps a *sql.DB opened against a single sqlite file in WAL mode.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite file at path and applies
// the pragmas the orchestrator needs: WAL for concurrent readers during
// a write, a busy timeout so a lock contention is retried instead of
// failing immediately, and foreign keys on.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: one writer at a time, avoid pool contention on locks

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	version    INTEGER NOT NULL,
	PRIMARY KEY (collection, key)
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("sqlitestore: init schema: %w", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)

func (s *Store) Put(ctx context.Context, collection, key string, value []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: put: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM records WHERE collection = ? AND key = ?`, collection, key,
	).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return 0, fmt.Errorf("sqlitestore: put: %w", err)
	}

	next := current + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (collection, key, value, version) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value, version = excluded.version`,
		collection, key, value, next,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: put: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlitestore: put: %w", err)
	}
	return next, nil
}

func (s *Store) Get(ctx context.Context, collection, key string) (store.Record, error) {
	var rec store.Record
	rec.Key = key
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM records WHERE collection = ? AND key = ?`, collection, key,
	).Scan(&rec.Value, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("sqlitestore: get: %w", err)
	}
	return rec, nil
}

// CompareAndSwap performs the read-check-write inside one transaction,
// the same pattern the teacher's ClaimTaskForEpic uses to fold a
// SELECT and an UPDATE into a single atomic statement so no other
// writer can interleave between them.
func (s *Store) CompareAndSwap(ctx context.Context, collection, key string, expectedVersion int64, value []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: cas: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM records WHERE collection = ? AND key = ?`, collection, key,
	).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return 0, fmt.Errorf("sqlitestore: cas: %w", err)
	}

	if current != expectedVersion {
		return 0, store.ErrConflict
	}

	next := current + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (collection, key, value, version) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value, version = excluded.version`,
		collection, key, value, next,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: cas: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlitestore: cas: %w", err)
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND key = ?`, collection, key)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) (store.ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, version FROM records
		 WHERE collection = ? AND key LIKE ? AND key > ?
		 ORDER BY key ASC LIMIT ?`,
		opts.Collection, opts.KeyPrefix+"%", opts.Cursor, limit,
	)
	if err != nil {
		return store.ListResult{}, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	var result store.ListResult
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version); err != nil {
			return store.ListResult{}, fmt.Errorf("sqlitestore: list scan: %w", err)
		}
		result.Records = append(result.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return store.ListResult{}, fmt.Errorf("sqlitestore: list: %w", err)
	}
	if len(result.Records) == limit {
		result.NextCursor = result.Records[len(result.Records)-1].Key
	}
	return result, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
