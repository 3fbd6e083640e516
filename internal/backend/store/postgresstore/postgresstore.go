// Package postgresstore is the alternate store.Store implementation for
// multi-process deployments, backed by github.com/jackc/pgx/v5's
// connection pool. Unlike sqlitestore it supports true concurrent
// writers, so CompareAndSwap relies on Postgres row locking rather than
// a single-writer invariant.
package postgresstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using dsn and ensures the records table
// exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgresstore: open: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BYTEA NOT NULL,
	version    BIGINT NOT NULL,
	PRIMARY KEY (collection, key)
);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgresstore: init schema: %w", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)

func (s *Store) Put(ctx context.Context, collection, key string, value []byte) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO records (collection, key, value, version) VALUES ($1, $2, $3, 1)
		ON CONFLICT (collection, key) DO UPDATE
			SET value = excluded.value, version = records.version + 1
		RETURNING version`,
		collection, key, value,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("postgresstore: put: %w", err)
	}
	return next, nil
}

func (s *Store) Get(ctx context.Context, collection, key string) (store.Record, error) {
	var rec store.Record
	rec.Key = key
	err := s.pool.QueryRow(ctx,
		`SELECT value, version FROM records WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&rec.Value, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("postgresstore: get: %w", err)
	}
	return rec, nil
}

// CompareAndSwap uses a single UPDATE ... WHERE version = $expected
// (or, when expectedVersion is 0, an INSERT that fails on conflict) so
// the check-and-write is atomic under Postgres's row-level locking
// without an explicit transaction.
func (s *Store) CompareAndSwap(ctx context.Context, collection, key string, expectedVersion int64, value []byte) (int64, error) {
	if expectedVersion == 0 {
		var next int64
		err := s.pool.QueryRow(ctx, `
			INSERT INTO records (collection, key, value, version) VALUES ($1, $2, $3, 1)
			ON CONFLICT (collection, key) DO NOTHING
			RETURNING version`,
			collection, key, value,
		).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrConflict
		}
		if err != nil {
			return 0, fmt.Errorf("postgresstore: cas insert: %w", err)
		}
		return next, nil
	}

	var next int64
	err := s.pool.QueryRow(ctx, `
		UPDATE records SET value = $3, version = version + 1
		WHERE collection = $1 AND key = $2 AND version = $4
		RETURNING version`,
		collection, key, value, expectedVersion,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("postgresstore: cas update: %w", err)
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE collection = $1 AND key = $2`, collection, key)
	if err != nil {
		return fmt.Errorf("postgresstore: delete: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) (store.ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT key, value, version FROM records
		WHERE collection = $1 AND key LIKE $2 AND key > $3
		ORDER BY key ASC LIMIT $4`,
		opts.Collection, opts.KeyPrefix+"%", opts.Cursor, limit,
	)
	if err != nil {
		return store.ListResult{}, fmt.Errorf("postgresstore: list: %w", err)
	}
	defer rows.Close()

	var result store.ListResult
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version); err != nil {
			return store.ListResult{}, fmt.Errorf("postgresstore: list scan: %w", err)
		}
		result.Records = append(result.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return store.ListResult{}, fmt.Errorf("postgresstore: list: %w", err)
	}
	if len(result.Records) == limit {
		result.NextCursor = result.Records[len(result.Records)-1].Key
	}
	return result, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
