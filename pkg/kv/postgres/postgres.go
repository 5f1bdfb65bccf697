// Package postgres provides a [kv.Store] backed by a PostgreSQL table.
//
// Values are stored in a JSONB column, so they must be valid JSON documents.
// The table is created by [Store.Migrate].
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// DefaultTable is the table name used when none is configured.
const DefaultTable = "phonocorrect_kv"

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface check.
var _ kv.Store = (*Store)(nil)

// Store is a [kv.Store] persisted in PostgreSQL.
type Store struct {
	db    DB
	table string
	close func()
}

// Option configures a [Store].
type Option func(*Store)

// WithTable overrides the table name. Default: [DefaultTable].
func WithTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.table = name
		}
	}
}

// New creates a Store on an existing connection or pool. The caller owns db.
func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, table: DefaultTable}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open connects a pool to dsn, pings it and runs [Store.Migrate].
// Call [Store.Close] to release the pool.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres kv: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres kv: ping: %w", err)
	}

	s := New(pool, opts...)
	s.close = pool.Close
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool opened by [Open]. It is a no-op for stores built
// with [New].
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// ident returns the sanitized, quoted table identifier.
func (s *Store) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// Migrate creates the key-value table if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    key        TEXT PRIMARY KEY,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.ident())
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres kv: migrate: %w", err)
	}
	return nil
}

// Get implements [kv.Store.Get].
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.ident())

	var value []byte
	err := s.db.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres kv: get %q: %w", key, err)
	}
	return value, nil
}

// Set implements [kv.Store.Set] as an upsert.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, s.ident())

	if _, err := s.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres kv: set %q: %w", key, err)
	}
	return nil
}

// Delete implements [kv.Store.Delete].
func (s *Store) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.ident())
	if _, err := s.db.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("postgres kv: delete %q: %w", key, err)
	}
	return nil
}
