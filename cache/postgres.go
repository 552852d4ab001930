package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS dejavu_cache (
		key TEXT COLLATE "C" PRIMARY KEY,
		value BYTEA NOT NULL
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) Find(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, "SELECT value FROM dejavu_cache WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO dejavu_cache (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM dejavu_cache WHERE key = $1", key)
	return err
}

func (s *PostgresStore) Rename(ctx context.Context, oldKey, newKey string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if oldKey != newKey {
		if _, err := tx.Exec(ctx, "DELETE FROM dejavu_cache WHERE key = $1", newKey); err != nil {
			return err
		}
	}
	tag, err := tx.Exec(ctx, "UPDATE dejavu_cache SET key = $1 WHERE key = $2", newKey, oldKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) page(ctx context.Context, prefix, after string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT key FROM dejavu_cache WHERE starts_with(key, $1) AND key > $2 ORDER BY key LIMIT $3",
		prefix, after, pageSize,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) Keys(ctx context.Context, prefix string, fn func(string) error) error {
	return pages(ctx, prefix, s.page, fn)
}

func (s *PostgresStore) Values(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	return withValues(ctx, s, prefix, fn)
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
