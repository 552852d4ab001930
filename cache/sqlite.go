package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// pageSize is the number of keys read per query when iterating.
const pageSize = 256

type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore opens the cache table in the given sqlite database.
// If file name is empty, a new in-memory db private to the store is opened.
func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	if filename == "" {
		filename = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite db %s: %w", filename, err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("could not initialize sqlite db: %w", err)
		}
	}
	return &SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteStore) Find(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, value []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO cache (key, value) VALUES (?, ?)", key, value)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s *SQLiteStore) Rename(ctx context.Context, oldKey, newKey string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if oldKey != newKey {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cache WHERE key = ? AND EXISTS (SELECT 1 FROM cache WHERE key = ?)", newKey, oldKey); err != nil {
			return err
		}
	}
	result, err := tx.ExecContext(ctx, "UPDATE cache SET key = ? WHERE key = ?", newKey, oldKey)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// page returns up to pageSize keys with the prefix that sort after the cursor.
// Prefixes are compared with substr since LIKE treats "_" as a wildcard.
func (s *SQLiteStore) page(ctx context.Context, prefix, after string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM cache WHERE substr(key, 1, ?) = ? AND key > ? ORDER BY key LIMIT ?",
		len(prefix), prefix, after, pageSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0, pageSize)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string, fn func(string) error) error {
	return pages(ctx, prefix, s.page, fn)
}

func (s *SQLiteStore) Values(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	return withValues(ctx, s, prefix, fn)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// pages iterates keys page by page, so fn is never called while a query is open.
func pages(ctx context.Context, prefix string, page func(ctx context.Context, prefix, after string) ([]string, error), fn func(string) error) error {
	after := ""
	for {
		keys, err := page(ctx, prefix, after)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		if len(keys) < pageSize {
			return nil
		}
		after = keys[len(keys)-1]
	}
}

// withValues implements Values on top of Keys and Find.
// Entries removed between the two calls are skipped.
func withValues(ctx context.Context, s Store, prefix string, fn func(string, []byte) error) error {
	return s.Keys(ctx, prefix, func(key string) error {
		value, ok, err := s.Find(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return fn(key, value)
	})
}
