package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("cache entry not found")

// Store is a key-value store for cache entries.
// Entry metadata lives in the key, so a store never needs to understand
// its values.
// Operating on key prefixes is important since all entries of a request
// share the request hash prefix.
//
// Implementations must be thread-safe! Each call is atomic with respect to
// the others, there are no multi-key transactions.
type Store interface {
	// Find returns the value for the given key, if it exists.
	Find(ctx context.Context, key string) ([]byte, bool, error)
	// Save stores the value under the given key, replacing any existing value.
	Save(ctx context.Context, key string, value []byte) error
	// Delete removes the entry. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Rename moves the value of oldKey to newKey, replacing newKey.
	// It returns ErrNotFound if oldKey does not exist.
	Rename(ctx context.Context, oldKey, newKey string) error
	// Keys calls fn for each key with the given prefix, in key order.
	// It uses a callback so that very large key sets can be paged
	// by the implementation. fn may modify the store.
	// An error returned by fn stops the iteration and is returned.
	Keys(ctx context.Context, prefix string, fn func(key string) error) error
	// Values is like Keys but also reads each value.
	Values(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
	Close() error
}

// MemStore keeps entries in a map.
type MemStore struct {
	mutex *sync.RWMutex
	db    map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		mutex: &sync.RWMutex{},
		db:    make(map[string][]byte),
	}
}

func (m *MemStore) Find(_ context.Context, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok := m.db[key]
	if !ok {
		return nil, false, nil
	}
	return clone(value), true, nil
}

func (m *MemStore) Save(_ context.Context, key string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = clone(value)
	return nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m *MemStore) Rename(_ context.Context, oldKey, newKey string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	value, ok := m.db[oldKey]
	if !ok {
		return ErrNotFound
	}
	delete(m.db, oldKey)
	m.db[newKey] = value
	return nil
}

// snapshot returns the sorted keys with the given prefix.
func (m *MemStore) snapshot(prefix string) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0)
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *MemStore) Keys(ctx context.Context, prefix string, fn func(string) error) error {
	for _, key := range m.snapshot(prefix) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) Values(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	return m.Keys(ctx, prefix, func(key string) error {
		value, ok, _ := m.Find(ctx, key)
		if !ok {
			return nil
		}
		return fn(key, value)
	})
}

func (m *MemStore) Close() error {
	return nil
}

// Len returns the number of entries.
func (m *MemStore) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.db)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
