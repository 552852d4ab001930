package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces cache keys in a shared redis database.
const DefaultRedisPrefix = "dejavu:"

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStoreClient(client, prefix), nil
}

// NewRedisStoreClient uses an existing client.
func NewRedisStoreClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Find(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) Rename(ctx context.Context, oldKey, newKey string) error {
	err := s.client.Rename(ctx, s.prefix+oldKey, s.prefix+newKey).Err()
	if err != nil && strings.Contains(err.Error(), "no such key") {
		return ErrNotFound
	}
	return err
}

// Keys scans the keyspace. SCAN gives no ordering, so matches are
// collected and sorted before fn is called.
func (s *RedisStore) Keys(ctx context.Context, prefix string, fn func(string) error) error {
	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, globEscape(s.prefix+prefix)+"*", pageSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return err
	}
	sort.Strings(keys)
	// SCAN may return a key more than once
	var last string
	for i, key := range keys {
		if i > 0 && key == last {
			continue
		}
		last = key
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) Values(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	return withValues(ctx, s, prefix, fn)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`*?[]\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
