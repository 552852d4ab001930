package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)

	all := map[string]Store{
		"mem":    NewMemStore(),
		"sqlite": sqlite,
		"file":   NewFileStoreFS(memfs.New()),
	}

	ctx := context.Background()
	if addr := os.Getenv("DEJAVU_TEST_REDIS_ADDR"); addr != "" {
		s, err := NewRedisStore(addr, "", 0, "dejavu-test:"+uuid.NewString()+":")
		require.NoError(t, err)
		all["redis"] = s
	}
	if dsn := os.Getenv("DEJAVU_TEST_POSTGRES_DSN"); dsn != "" {
		s, err := NewPostgresStore(ctx, dsn)
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, "DELETE FROM dejavu_cache")
		require.NoError(t, err)
		all["postgres"] = s
	}
	if endpoint := os.Getenv("DEJAVU_TEST_MINIO_ENDPOINT"); endpoint != "" {
		s, err := NewMinioStore(ctx, MinioConfig{
			Endpoint:  endpoint,
			Bucket:    "dejavu-test",
			AccessKey: os.Getenv("DEJAVU_TEST_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("DEJAVU_TEST_MINIO_SECRET_KEY"),
			Prefix:    uuid.NewString() + "/",
		})
		require.NoError(t, err)
		all["minio"] = s
	}

	t.Cleanup(func() {
		for _, s := range all {
			s.Close()
		}
	})
	return all
}

func keys(t *testing.T, s Store, prefix string) []string {
	t.Helper()
	found := []string{}
	require.NoError(t, s.Keys(context.Background(), prefix, func(key string) error {
		found = append(found, key)
		return nil
	}))
	return found
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.Find(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.Save(ctx, "a_1", []byte("one")))
			require.NoError(t, s.Save(ctx, "a_2", []byte("two")))
			require.NoError(t, s.Save(ctx, "ab_1", []byte("other")))
			require.NoError(t, s.Save(ctx, "b_1", []byte{}))

			value, ok, err := s.Find(ctx, "a_1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("one"), value)

			value, ok, err = s.Find(ctx, "b_1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Empty(t, value)

			require.NoError(t, s.Save(ctx, "a_1", []byte("uno")))
			value, _, err = s.Find(ctx, "a_1")
			require.NoError(t, err)
			require.Equal(t, []byte("uno"), value)

			// "_" is not a wildcard
			require.Equal(t, []string{"a_1", "a_2"}, keys(t, s, "a_"))
			require.Equal(t, []string{"a_1", "a_2", "ab_1"}, keys(t, s, "a"))
			require.Len(t, keys(t, s, ""), 4)

			values := map[string]string{}
			require.NoError(t, s.Values(ctx, "a_", func(key string, value []byte) error {
				values[key] = string(value)
				return nil
			}))
			require.Equal(t, map[string]string{"a_1": "uno", "a_2": "two"}, values)

			require.NoError(t, s.Rename(ctx, "a_2", "a_3"))
			_, ok, err = s.Find(ctx, "a_2")
			require.NoError(t, err)
			require.False(t, ok)
			value, ok, err = s.Find(ctx, "a_3")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("two"), value)

			// rename replaces the target
			require.NoError(t, s.Rename(ctx, "a_3", "a_1"))
			value, _, err = s.Find(ctx, "a_1")
			require.NoError(t, err)
			require.Equal(t, []byte("two"), value)
			require.Equal(t, []string{"a_1"}, keys(t, s, "a_"))

			require.ErrorIs(t, s.Rename(ctx, "missing", "other"), ErrNotFound)

			require.NoError(t, s.Delete(ctx, "a_1"))
			require.NoError(t, s.Delete(ctx, "a_1"))
			require.Empty(t, keys(t, s, "a_"))
		})
	}
}

func TestKeysCallbackMayModifyStore(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < pageSize+10; i++ {
				require.NoError(t, s.Save(ctx, fmt.Sprintf("k_%04d", i), []byte(strconv.Itoa(i))))
			}
			count := 0
			require.NoError(t, s.Keys(ctx, "k_", func(key string) error {
				count++
				return s.Delete(ctx, key)
			}))
			require.Equal(t, pageSize+10, count)
			require.Empty(t, keys(t, s, "k_"))
		})
	}
}

func TestKeysCallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, "x_1", nil))
			require.NoError(t, s.Save(ctx, "x_2", nil))
			calls := 0
			err := s.Keys(ctx, "x_", func(string) error {
				calls++
				return stop
			})
			require.ErrorIs(t, err, stop)
			require.Equal(t, 1, calls)
		})
	}
}

func TestSQLiteInMemoryStoresAreSeparate(t *testing.T) {
	ctx := context.Background()
	a, err := NewSQLiteStore("")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSQLiteStore("")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Save(ctx, "key", []byte("a")))
	_, found, err := b.Find(ctx, "key")
	require.NoError(t, err)
	require.False(t, found)

	value, found, err := a.Find(ctx, "key")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("a"), value)
}

func TestMemStoreConcurrentAccess(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("c_%d", i)
			if err := s.Save(ctx, key, []byte(key)); err != nil {
				t.Errorf("save %s: %s", key, err)
			}
			if _, ok, _ := s.Find(ctx, key); !ok {
				t.Errorf("%s not found", key)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 20, s.Len())
}

func TestMemStoreCopiesValues(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	value := []byte("abc")
	require.NoError(t, s.Save(ctx, "k", value))
	value[0] = 'x'
	found, _, _ := s.Find(ctx, "k")
	require.Equal(t, []byte("abc"), found)
}

func TestFileStoreRejectsUnsafeKeys(t *testing.T) {
	s := NewFileStoreFS(memfs.New())
	ctx := context.Background()
	for _, key := range []string{"", "../escape", "dir/key", tempPrefix + "x"} {
		require.Error(t, s.Save(ctx, key, []byte("v")), key)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{})
	require.NoError(t, err)
	require.IsType(t, &MemStore{}, s)

	s, err = Open(ctx, Config{Kind: KindFile, Path: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, s)
	require.NoError(t, s.Save(ctx, "key", []byte("value")))
	require.Equal(t, []string{"key"}, keys(t, s, ""))

	_, err = Open(ctx, Config{Kind: KindFile})
	require.Error(t, err)
	_, err = Open(ctx, Config{Kind: "etcd"})
	require.Error(t, err)
}
