package persistence

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/always-cache/dejavu/cache"
	"github.com/always-cache/dejavu/operation"
	cachekey "github.com/always-cache/dejavu/pkg/cache-key"
	"github.com/always-cache/dejavu/serialisation"
	"github.com/always-cache/dejavu/token"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type article struct {
	Title string `json:"title"`
}

type author struct {
	Name string `json:"name"`
}

var requestDate = time.UnixMilli(1700000000000).UTC()

func newManager(t *testing.T) (*Manager, *cache.MemStore) {
	t.Helper()
	decorators, err := serialisation.DefaultDecorators(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	serialiser, err := serialisation.NewManager(nil, decorators)
	require.NoError(t, err)
	store := cache.NewMemStore()
	return NewManager(store, serialiser, zerolog.Nop()), store
}

func requestToken(t *testing.T, r token.RequestMetadata, op operation.Operation, date time.Time) token.RequestToken {
	t.Helper()
	hashed, err := token.DefaultHasher{}.Hash(r)
	require.NoError(t, err)
	return token.NewRequestToken(token.Instruction{Operation: op, Request: hashed}, date)
}

func storedKeys(t *testing.T, store cache.Store) []Key {
	t.Helper()
	keys := []Key{}
	require.NoError(t, store.Keys(context.Background(), "", func(s string) error {
		key, err := cachekey.Parse(s)
		require.NoError(t, err)
		keys = append(keys, key)
		return nil
	}))
	return keys
}

func TestPutThenGet(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	op := operation.CacheFor(3600)
	tok := requestToken(t, token.NewRequest[article]("https://example.com/a/1", nil), op, requestDate)

	key, err := m.Put(ctx, tok.Response(), article{Title: "hello"}, op)
	require.NoError(t, err)
	require.Equal(t, requestDate.Add(3600*time.Second), key.ExpiryDate)
	require.Equal(t, requestDate, key.RequestDate)
	require.Equal(t, "FORMAT", key.Serialisation)

	got, err := m.Get(ctx, tok)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, article{Title: "hello"}, got.Response)
	require.Equal(t, key, got.Key)
	require.False(t, IsExpired(got.Key, requestDate.Add(3599*time.Second)))
	require.True(t, IsExpired(got.Key, requestDate.Add(3600*time.Second)))
}

func TestGetMiss(t *testing.T) {
	m, _ := newManager(t)
	tok := requestToken(t, token.NewRequest[article]("https://example.com/missing", nil), operation.CacheFor(60), requestDate)
	got, err := m.Get(context.Background(), tok)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPutKeepsOneEntryPerRequest(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	op := operation.CacheFor(60)
	r := token.NewRequest[article]("https://example.com/a/1", nil)

	for i := 0; i < 3; i++ {
		tok := requestToken(t, r, op, requestDate.Add(time.Duration(i)*time.Minute))
		_, err := m.Put(ctx, tok.Response(), article{Title: "v"}, op)
		require.NoError(t, err)
	}
	keys := storedKeys(t, store)
	require.Len(t, keys, 1)
	require.Equal(t, requestDate.Add(2*time.Minute), keys[0].RequestDate)
}

func TestCorruptedPayloadIsPurged(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	op := operation.CacheFor(60)
	tok := requestToken(t, token.NewRequest[article]("https://example.com/a/1", nil), op, requestDate)
	key, err := m.Put(ctx, tok.Response(), article{Title: "hello"}, op)
	require.NoError(t, err)

	payload, _, err := store.Find(ctx, key.String())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, key.String(), payload[:len(payload)/2]))

	got, err := m.Get(ctx, tok)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 0, store.Len())
}

func TestUnknownDescriptorIsPurged(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	op := operation.CacheFor(60)
	tok := requestToken(t, token.NewRequest[article]("https://example.com/a/1", nil), op, requestDate)
	key, err := m.Put(ctx, tok.Response(), article{Title: "hello"}, op)
	require.NoError(t, err)

	renamed := key
	renamed.Serialisation = "GZIP,FORMAT"
	require.NoError(t, store.Rename(ctx, key.String(), renamed.String()))

	got, err := m.Get(ctx, tok)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 0, store.Len())
}

func TestClassMismatchIsPurged(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	op := operation.CacheFor(60)
	url := "https://example.com/shared"
	_, err := m.Put(ctx, requestToken(t, token.NewRequest[article](url, nil), op, requestDate).Response(), article{Title: "x"}, op)
	require.NoError(t, err)

	got, err := m.Get(ctx, requestToken(t, token.NewRequest[author](url, nil), op, requestDate))
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 0, store.Len())
}

func TestUnparseableKeysArePurged(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	tok := requestToken(t, token.NewRequest[article]("https://example.com/a/1", nil), operation.CacheFor(60), requestDate)
	require.NoError(t, store.Save(ctx, cachekey.RequestPrefix(tok.Instruction.Request.RequestHash)+"garbage", []byte("x")))

	got, err := m.Get(ctx, tok)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 0, store.Len())
}

func TestPutNilResponse(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	op := operation.CacheFor(60)
	tok := requestToken(t, token.NewRequest[*article]("https://example.com/a/1", nil), op, requestDate)
	_, err := m.Put(ctx, tok.Response(), &article{Title: "x"}, op)
	require.NoError(t, err)

	var nilArticle *article
	_, err = m.Put(ctx, tok.Response(), nilArticle, op)
	var serr *serialisation.Error
	require.True(t, errors.As(err, &serr))
	require.Equal(t, serialisation.KindNilResponse, serr.Kind)
	require.Equal(t, 0, store.Len())
}

func TestPutInheritsDecorators(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	r := token.NewRequest[article]("https://example.com/a/1", nil)

	first := operation.Cache{DurationSeconds: 60, Encrypt: operation.Bool(true), Compress: operation.Bool(false)}
	_, err := m.Put(ctx, requestToken(t, r, first, requestDate).Response(), article{}, first)
	require.NoError(t, err)

	second := operation.CacheFor(60)
	key, err := m.Put(ctx, requestToken(t, r, second, requestDate.Add(time.Second)).Response(), article{}, second)
	require.NoError(t, err)
	require.Equal(t, "ENCRYPT,FORMAT", key.Serialisation)

	third := operation.Cache{DurationSeconds: 60, Encrypt: operation.Bool(false)}
	key, err = m.Put(ctx, requestToken(t, r, third, requestDate.Add(2*time.Second)).Response(), article{}, third)
	require.NoError(t, err)
	require.Equal(t, "FORMAT", key.Serialisation)
	require.Len(t, storedKeys(t, store), 1)
}

func TestForceInvalidationIsIdempotent(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	op := operation.CacheFor(3600)
	tok := requestToken(t, token.NewRequest[article]("https://example.com/a/1", nil), op, requestDate)
	_, err := m.Put(ctx, tok.Response(), article{Title: "hello"}, op)
	require.NoError(t, err)

	found, err := m.ForceInvalidation(ctx, tok)
	require.NoError(t, err)
	require.True(t, found)
	once := storedKeys(t, store)

	found, err = m.ForceInvalidation(ctx, tok)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, once, storedKeys(t, store))
	require.Len(t, once, 1)
	require.True(t, once[0].ExpiryDate.IsZero())

	// the payload is untouched
	got, err := m.Get(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, article{Title: "hello"}, got.Response)
	require.True(t, IsExpired(got.Key, requestDate))

	missing := requestToken(t, token.NewRequest[article]("https://example.com/a/2", nil), op, requestDate)
	found, err = m.ForceInvalidation(ctx, missing)
	require.NoError(t, err)
	require.False(t, found)
}

func TestInvalidateIfNeeded(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	r := token.NewRequest[article]("https://example.com/a/1", nil)
	op := operation.CacheFor(3600)
	_, err := m.Put(ctx, requestToken(t, r, op, requestDate).Response(), article{}, op)
	require.NoError(t, err)

	invalidated, err := m.InvalidateIfNeeded(ctx, requestToken(t, r, op, requestDate))
	require.NoError(t, err)
	require.False(t, invalidated)
	require.False(t, storedKeys(t, store)[0].ExpiryDate.IsZero())

	op.Priority = operation.InvalidateThenFetch
	invalidated, err = m.InvalidateIfNeeded(ctx, requestToken(t, r, op, requestDate))
	require.NoError(t, err)
	require.True(t, invalidated)
	require.True(t, storedKeys(t, store)[0].ExpiryDate.IsZero())
}

func TestInvalidateClass(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	op := operation.CacheFor(3600)
	for _, url := range []string{"https://example.com/a/1", "https://example.com/a/2"} {
		_, err := m.Put(ctx, requestToken(t, token.NewRequest[article](url, nil), op, requestDate).Response(), article{}, op)
		require.NoError(t, err)
	}
	_, err := m.Put(ctx, requestToken(t, token.NewRequest[author]("https://example.com/u/1", nil), op, requestDate).Response(), author{}, op)
	require.NoError(t, err)

	tok := requestToken(t, token.NewRequest[article]("https://example.com/ignored", nil), operation.Invalidate{}, requestDate)
	found, err := m.ForceInvalidation(ctx, tok)
	require.NoError(t, err)
	require.True(t, found)

	articles := token.ClassHash(tok.Instruction.Request.ResponseType)
	for _, key := range storedKeys(t, store) {
		require.Equal(t, key.ClassHash == articles, key.ExpiryDate.IsZero(), key.String())
	}
}

func TestClearCacheByType(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	op := operation.CacheFor(3600)
	articleTok := requestToken(t, token.NewRequest[article]("https://example.com/a/1", nil), op, requestDate)
	authorTok := requestToken(t, token.NewRequest[author]("https://example.com/u/1", nil), op, requestDate)
	_, err := m.Put(ctx, articleTok.Response(), article{Title: "a"}, op)
	require.NoError(t, err)
	_, err = m.Put(ctx, authorTok.Response(), author{Name: "b"}, op)
	require.NoError(t, err)

	deleted, err := m.ClearCache(ctx, articleTok.Instruction.Request, operation.Clear{}, requestDate)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	got, err := m.Get(ctx, articleTok)
	require.NoError(t, err)
	require.Nil(t, got)
	got, err = m.Get(ctx, authorTok)
	require.NoError(t, err)
	require.Equal(t, author{Name: "b"}, got.Response)

	anyReq, err := token.DefaultHasher{}.Hash(token.NewRequest[any]("https://example.com", nil))
	require.NoError(t, err)
	deleted, err = m.ClearCache(ctx, anyReq, operation.Clear{}, requestDate)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Equal(t, 0, store.Len())
}

func TestClearCacheScoped(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	fresh := operation.CacheFor(3600)
	stale := operation.CacheFor(60)
	one := requestToken(t, token.NewRequest[article]("https://example.com/a/1", nil), fresh, requestDate)
	two := requestToken(t, token.NewRequest[article]("https://example.com/a/2", nil), stale, requestDate)
	_, err := m.Put(ctx, one.Response(), article{}, fresh)
	require.NoError(t, err)
	_, err = m.Put(ctx, two.Response(), article{}, stale)
	require.NoError(t, err)
	now := requestDate.Add(10 * time.Minute)

	deleted, err := m.ClearCache(ctx, one.Instruction.Request, operation.Clear{ClearStaleEntriesOnly: true}, now)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Equal(t, 1, store.Len())

	deleted, err = m.ClearCache(ctx, two.Instruction.Request, operation.Clear{UseRequestParameters: true}, now)
	require.NoError(t, err)
	require.Equal(t, 0, deleted)

	deleted, err = m.ClearCache(ctx, one.Instruction.Request, operation.Clear{UseRequestParameters: true}, now)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Equal(t, 0, store.Len())
}

func TestStats(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	op := operation.CacheFor(60)
	for _, url := range []string{"https://example.com/a/1", "https://example.com/a/2"} {
		_, err := m.Put(ctx, requestToken(t, token.NewRequest[article](url, nil), op, requestDate).Response(), article{}, op)
		require.NoError(t, err)
	}
	require.NoError(t, store.Save(ctx, "foreign", []byte("x")))

	stats, err := m.Stats(ctx, requestDate.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, stats.Entries)
	require.Equal(t, 2, stats.Expired)
	require.Equal(t, 1, stats.Unparseable)
	require.Equal(t, map[string]int{"FORMAT": 2}, stats.Descriptors)
	require.Len(t, stats.Classes, 1)
	require.Positive(t, stats.Bytes)

	entries, err := m.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
