package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/always-cache/dejavu/cache"
	"github.com/always-cache/dejavu/operation"
	cachekey "github.com/always-cache/dejavu/pkg/cache-key"
	"github.com/always-cache/dejavu/serialisation"
	"github.com/always-cache/dejavu/token"
	"github.com/rs/zerolog"
)

// Manager reads and writes entries through a store.
// Payloads that cannot be read back are purged and reported as misses.
type Manager struct {
	store      cache.Store
	serialiser *serialisation.Manager
	log        zerolog.Logger
}

func NewManager(store cache.Store, serialiser *serialisation.Manager, logger zerolog.Logger) *Manager {
	return &Manager{
		store:      store,
		serialiser: serialiser,
		log:        logger.With().Str("component", "persistence").Logger(),
	}
}

// IsExpired reports whether an entry is expired at now.
func IsExpired(key Key, now time.Time) bool {
	return key.Expired(now)
}

// entries returns the parsed keys of a request, newest first.
// Keys that cannot be parsed are purged.
func (m *Manager) entries(ctx context.Context, requestHash string) ([]Key, error) {
	keys := make([]Key, 0, 1)
	err := m.store.Keys(ctx, cachekey.RequestPrefix(requestHash), func(s string) error {
		key, err := cachekey.Parse(s)
		if err != nil {
			m.log.Warn().Err(err).Str("key", s).Msg("Purging unparseable entry")
			return m.store.Delete(ctx, s)
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].RequestDate.After(keys[j].RequestDate)
	})
	return keys, nil
}

func (m *Manager) purge(ctx context.Context, key Key, reason error) {
	m.log.Warn().Err(reason).Str("key", key.String()).Msg("Purging cache entry")
	if err := m.store.Delete(ctx, key.String()); err != nil {
		m.log.Error().Err(err).Str("key", key.String()).Msg("Could not purge cache entry")
	}
}

// Get returns the entry for the token's request, or nil on a miss.
// Entries of another class and entries that cannot be deserialised are
// purged. Only store failures are returned as errors.
func (m *Manager) Get(ctx context.Context, tok token.RequestToken) (*Deserialised, error) {
	req := tok.Instruction.Request
	keys, err := m.entries(ctx, req.RequestHash)
	if err != nil {
		return nil, fmt.Errorf("could not list cache entries: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	key := keys[0]
	// at most one live entry per request, older ones lost a write race
	for _, old := range keys[1:] {
		m.purge(ctx, old, errors.New("superseded entry"))
	}
	if key.ClassHash != req.ClassHash && !req.IsAny() {
		m.purge(ctx, key, fmt.Errorf("class %s does not match requested class %s", key.ClassHash, req.ClassHash))
		return nil, nil
	}

	payload, ok, err := m.store.Find(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("could not read cache entry: %w", err)
	}
	if !ok {
		return nil, nil
	}
	response, err := m.serialiser.Deserialise(req, key.Serialisation, payload, nil)
	if err != nil {
		var serr *serialisation.Error
		if errors.As(err, &serr) {
			m.purge(ctx, key, err)
			return nil, nil
		}
		return nil, err
	}
	m.log.Trace().Str("key", key.String()).Msg("Read cache entry")
	return &Deserialised{Key: key, Response: response}, nil
}

// Put stores a response, replacing every prior entry of the request.
// Encryption and compression not set on the operation follow the
// previous entry.
func (m *Manager) Put(ctx context.Context, tok token.ResponseToken, response any, op operation.Cache) (Key, error) {
	req := tok.Instruction.Request
	prior, err := m.entries(ctx, req.RequestHash)
	if err != nil {
		return Key{}, fmt.Errorf("could not list cache entries: %w", err)
	}
	if len(prior) > 0 {
		op = inherit(op, prior[0].Serialisation)
	}

	payload, descriptor, err := m.serialiser.Serialise(response, req, op, nil)
	if err != nil {
		for _, key := range prior {
			m.purge(ctx, key, err)
		}
		return Key{}, err
	}

	key := Key{
		RequestHash:   req.RequestHash,
		ClassHash:     req.ClassHash,
		RequestDate:   tok.RequestDate,
		ExpiryDate:    tok.RequestDate.Add(time.Duration(op.DurationSeconds) * time.Second),
		Serialisation: descriptor,
	}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	if err := m.store.Save(ctx, key.String(), payload); err != nil {
		return Key{}, fmt.Errorf("could not write cache entry: %w", err)
	}
	for _, old := range prior {
		if old.String() == key.String() {
			continue
		}
		if err := m.store.Delete(ctx, old.String()); err != nil {
			return key, fmt.Errorf("could not delete prior cache entry: %w", err)
		}
	}
	m.log.Trace().Str("key", key.String()).Time("expiry", key.ExpiryDate).Msg("Cache write")
	return key, nil
}

// inherit fills unset encryption and compression from a previous descriptor.
func inherit(op operation.Cache, descriptor string) operation.Cache {
	tags, err := serialisation.ParseDescriptor(descriptor)
	if err != nil {
		return op
	}
	has := func(tag string) bool {
		for _, t := range tags {
			if t == tag {
				return true
			}
		}
		return false
	}
	if op.Encrypt == nil {
		op.Encrypt = operation.Bool(has(serialisation.EncryptionTag))
	}
	if op.Compress == nil {
		op.Compress = operation.Bool(has(serialisation.CompressionTag))
	}
	return op
}

// ForceInvalidation expires matching entries without touching their payload.
// A Cache operation, or an Invalidate using request parameters, targets the
// token's request; any other Invalidate targets the whole class, or every
// entry for the universal response type.
// It reports whether any entry was found.
func (m *Manager) ForceInvalidation(ctx context.Context, tok token.RequestToken) (bool, error) {
	req := tok.Instruction.Request
	var candidates []Key
	var err error

	scoped := true
	if inv, ok := tok.Instruction.Operation.(operation.Invalidate); ok {
		scoped = inv.UseRequestParameters
	}
	if scoped {
		candidates, err = m.entries(ctx, req.RequestHash)
	} else {
		candidates, err = m.Entries(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("could not list cache entries: %w", err)
	}

	found := false
	for _, key := range candidates {
		if !req.IsAny() && key.ClassHash != req.ClassHash {
			continue
		}
		found = true
		if key.ExpiryDate.IsZero() {
			continue
		}
		expired := key.WithExpiry(time.Time{})
		err := m.store.Rename(ctx, key.String(), expired.String())
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return found, fmt.Errorf("could not invalidate cache entry: %w", err)
		}
		m.log.Trace().Str("key", key.String()).Msg("Invalidated cache entry")
	}
	return found, nil
}

// InvalidateIfNeeded calls ForceInvalidation when the priority of the
// token's Cache operation mandates it.
func (m *Manager) InvalidateIfNeeded(ctx context.Context, tok token.RequestToken) (bool, error) {
	op, ok := tok.CacheOperation()
	if !ok || !op.Priority.Invalidates() {
		return false, nil
	}
	return m.ForceInvalidation(ctx, tok)
}

// ClearCache deletes entries by key alone, payloads are never read.
// Entries must match the request's class unless it is the universal
// response type, and its request hash when UseRequestParameters is set.
// With ClearStaleEntriesOnly only entries expired at now are deleted.
// It returns the number of deleted entries.
func (m *Manager) ClearCache(ctx context.Context, req token.Hashed, op operation.Clear, now time.Time) (int, error) {
	prefix := ""
	if op.UseRequestParameters {
		prefix = cachekey.RequestPrefix(req.RequestHash)
	}
	deleted := 0
	err := m.store.Keys(ctx, prefix, func(s string) error {
		key, err := cachekey.Parse(s)
		if err != nil {
			return nil
		}
		if !req.IsAny() && key.ClassHash != req.ClassHash {
			return nil
		}
		if op.ClearStaleEntriesOnly && !key.Expired(now) {
			return nil
		}
		if err := m.store.Delete(ctx, s); err != nil {
			return err
		}
		deleted++
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("could not clear cache: %w", err)
	}
	m.log.Debug().Int("deleted", deleted).Bool("stale-only", op.ClearStaleEntriesOnly).Msg("Cleared cache")
	return deleted, nil
}

// Entries returns the keys of every entry in the store.
func (m *Manager) Entries(ctx context.Context) ([]Key, error) {
	keys := make([]Key, 0)
	err := m.store.Keys(ctx, "", func(s string) error {
		if key, err := cachekey.Parse(s); err == nil {
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

// Stats reads every entry and summarises the store.
func (m *Manager) Stats(ctx context.Context, now time.Time) (Stats, error) {
	stats := Stats{
		Classes:     make(map[string]int),
		Descriptors: make(map[string]int),
	}
	err := m.store.Values(ctx, "", func(s string, value []byte) error {
		key, err := cachekey.Parse(s)
		if err != nil {
			stats.Unparseable++
			return nil
		}
		stats.Entries++
		stats.Bytes += int64(len(value))
		if key.Expired(now) {
			stats.Expired++
		}
		stats.Classes[key.ClassHash]++
		stats.Descriptors[key.Serialisation]++
		return nil
	})
	return stats, err
}
