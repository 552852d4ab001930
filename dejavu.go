// Package dejavu caches responses of typed requests.
//
// Each request carries an operation, resolved from a predicate, a header
// value or a declarative default, that tells the cache whether to store,
// serve, invalidate or clear entries. Results are delivered as a stream
// which may carry a STALE response before the terminal one.
package dejavu

import (
	"context"
	"fmt"
	"time"

	"github.com/always-cache/dejavu/cache"
	"github.com/always-cache/dejavu/core"
	"github.com/always-cache/dejavu/operation"
	"github.com/always-cache/dejavu/persistence"
	"github.com/always-cache/dejavu/serialisation"
	"github.com/always-cache/dejavu/token"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	// Storage for cache entries. An in-memory store is used if nil.
	Store cache.Store
	// Object serialisers, tried in order. Protobuf then JSON if empty.
	Serialisers []serialisation.ObjectSerialiser
	// Decorator chain. Compression, encryption if EncryptionKey is set,
	// and the format tag if nil.
	Decorators []serialisation.Decorator
	// EncryptionKey is the 32 byte key of the default encryption decorator.
	EncryptionKey []byte
	// Hasher computes request fingerprints. SHA-256 and xxhash if nil.
	Hasher token.Hasher
	// Logger to use. A console logger is used if nil.
	Logger         *zerolog.Logger
	Observer       core.Observer
	TracerProvider trace.TracerProvider
	// DefaultDurationSeconds applies to Cache operations without a duration.
	DefaultDurationSeconds int
	// Zero means no timeout.
	RequestTimeout      time.Duration
	ConnectivityTimeout time.Duration
	Connectivity        core.Connectivity
	Clock               func() time.Time
	// Predicate is consulted for every request after the per-request
	// predicate. It overrides header and declarative operations.
	Predicate func(token.RequestMetadata) operation.Remote
	// Rules are the last declarative source.
	Rules Rules
	// MapError converts errors returned by Fetch and Watch.
	MapError func(error) error
}

// Dejavu resolves operations and hands them to the cache manager.
type Dejavu struct {
	store       cache.Store
	hasher      token.Hasher
	persistence *persistence.Manager
	manager     *core.Manager
	log         zerolog.Logger
	predicate   func(token.RequestMetadata) operation.Remote
	rules       Rules
	mapError    func(error) error
	now         func() time.Time
}

// New builds the cache from its configuration.
func New(config Config) (*Dejavu, error) {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	store := config.Store
	if store == nil {
		store = cache.NewMemStore()
	}
	decorators := config.Decorators
	if decorators == nil {
		var err error
		if decorators, err = serialisation.DefaultDecorators(config.EncryptionKey); err != nil {
			return nil, err
		}
	}
	serialiser, err := serialisation.NewManager(config.Serialisers, decorators)
	if err != nil {
		return nil, fmt.Errorf("invalid serialisation config: %w", err)
	}
	for _, rule := range config.Rules {
		if _, err := rule.operation(); err != nil {
			return nil, fmt.Errorf("invalid rule %+v: %w", rule, err)
		}
	}

	hasher := config.Hasher
	if hasher == nil {
		hasher = token.DefaultHasher{}
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	mapError := config.MapError
	if mapError == nil {
		mapError = func(err error) error { return err }
	}

	p := persistence.NewManager(store, serialiser, logger)
	d := &Dejavu{
		store:       store,
		hasher:      hasher,
		persistence: p,
		manager: core.NewManager(core.Config{
			Persistence:    p,
			Logger:         &logger,
			Observer:       config.Observer,
			TracerProvider: config.TracerProvider,
			Connectivity:   config.Connectivity,
			Timeouts: core.Timeouts{
				Request:      config.RequestTimeout,
				Connectivity: config.ConnectivityTimeout,
			},
			DefaultDurationSeconds: config.DefaultDurationSeconds,
			Clock:                  now,
		}),
		log:       logger.With().Str("component", "dejavu").Logger(),
		predicate: config.Predicate,
		rules:     config.Rules,
		mapError:  mapError,
		now:       now,
	}
	d.log.Debug().Strs("decorators", serialiser.Tags()).Msg("Cache created")
	return d, nil
}

// Handle resolves the operation of req and runs it.
// It returns false when no operation applies; the caller should then call
// the network itself.
func (d *Dejavu) Handle(ctx context.Context, req Request, network core.NetworkFunc, mode core.Mode) (*core.Stream, bool) {
	op, ok := d.Resolve(req)
	if !ok {
		d.log.Trace().Str("url", req.Metadata.URL).Msg("No operation, passing through")
		return nil, false
	}
	return d.HandleOperation(ctx, req.Metadata, op, network, mode)
}

// HandleOperation runs op for the request, skipping resolution.
func (d *Dejavu) HandleOperation(ctx context.Context, meta token.RequestMetadata, op operation.Operation, network core.NetworkFunc, mode core.Mode) (*core.Stream, bool) {
	hashed, err := d.hasher.Hash(meta)
	if err != nil {
		d.log.Warn().Err(err).Str("url", meta.URL).Msg("Could not hash request, passing through")
		return nil, false
	}
	tok := token.NewRequestToken(token.Instruction{Operation: op, Request: hashed}, d.now())
	return d.manager.Handle(ctx, tok, network, mode), true
}

// Persistence gives direct access to stored entries.
func (d *Dejavu) Persistence() *persistence.Manager {
	return d.persistence
}

// Close closes the store.
func (d *Dejavu) Close() error {
	return d.store.Close()
}
