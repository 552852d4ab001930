// Package core runs cache instructions against the persistence layer and
// the network.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/always-cache/dejavu/operation"
	"github.com/always-cache/dejavu/persistence"
	"github.com/always-cache/dejavu/status"
	"github.com/always-cache/dejavu/token"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/always-cache/dejavu/core"

var (
	attrOperation = attribute.Key("dejavu.operation")
	attrPriority  = attribute.Key("dejavu.priority")
	attrStatus    = attribute.Key("dejavu.status")
	attrURL       = attribute.Key("dejavu.url")
)

// Observer is told about every emitted result and every failed cache write.
type Observer interface {
	ObserveResult(r Result)
	ObserveWriteError(tok token.RequestToken, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveResult(Result)                        {}
func (nopObserver) ObserveWriteError(token.RequestToken, error) {}

type Config struct {
	Persistence *persistence.Manager
	// Logger to use. A console logger is used if nil.
	Logger   *zerolog.Logger
	Observer Observer
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	Connectivity   Connectivity
	Timeouts       Timeouts
	// DefaultDurationSeconds applies to Cache operations without a duration.
	DefaultDurationSeconds int
	Clock                  func() time.Time
}

// Manager handles cache instructions.
type Manager struct {
	persistence     *persistence.Manager
	metadata        MetadataManager
	log             zerolog.Logger
	observer        Observer
	tracer          trace.Tracer
	connectivity    Connectivity
	timeouts        Timeouts
	defaultDuration int
	now             func() time.Time
}

func NewManager(config Config) *Manager {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	observer := config.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	duration := config.DefaultDurationSeconds
	if duration <= 0 {
		duration = operation.DefaultDurationSeconds
	}
	return &Manager{
		persistence:     config.Persistence,
		metadata:        NewMetadataManager(now),
		log:             logger.With().Str("component", "cache-manager").Logger(),
		observer:        observer,
		tracer:          tp.Tracer(instrumentationName),
		connectivity:    config.Connectivity,
		timeouts:        config.Timeouts,
		defaultDuration: duration,
		now:             now,
	}
}

// Handle runs the token's instruction and returns its result stream.
// network is called at most once, never for local operations.
func (m *Manager) Handle(ctx context.Context, tok token.RequestToken, network NetworkFunc, mode Mode) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	go func() {
		defer s.close()
		m.run(ctx, tok, network, mode, s)
	}()
	return s
}

// handling carries the state of one request.
type handling struct {
	m      *Manager
	ctx    context.Context
	tok    token.RequestToken
	stream *Stream
	span   trace.Span
	timer  *timer
	log    zerolog.Logger
}

func (h *handling) emit(s status.CacheStatus, response any, key *persistence.Key, err error) {
	r := Result{
		Response: response,
		Token:    h.m.metadata.Token(h.tok, s, key, h.timer.duration()),
		Err:      err,
	}
	h.log.Debug().Stringer("status", s).AnErr("error", err).Msg("Emitting result")
	if r.Final() {
		h.span.SetAttributes(attrStatus.String(s.String()))
		if err != nil {
			h.span.RecordError(err)
			h.span.SetStatus(codes.Error, err.Error())
		} else {
			h.span.SetStatus(codes.Ok, "")
		}
	}
	h.m.observer.ObserveResult(r)
	h.stream.emit(r)
}

func (m *Manager) run(ctx context.Context, tok token.RequestToken, network NetworkFunc, mode Mode, s *Stream) {
	op := tok.Instruction.Operation
	ctx, span := m.tracer.Start(ctx, "dejavu.handle",
		trace.WithAttributes(
			attrOperation.String(op.Name()),
			attrURL.String(tok.Instruction.Request.URL),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	h := &handling{
		m:      m,
		ctx:    ctx,
		tok:    tok,
		stream: s,
		span:   span,
		timer:  m.metadata.timer(),
		log: m.log.With().
			Str("operation", op.Name()).
			Str("url", tok.Instruction.Request.URL).
			Logger(),
	}
	h.log.Trace().Stringer("mode", mode).Msg("Handling request")

	switch op := op.(type) {
	case operation.Clear:
		start := m.now()
		n, err := m.persistence.ClearCache(ctx, tok.Instruction.Request, op, m.now())
		h.timer.disk(start)
		if err != nil {
			h.log.Error().Err(err).Msg("Could not clear cache")
		}
		h.log.Trace().Int("deleted", n).Msg("Cleared entries")
		h.emit(status.Done, nil, nil, err)
	case operation.Invalidate:
		start := m.now()
		_, err := m.persistence.ForceInvalidation(ctx, tok)
		h.timer.disk(start)
		if err != nil {
			h.log.Error().Err(err).Msg("Could not invalidate cache")
		}
		h.emit(status.Done, nil, nil, err)
	case operation.DoNotCache:
		response, ok, err := h.fetch(network, m.timeouts)
		if !ok {
			return
		}
		h.emit(status.NotCached, response, nil, err)
	case operation.Cache:
		h.cache(op, network, mode)
	default:
		h.emit(status.Empty, nil, nil, fmt.Errorf("unsupported operation %T", op))
	}
}

// fetch calls the network unless the request was cancelled.
// ok is false when the request was cancelled and nothing may be emitted.
func (h *handling) fetch(network NetworkFunc, timeouts Timeouts) (any, bool, error) {
	if h.ctx.Err() != nil {
		h.log.Trace().Msg("Cancelled before network call")
		return nil, false, nil
	}
	start := h.m.now()
	response, err := fetch(h.ctx, network, h.tok, h.m.connectivity, timeouts)
	h.timer.network(start)
	if h.ctx.Err() != nil {
		h.log.Trace().Msg("Cancelled during network call")
		return nil, false, nil
	}
	if err != nil {
		err = fmt.Errorf("network call failed: %w", err)
	}
	return response, true, err
}

func (h *handling) cache(op operation.Cache, network NetworkFunc, mode Mode) {
	m := h.m
	if op.DurationSeconds <= 0 {
		op.DurationSeconds = m.defaultDuration
	}
	h.span.SetAttributes(attrPriority.String(op.Priority.String()))

	start := m.now()
	if _, err := m.persistence.InvalidateIfNeeded(h.ctx, h.tok); err != nil {
		h.timer.disk(start)
		h.log.Error().Err(err).Msg("Could not invalidate before read")
		h.emit(status.Empty, nil, nil, err)
		return
	}
	cached, err := m.persistence.Get(h.ctx, h.tok)
	h.timer.disk(start)
	if err != nil {
		h.log.Error().Err(err).Msg("Could not read from cache")
		h.emit(status.Empty, nil, nil, err)
		return
	}

	plan := m.metadata.Classify(op, cached, mode)
	h.log.Trace().Bool("cached", cached != nil).Stringer("immediate", plan.Immediate).Bool("interim", plan.Interim).Msg("Classified request")
	if !plan.Network() {
		if plan.Cached != nil {
			h.emit(plan.Immediate, plan.Cached.Response, &plan.Cached.Key, plan.ImmediateErr)
		} else {
			h.emit(plan.Immediate, nil, nil, plan.ImmediateErr)
		}
		return
	}
	if plan.Interim {
		h.emit(status.Stale, plan.Cached.Response, &plan.Cached.Key, nil)
	}

	response, ok, networkErr := h.fetch(network, m.timeouts.For(op))
	if !ok {
		return
	}
	outcome := m.metadata.Outcome(plan, networkErr)
	if networkErr != nil {
		h.log.Debug().Err(networkErr).Msg("Network call failed")
		if plan.Cached != nil {
			h.emit(outcome, plan.Cached.Response, &plan.Cached.Key, networkErr)
		} else {
			h.emit(outcome, nil, nil, networkErr)
		}
		return
	}

	start = m.now()
	key, err := m.persistence.Put(h.ctx, h.tok.WithStatus(outcome).Response(), response, op)
	h.timer.disk(start)
	if err != nil {
		h.log.Error().Err(err).Msg("Could not write to cache")
		m.observer.ObserveWriteError(h.tok, err)
		h.emit(outcome, response, nil, nil)
		return
	}
	h.emit(outcome, response, &key, nil)
}
