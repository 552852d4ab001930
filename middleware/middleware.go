// Package middleware caches the responses of an http.Handler.
//
// The operation of a request comes from the Dejavu-Operation header, the
// request Cache-Control directives when enabled, or the configured rules.
// Requests without an operation pass through. A stale response is sent
// immediately and refreshed in the background.
package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/always-cache/dejavu"
	"github.com/always-cache/dejavu/core"
	"github.com/always-cache/dejavu/operation"
	cacheupdate "github.com/always-cache/dejavu/pkg/cache-update"
	"github.com/always-cache/dejavu/status"
	"github.com/always-cache/dejavu/token"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultHeaderName = "Dejavu-Operation"
	DefaultCacheName  = "dejavu"
	StatusHeaderName  = "Dejavu-Status"
)

type Config struct {
	Dejavu *dejavu.Dejavu
	Rules  Rules
	// HeaderName carries the operation override. DefaultHeaderName if empty.
	HeaderName string
	// CacheName identifies the cache in Cache-Status. DefaultCacheName if empty.
	CacheName string
	// HonourCacheControl maps request Cache-Control directives to operations.
	HonourCacheControl bool
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	Clock  func() time.Time
}

type Middleware struct {
	dejavu             *dejavu.Dejavu
	rules              Rules
	headerName         string
	cacheName          string
	honourCacheControl bool
	log                zerolog.Logger
	now                func() time.Time
	// background refreshes and delayed updates
	wg sync.WaitGroup
}

func New(config Config) *Middleware {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	m := &Middleware{
		dejavu:             config.Dejavu,
		rules:              config.Rules,
		headerName:         config.HeaderName,
		cacheName:          config.CacheName,
		honourCacheControl: config.HonourCacheControl,
		log:                logger.With().Str("component", "middleware").Logger(),
		now:                config.Clock,
	}
	if m.headerName == "" {
		m.headerName = DefaultHeaderName
	}
	if m.cacheName == "" {
		m.cacheName = DefaultCacheName
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Middleware wraps next with the cache.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.serve(next, w, r)
	})
}

// Wait blocks until background refreshes and delayed updates are done.
func (m *Middleware) Wait() {
	m.wg.Wait()
}

type request struct {
	r    *http.Request
	body []byte
	log  zerolog.Logger
}

func (m *Middleware) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	req := request{
		r: r,
		log: m.log.With().
			Str("request-id", uuid.NewString()).
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Logger(),
	}
	if hasBody(r.Method) && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			req.log.Error().Err(err).Msg("Could not read request body")
			http.Error(w, "could not read request body", http.StatusBadRequest)
			return
		}
		req.body = body
	}

	// the stream outlives the client request when a stale response is refreshed
	ctx := context.WithoutCancel(r.Context())
	network := m.network(next, req)
	stream, ok := m.dejavu.Handle(ctx, dejavu.Request{
		Metadata: metadata(r, req.body),
		Header:   r.Header.Get(m.headerName),
		Default:  m.defaultOperation(r, req.log),
	}, network, core.Streaming)
	if !ok {
		m.passThrough(ctx, w, req, network)
		return
	}

	first, ok := <-stream.Results()
	if !ok {
		req.log.Error().Msg("Stream ended without result")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	m.write(w, req, first)
	if first.Final() {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for res := range stream.Results() {
			req.log.Debug().Stringer("status", res.Token.Status).AnErr("error", res.Err).Msg("Refreshed in background")
		}
	}()
}

func (m *Middleware) passThrough(ctx context.Context, w http.ResponseWriter, req request, network core.NetworkFunc) {
	res, err := network(ctx, token.RequestToken{})
	var upstream *UpstreamStatusError
	switch {
	case err == nil:
		res.(StoredResponse).write(w)
	case errors.As(err, &upstream):
		upstream.Response.write(w)
	default:
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	}
	m.logRequest(req, "")
}

// defaultOperation returns the operation from request directives or rules.
func (m *Middleware) defaultOperation(r *http.Request, log zerolog.Logger) operation.Operation {
	op := m.rules.operation(r, log)
	if !m.honourCacheControl {
		return op
	}
	base, ok := op.(operation.Cache)
	if !ok {
		base = operation.Cache{}
	}
	if ccOp := requestOperation(r.Header.Get("Cache-Control"), base); ccOp != nil {
		return ccOp
	}
	return op
}

// network runs next into a ResponseSaver. Unsuccessful responses are
// returned as an UpstreamStatusError.
func (m *Middleware) network(next http.Handler, req request) core.NetworkFunc {
	return func(ctx context.Context, tok token.RequestToken) (any, error) {
		upReq := req.r.Clone(ctx)
		upReq.Header.Del(m.headerName)
		if req.body != nil {
			upReq.Body = io.NopCloser(bytes.NewReader(req.body))
			upReq.ContentLength = int64(len(req.body))
		}
		saver := NewResponseSaver()
		next.ServeHTTP(saver, upReq)
		res := saver.Response()
		if !isSuccess(res.StatusCode) {
			return nil, &UpstreamStatusError{Response: res}
		}
		m.updateIfNeeded(ctx, next, upReq, res.Header, req.log)
		if _, ok := tok.CacheOperation(); ok {
			return res.storable(), nil
		}
		return res, nil
	}
}

func (m *Middleware) write(w http.ResponseWriter, req request, res core.Result) {
	stored, ok := res.Response.(StoredResponse)
	if !ok {
		stored = errorResponse(res)
	}
	h := w.Header()
	copyHeader(h, stored.Header)
	h.Set(StatusHeaderName, res.Token.Status.String())
	h.Set("Cache-Status", res.Token.Status.Header(m.cacheName))
	if res.Token.Status.IsFromCache() && res.Token.CacheDate != nil {
		age := m.now().Sub(*res.Token.CacheDate)
		if age < 0 {
			age = 0
		}
		h.Set("Age", strconv.Itoa(int(age.Seconds())))
	}
	statusCode := stored.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	w.WriteHeader(statusCode)
	if _, err := w.Write(stored.Body); err != nil {
		req.log.Error().Err(err).Msg("Could not write response body to client")
	}
	m.logRequest(req, res.Token.Status.String())
}

// errorResponse is sent for results without a stored response.
func errorResponse(res core.Result) StoredResponse {
	var upstream *UpstreamStatusError
	switch {
	case errors.As(res.Err, &upstream):
		return upstream.Response
	case res.Err == nil && res.Token.Status == status.Done:
		return StoredResponse{StatusCode: http.StatusNoContent}
	case errors.Is(res.Err, core.ErrRequestTimeout),
		errors.Is(res.Err, core.ErrConnectivityTimeout),
		errors.Is(res.Err, core.ErrNoCachedEntry),
		errors.Is(res.Err, core.ErrNoFreshEntry):
		return plain(http.StatusGatewayTimeout)
	case res.Token.Status == status.Done:
		return plain(http.StatusInternalServerError)
	}
	return plain(http.StatusBadGateway)
}

func plain(statusCode int) StoredResponse {
	return StoredResponse{
		StatusCode: statusCode,
		Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte(http.StatusText(statusCode) + "\n"),
	}
}

// updateIfNeeded refreshes the resources changed by a successful unsafe
// request: the request URI, same-host Location and Content-Location, and
// the Cache-Update entries.
func (m *Middleware) updateIfNeeded(ctx context.Context, next http.Handler, r *http.Request, header http.Header, log zerolog.Logger) {
	if !cacheupdate.UnsafeRequest(r) {
		return
	}
	seen := make(map[string]bool)
	refresh := func(u *url.URL, delay time.Duration) {
		if u == nil || (u.Host != "" && !strings.EqualFold(u.Host, r.Host)) || seen[u.RequestURI()] {
			return
		}
		seen[u.RequestURI()] = true
		if delay <= 0 {
			m.refresh(ctx, next, r, u, log)
			return
		}
		// the request is done by the time the update runs
		delayed := context.WithoutCancel(ctx)
		m.wg.Add(1)
		time.AfterFunc(delay, func() {
			defer m.wg.Done()
			m.refresh(delayed, next, r, u, log)
		})
	}

	refresh(r.URL, 0)
	for _, name := range []string{"Location", "Content-Location"} {
		if v := header.Get(name); v != "" {
			if ref, err := url.Parse(v); err == nil {
				refresh(r.URL.ResolveReference(ref), 0)
			}
		}
	}
	for _, update := range cacheupdate.GetCacheUpdates(r, header) {
		log.Trace().Str("update", update.Path()).Dur("delay", update.Delay).Msg("Updating cache based on header")
		refresh(update.URL, update.Delay)
	}
}

// refresh fetches a GET of u into the cache if it resolves to a Cache
// operation, and invalidates it otherwise.
func (m *Middleware) refresh(ctx context.Context, next http.Handler, orig *http.Request, u *url.URL, log zerolog.Logger) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		log.Error().Err(err).Str("path", u.Path).Msg("Could not create request for updates")
		return
	}
	r.Host = orig.Host
	r.TLS = orig.TLS
	r.RemoteAddr = orig.RemoteAddr
	r.Header = orig.Header.Clone()
	for _, name := range []string{"Content-Type", "Content-Length", "Cache-Control", m.headerName} {
		r.Header.Del(name)
	}

	meta := metadata(r, nil)
	op, ok := m.dejavu.Resolve(dejavu.Request{Metadata: meta, Default: m.rules.operation(r, log)})
	var network core.NetworkFunc
	if c, isCache := op.(operation.Cache); ok && isCache {
		c.Priority = operation.InvalidateThenFetch
		op = c
		network = m.network(next, request{r: r, log: log})
	} else {
		op = operation.Invalidate{UseRequestParameters: true}
	}

	stream, ok := m.dejavu.HandleOperation(ctx, meta, op, network, core.Single)
	if !ok {
		return
	}
	res, err := stream.Terminal(ctx)
	if err == nil {
		err = res.Err
	}
	if err != nil {
		log.Error().Err(err).Str("path", u.Path).Msg("Could not save updates")
		return
	}
	log.Trace().Str("path", u.Path).Stringer("status", res.Token.Status).Msg("Updated cache entry")
}

// metadata identifies a request. Requests other than GET are qualified by
// their method and body.
func metadata(r *http.Request, body []byte) token.RequestMetadata {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	meta := token.NewRequest[StoredResponse](scheme+"://"+r.Host+r.URL.RequestURI(), nil)
	if r.Method != http.MethodGet {
		meta.Body = append([]byte(r.Method+"\n"), body...)
	}
	return meta
}

// StoredRequest returns the metadata of a GET request for rawURL, as the
// middleware stores it.
func StoredRequest(rawURL string) token.RequestMetadata {
	return token.NewRequest[StoredResponse](rawURL, nil)
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func (m *Middleware) logRequest(req request, cacheStatus string) {
	req.log.Debug().
		Str("sourceIp", getRequestSourceIp(req.r)).
		Str("status", cacheStatus).
		Bool("cached", cacheStatus != "").
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
