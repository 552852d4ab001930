package dejavu

import (
	"context"
	"fmt"

	"github.com/always-cache/dejavu/core"
	"github.com/always-cache/dejavu/operation"
	"github.com/always-cache/dejavu/status"
	"github.com/always-cache/dejavu/token"
)

// Option adjusts the request built by Fetch and Watch.
type Option func(*Request)

// WithOperation sets the request default operation.
func WithOperation(op operation.Operation) Option {
	return func(r *Request) { r.Default = op }
}

// WithHeader sets the operation header.
func WithHeader(header string) Option {
	return func(r *Request) { r.Header = header }
}

// WithPredicate sets the request predicate.
func WithPredicate(predicate func(token.RequestMetadata) operation.Remote) Option {
	return func(r *Request) { r.Predicate = predicate }
}

// Typed is a stream result with its response converted to R.
type Typed[R any] struct {
	Response R
	Token    token.ResponseToken
	Err      error
}

func newRequest[R any](url string, body []byte, opts []Option) Request {
	req := Request{Metadata: token.NewRequest[R](url, body)}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

func network[R any](fetch func(ctx context.Context) (R, error)) core.NetworkFunc {
	return func(ctx context.Context, _ token.RequestToken) (any, error) {
		return fetch(ctx)
	}
}

// passThrough calls fetch without the cache.
func (d *Dejavu) passThrough(meta token.RequestMetadata) token.ResponseToken {
	return token.NewRequestToken(token.Instruction{
		Operation: operation.DoNotCache{},
		Request:   token.Hashed{RequestMetadata: meta},
	}, d.now()).WithStatus(status.NotCached).Response()
}

func typed[R any](d *Dejavu, r core.Result) Typed[R] {
	t := Typed[R]{Token: r.Token, Err: r.Err}
	if r.Response != nil {
		v, ok := r.Response.(R)
		if !ok && t.Err == nil {
			t.Err = fmt.Errorf("unexpected response type %T", r.Response)
		}
		t.Response = v
	}
	if t.Err != nil {
		t.Err = d.mapError(t.Err)
	}
	return t
}

// Fetch returns the terminal result of a request for an R.
// fetch is called when the cache needs the network, or when no operation
// applies to the request.
func Fetch[R any](ctx context.Context, d *Dejavu, url string, body []byte, fetch func(ctx context.Context) (R, error), opts ...Option) (R, token.ResponseToken, error) {
	req := newRequest[R](url, body, opts)
	s, ok := d.Handle(ctx, req, network(fetch), core.Single)
	if !ok {
		r, err := fetch(ctx)
		if err != nil {
			err = d.mapError(err)
		}
		return r, d.passThrough(req.Metadata), err
	}
	res, err := s.Terminal(ctx)
	if err != nil {
		var zero R
		return zero, res.Token, d.mapError(err)
	}
	t := typed[R](d, res)
	return t.Response, t.Token, t.Err
}

// Watch streams the results of a request for an R: an optional STALE
// result followed by the terminal one. The channel is closed after the
// terminal result, or when cancel is called.
func Watch[R any](ctx context.Context, d *Dejavu, url string, body []byte, fetch func(ctx context.Context) (R, error), opts ...Option) (<-chan Typed[R], func()) {
	req := newRequest[R](url, body, opts)
	out := make(chan Typed[R], 2)

	s, ok := d.Handle(ctx, req, network(fetch), core.Streaming)
	if !ok {
		ctx, cancel := context.WithCancel(ctx)
		go func() {
			defer close(out)
			r, err := fetch(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				err = d.mapError(err)
			}
			out <- Typed[R]{Response: r, Token: d.passThrough(req.Metadata), Err: err}
		}()
		return out, cancel
	}

	go func() {
		defer close(out)
		for r := range s.Results() {
			out <- typed[R](d, r)
		}
	}()
	return out, s.Cancel
}
