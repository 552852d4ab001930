package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/always-cache/dejavu/operation"
	"github.com/always-cache/dejavu/token"
)

var (
	ErrRequestTimeout      = errors.New("request timed out")
	ErrConnectivityTimeout = errors.New("timed out waiting for connectivity")
)

// NetworkFunc fetches the response of a request. It is called at most once
// per handled request and must honour ctx.
type NetworkFunc func(ctx context.Context, tok token.RequestToken) (any, error)

// Connectivity reports when the network is reachable.
type Connectivity interface {
	// WaitOnline blocks until the network is reachable or ctx is done.
	WaitOnline(ctx context.Context) error
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func(ctx context.Context) error

func (f ConnectivityFunc) WaitOnline(ctx context.Context) error {
	return f(ctx)
}

// Online is always reachable.
type Online struct{}

func (Online) WaitOnline(context.Context) error { return nil }

// Timeouts bound network calls. Zero means no timeout.
type Timeouts struct {
	Request      time.Duration
	Connectivity time.Duration
}

// For returns the timeouts of an operation, falling back to t.
func (t Timeouts) For(op operation.Cache) Timeouts {
	if op.RequestTimeoutSeconds != nil {
		t.Request = time.Duration(*op.RequestTimeoutSeconds) * time.Second
	}
	if op.ConnectivityTimeoutSeconds != nil {
		t.Connectivity = time.Duration(*op.ConnectivityTimeoutSeconds) * time.Second
	}
	return t
}

type fetched struct {
	response any
	err      error
}

// fetch waits for connectivity and then calls network within the request timeout.
func fetch(ctx context.Context, network NetworkFunc, tok token.RequestToken, conn Connectivity, timeouts Timeouts) (any, error) {
	if conn != nil {
		wctx, cancel := withTimeout(ctx, timeouts.Connectivity)
		err := conn.WaitOnline(wctx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrConnectivityTimeout, timeouts.Connectivity)
			}
			return nil, err
		}
	}

	rctx, cancel := withTimeout(ctx, timeouts.Request)
	defer cancel()
	done := make(chan fetched, 1)
	go func() {
		response, err := network(rctx, tok)
		done <- fetched{response, err}
	}()
	select {
	case f := <-done:
		if f.err != nil && ctx.Err() == nil && errors.Is(f.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrRequestTimeout, timeouts.Request, f.err)
		}
		return f.response, f.err
	case <-rctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrRequestTimeout, timeouts.Request)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
