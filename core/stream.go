package core

import (
	"context"
	"errors"
	"sync"

	"github.com/always-cache/dejavu/token"
)

// ErrCancelled is returned by Terminal when the stream ended without a
// terminal result.
var ErrCancelled = errors.New("request cancelled")

// Mode selects how results are emitted.
type Mode int

const (
	// Streaming may emit a STALE result before the terminal one.
	Streaming Mode = iota
	// Single emits the terminal result only.
	Single
)

func (m Mode) String() string {
	if m == Single {
		return "single"
	}
	return "streaming"
}

// Result is one emitted item of a stream.
// Err is set for every status flagged as an error and may be set for DONE
// and NOT_CACHED when the operation failed.
type Result struct {
	Response any
	Token    token.ResponseToken
	Err      error
}

// Final reports whether the result terminates its stream.
func (r Result) Final() bool {
	return r.Token.Status.IsFinal()
}

// Stream delivers zero or one STALE result followed by exactly one
// terminal result, unless cancelled first.
type Stream struct {
	results chan Result
	cancel  context.CancelFunc
	once    sync.Once
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		// never blocks the producer, a stream holds at most two items
		results: make(chan Result, 2),
		cancel:  cancel,
	}
}

// Results returns the channel of results. It is closed after the terminal
// result, or without one when the stream is cancelled.
func (s *Stream) Results() <-chan Result {
	return s.results
}

// Cancel stops the request. An in-flight network call has its context
// cancelled and no further results are emitted.
func (s *Stream) Cancel() {
	s.cancel()
}

// Terminal blocks until the terminal result, skipping intermediate ones.
func (s *Stream) Terminal(ctx context.Context) (Result, error) {
	for {
		select {
		case <-ctx.Done():
			s.Cancel()
			return Result{}, ctx.Err()
		case r, ok := <-s.results:
			if !ok {
				return Result{}, ErrCancelled
			}
			if r.Final() {
				return r, nil
			}
		}
	}
}

func (s *Stream) emit(r Result) {
	s.results <- r
}

func (s *Stream) close() {
	s.once.Do(func() {
		close(s.results)
		s.cancel()
	})
}
