// Package token carries the identity and progress of a request through the cache.
//
// Tokens are values: every transition returns an updated copy, and the final
// token attached to a result is never reused for another request.
package token

import (
	"time"

	"github.com/always-cache/dejavu/operation"
	"github.com/always-cache/dejavu/status"
)

// Instruction pairs an operation with the request it applies to.
type Instruction struct {
	Operation operation.Operation
	Request   Hashed
}

// CallDuration records where time was spent handling a request.
type CallDuration struct {
	Disk    time.Duration
	Network time.Duration
	Total   time.Duration
}

// RequestToken is created when a request enters the cache.
type RequestToken struct {
	Instruction Instruction
	Status      status.CacheStatus
	RequestDate time.Time
}

// ResponseToken describes an emitted result.
type ResponseToken struct {
	RequestToken
	// CacheDate and ExpiryDate are set once the response has been cached.
	CacheDate  *time.Time
	ExpiryDate *time.Time
	Duration   CallDuration
}

// NewRequestToken returns a token with the INSTRUCTION status.
func NewRequestToken(instruction Instruction, requestDate time.Time) RequestToken {
	return RequestToken{
		Instruction: instruction,
		Status:      status.Instruction,
		RequestDate: requestDate,
	}
}

// CacheOperation returns the Cache operation of the instruction, if any.
func (t RequestToken) CacheOperation() (operation.Cache, bool) {
	op, ok := t.Instruction.Operation.(operation.Cache)
	return op, ok
}

// WithStatus returns a copy of the token with the given status.
func (t RequestToken) WithStatus(s status.CacheStatus) RequestToken {
	t.Status = s
	return t
}

// Response converts the request token into a response token.
func (t RequestToken) Response() ResponseToken {
	return ResponseToken{RequestToken: t}
}

// WithStatus returns a copy of the token with the given status.
func (t ResponseToken) WithStatus(s status.CacheStatus) ResponseToken {
	t.Status = s
	return t
}

// WithDates returns a copy of the token with the cache and expiry dates set.
func (t ResponseToken) WithDates(cacheDate, expiryDate time.Time) ResponseToken {
	t.CacheDate = &cacheDate
	t.ExpiryDate = &expiryDate
	return t
}

// WithDuration returns a copy of the token with the call duration set.
func (t ResponseToken) WithDuration(d CallDuration) ResponseToken {
	t.Duration = d
	return t
}
