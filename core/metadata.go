package core

import (
	"errors"
	"time"

	"github.com/always-cache/dejavu/operation"
	"github.com/always-cache/dejavu/persistence"
	"github.com/always-cache/dejavu/status"
	"github.com/always-cache/dejavu/token"
)

var (
	// ErrNoCachedEntry is carried by EMPTY results of requests that may not
	// use the network.
	ErrNoCachedEntry = errors.New("no cached entry")
	// ErrNoFreshEntry is carried by EMPTY results of local-only requests
	// that require fresh data.
	ErrNoFreshEntry = errors.New("no fresh cached entry")
)

// Plan is the classification of a request before any network call.
type Plan struct {
	// Cached is the usable stored entry, nil when absent or ignored.
	Cached *persistence.Deserialised
	// Immediate is the terminal status when no network call is needed,
	// status.Instruction otherwise.
	Immediate status.CacheStatus
	// ImmediateErr accompanies an immediate EMPTY.
	ImmediateErr error
	// Interim is set when a STALE result precedes the network call.
	Interim bool
}

// Network reports whether the plan requires a network call.
func (p Plan) Network() bool {
	return p.Immediate == status.Instruction
}

// MetadataManager computes statuses and result tokens.
type MetadataManager struct {
	now func() time.Time
}

func NewMetadataManager(now func() time.Time) MetadataManager {
	if now == nil {
		now = time.Now
	}
	return MetadataManager{now: now}
}

// Classify decides how a Cache request proceeds given its stored entry.
func (m MetadataManager) Classify(op operation.Cache, cached *persistence.Deserialised, mode Mode) Plan {
	p := op.Priority
	if cached == nil {
		if !p.HasNetworkAccess() {
			return Plan{Immediate: status.Empty, ImmediateErr: ErrNoCachedEntry}
		}
		return Plan{Immediate: status.Instruction}
	}
	if !persistence.IsExpired(cached.Key, m.now()) {
		return Plan{Cached: cached, Immediate: status.Fresh}
	}
	if !p.AcceptsStale() {
		// expired entries do not exist for fresh-only requests
		if !p.HasNetworkAccess() {
			return Plan{Immediate: status.Empty, ImmediateErr: ErrNoFreshEntry}
		}
		return Plan{Immediate: status.Instruction}
	}
	if !p.HasNetworkAccess() {
		return Plan{Cached: cached, Immediate: status.OfflineStale}
	}
	return Plan{
		Cached:    cached,
		Immediate: status.Instruction,
		Interim:   mode == Streaming && p.EmitsStale(),
	}
}

// Outcome returns the terminal status after the network call of a plan.
func (m MetadataManager) Outcome(plan Plan, networkErr error) status.CacheStatus {
	switch {
	case plan.Cached == nil && networkErr == nil:
		return status.Network
	case plan.Cached == nil:
		return status.Empty
	case networkErr == nil:
		return status.Refreshed
	}
	return status.CouldNotRefresh
}

// Token builds the result token for a status. Dates come from the stored
// entry the result is based on, if any.
func (m MetadataManager) Token(tok token.RequestToken, s status.CacheStatus, key *persistence.Key, d token.CallDuration) token.ResponseToken {
	rt := tok.WithStatus(s).Response().WithDuration(d)
	if key != nil {
		rt = rt.WithDates(key.RequestDate, key.ExpiryDate)
	}
	return rt
}

// timer records where the time of a request goes.
type timer struct {
	now   func() time.Time
	start time.Time
	d     token.CallDuration
}

func (m MetadataManager) timer() *timer {
	return &timer{now: m.now, start: m.now()}
}

func (t *timer) disk(since time.Time) {
	t.d.Disk += t.now().Sub(since)
}

func (t *timer) network(since time.Time) {
	t.d.Network += t.now().Sub(since)
}

func (t *timer) duration() token.CallDuration {
	d := t.d
	d.Total = t.now().Sub(t.start)
	return d
}
