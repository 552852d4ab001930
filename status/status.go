// Package status classifies every response handled by the cache.
package status

import "fmt"

// CacheStatus is the state of a request as it moves through the cache.
//
//	INSTRUCTION -> NOT_CACHED | NETWORK | FRESH | STALE | OFFLINE_STALE | EMPTY | DONE
//	STALE       -> REFRESHED | COULD_NOT_REFRESH
//
// Only STALE is non-final.
type CacheStatus int

const (
	Instruction CacheStatus = iota
	NotCached
	Network
	Fresh
	Stale
	OfflineStale
	Refreshed
	CouldNotRefresh
	Empty
	Done
)

type flags struct {
	name      string
	final     bool
	single    bool
	fresh     bool
	fromCache bool
	err       bool
}

var table = [...]flags{
	Instruction:     {"INSTRUCTION", false, false, false, false, false},
	NotCached:       {"NOT_CACHED", true, true, true, false, false},
	Network:         {"NETWORK", true, true, true, false, false},
	Fresh:           {"FRESH", true, true, true, true, false},
	Stale:           {"STALE", false, false, false, true, false},
	OfflineStale:    {"OFFLINE_STALE", true, true, false, true, false},
	Refreshed:       {"REFRESHED", true, false, true, false, false},
	CouldNotRefresh: {"COULD_NOT_REFRESH", true, false, false, true, true},
	Empty:           {"EMPTY", true, true, false, false, true},
	Done:            {"DONE", true, true, false, false, false},
}

// All returns every status in declaration order.
func All() []CacheStatus {
	out := make([]CacheStatus, len(table))
	for i := range table {
		out[i] = CacheStatus(i)
	}
	return out
}

func (s CacheStatus) valid() bool {
	return s >= 0 && int(s) < len(table)
}

func (s CacheStatus) String() string {
	if !s.valid() {
		return fmt.Sprintf("CacheStatus(%d)", int(s))
	}
	return table[s].name
}

// IsFinal reports whether the status terminates the request's stream.
func (s CacheStatus) IsFinal() bool { return s.valid() && table[s].final }

// IsSingle reports whether the status is always the only item of its stream.
func (s CacheStatus) IsSingle() bool { return s.valid() && table[s].single }

// IsFresh reports whether the attached data is fresh.
func (s CacheStatus) IsFresh() bool { return s.valid() && table[s].fresh }

// IsFromCache reports whether the attached data was read from the store.
func (s CacheStatus) IsFromCache() bool { return s.valid() && table[s].fromCache }

// IsError reports whether the status always carries an error.
func (s CacheStatus) IsError() bool { return s.valid() && table[s].err }

// Parse returns the status with the given name.
func Parse(name string) (CacheStatus, error) {
	for i, f := range table {
		if f.name == name {
			return CacheStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown cache status %q", name)
}

// Header formats the status as a Cache-Status header field value (RFC 9211),
// e.g. `dejavu; hit` or `dejavu; fwd=stale; detail=REFRESHED`.
func (s CacheStatus) Header(cacheName string) string {
	status := cacheName
	switch s {
	case Fresh, OfflineStale, Stale:
		status += "; hit"
	case NotCached:
		status += "; fwd=bypass"
	case Network, Empty:
		status += "; fwd=uri-miss"
	case Refreshed, CouldNotRefresh:
		status += "; fwd=stale"
	}
	if s == Network || s == Refreshed {
		status += "; stored"
	}
	return status + "; detail=" + s.String()
}
