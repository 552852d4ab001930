package operation

import "fmt"

// Behaviour describes how a request may use the network.
type Behaviour int

const (
	// BehaviourDefault serves the cache when fresh and fetches otherwise.
	BehaviourDefault Behaviour = iota
	// BehaviourInvalidate marks the stored entry as stale before evaluating it.
	BehaviourInvalidate
	// BehaviourLocalOnly never touches the network.
	BehaviourLocalOnly
)

// Freshness describes how much staleness a request tolerates.
type Freshness int

const (
	// StaleAccepted emits stale data first and the refreshed data after.
	StaleAccepted Freshness = iota
	// FreshPreferred waits for the network, falling back to stale data on failure.
	FreshPreferred
	// FreshOnly never returns stale data.
	FreshOnly
)

// Priority combines the network behaviour and the freshness tolerance of a request.
type Priority struct {
	Behaviour Behaviour
	Freshness Freshness
}

var (
	Default                      = Priority{BehaviourDefault, StaleAccepted}
	FreshPreferredPriority       = Priority{BehaviourDefault, FreshPreferred}
	FreshOnlyPriority            = Priority{BehaviourDefault, FreshOnly}
	InvalidateThenFetch          = Priority{BehaviourInvalidate, FreshPreferred}
	InvalidateThenFetchFreshOnly = Priority{BehaviourInvalidate, FreshOnly}
	LocalOnly                    = Priority{BehaviourLocalOnly, StaleAccepted}
	LocalOnlyFreshOnly           = Priority{BehaviourLocalOnly, FreshOnly}
)

// priorityNames holds the wire names, in the order they are documented.
var priorityNames = []struct {
	name     string
	priority Priority
}{
	{"DEFAULT", Default},
	{"FRESH_PREFERRED", FreshPreferredPriority},
	{"FRESH_ONLY", FreshOnlyPriority},
	{"INVALIDATE_THEN_FETCH", InvalidateThenFetch},
	{"INVALIDATE_THEN_FETCH_FRESH_ONLY", InvalidateThenFetchFreshOnly},
	{"LOCAL_ONLY", LocalOnly},
	{"LOCAL_ONLY_FRESH_ONLY", LocalOnlyFreshOnly},
}

// Priorities returns every named priority.
func Priorities() []Priority {
	out := make([]Priority, 0, len(priorityNames))
	for _, p := range priorityNames {
		out = append(out, p.priority)
	}
	return out
}

// ParsePriority returns the priority with the given wire name.
func ParsePriority(name string) (Priority, error) {
	for _, p := range priorityNames {
		if p.name == name {
			return p.priority, nil
		}
	}
	return Priority{}, fmt.Errorf("%w: unknown priority %q", ErrMalformedOperation, name)
}

func (p Priority) String() string {
	for _, n := range priorityNames {
		if n.priority == p {
			return n.name
		}
	}
	return fmt.Sprintf("Priority(%d,%d)", p.Behaviour, p.Freshness)
}

// HasNetworkAccess reports whether the priority may trigger a network call.
func (p Priority) HasNetworkAccess() bool {
	return p.Behaviour != BehaviourLocalOnly
}

// Invalidates reports whether the stored entry must be marked stale before reading it.
func (p Priority) Invalidates() bool {
	return p.Behaviour == BehaviourInvalidate
}

// AcceptsStale reports whether stale data may ever be returned.
func (p Priority) AcceptsStale() bool {
	return p.Freshness != FreshOnly
}

// EmitsStale reports whether stale data may be emitted ahead of the terminal result.
func (p Priority) EmitsStale() bool {
	return p.Freshness == StaleAccepted
}
