// Package operation describes what the cache should do with a request.
//
// An Operation is either Remote (Cache, DoNotCache), which may involve the
// network, or Local (Invalidate, Clear), which only manipulates stored entries.
package operation

// DefaultDurationSeconds is the cache duration used when neither the operation
// nor the cache configuration specifies one.
const DefaultDurationSeconds = 3600

// Operation is the caching intent for a single request.
// The set of implementations is closed: Cache, DoNotCache, Invalidate and Clear.
type Operation interface {
	operation()
	// Name is the wire type name.
	Name() string
}

// Remote operations may call the network.
type Remote interface {
	Operation
	remote()
}

// Local operations only touch the persistence layer.
type Local interface {
	Operation
	local()
}

// Declarer is implemented by response types that declare their own default operation.
type Declarer interface {
	CacheOperation() Operation
}

// Cache caches the response according to its priority.
type Cache struct {
	Priority Priority
	// DurationSeconds is how long a stored response stays fresh.
	DurationSeconds int
	// ConnectivityTimeoutSeconds bounds the wait for connectivity. Nil means the default.
	ConnectivityTimeoutSeconds *int
	// RequestTimeoutSeconds bounds the network call. Nil means the default.
	RequestTimeoutSeconds *int
	// Encrypt and Compress keep the previous entry's choice when nil.
	Encrypt  *bool
	Compress *bool
}

// DoNotCache passes the network response through.
type DoNotCache struct{}

// Invalidate marks stored entries as stale without deleting them.
type Invalidate struct {
	// UseRequestParameters limits invalidation to the exact request.
	// Otherwise every entry of the response type is invalidated.
	UseRequestParameters bool
}

// Clear deletes stored entries.
type Clear struct {
	ClearStaleEntriesOnly bool
	UseRequestParameters  bool
}

func (Cache) operation()      {}
func (DoNotCache) operation() {}
func (Invalidate) operation() {}
func (Clear) operation()      {}

func (Cache) remote()      {}
func (DoNotCache) remote() {}

func (Invalidate) local() {}
func (Clear) local()      {}

func (Cache) Name() string      { return "Cache" }
func (DoNotCache) Name() string { return "DoNotCache" }
func (Invalidate) Name() string { return "Invalidate" }
func (Clear) Name() string      { return "Clear" }

// CacheFor returns a Cache operation with the default priority.
func CacheFor(durationSeconds int) Cache {
	return Cache{Priority: Default, DurationSeconds: durationSeconds}
}

// ShouldEncrypt reports the explicit encryption choice, false when unset.
func (c Cache) ShouldEncrypt() bool {
	return c.Encrypt != nil && *c.Encrypt
}

// ShouldCompress reports the explicit compression choice, false when unset.
func (c Cache) ShouldCompress() bool {
	return c.Compress != nil && *c.Compress
}

// Bool returns a pointer to b, for the optional Cache fields.
func Bool(b bool) *bool {
	return &b
}

// Seconds returns a pointer to s, for the optional Cache fields.
func Seconds(s int) *int {
	return &s
}
