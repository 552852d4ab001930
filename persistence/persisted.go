// Package persistence stores serialised responses under metadata-encoding keys.
package persistence

import (
	cachekey "github.com/always-cache/dejavu/pkg/cache-key"
)

// Key is the metadata of an entry, derived from its store key alone.
type Key = cachekey.Key

// Serialised is an entry with its raw payload.
type Serialised struct {
	Key
	Payload []byte
}

// Deserialised is an entry with its decoded response.
type Deserialised struct {
	Key
	Response any
}

// Stats summarises the contents of a store.
type Stats struct {
	Entries int
	Expired int
	Bytes   int64
	// Unparseable counts store keys that are not cache entries.
	Unparseable int
	// Classes counts entries per class hash.
	Classes map[string]int
	// Descriptors counts entries per serialisation descriptor.
	Descriptors map[string]int
}
