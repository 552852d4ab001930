package token

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// AnyResponse is the universal response type marker.
// Clearing or invalidating it targets entries of every response type.
var AnyResponse = reflect.TypeOf((*any)(nil)).Elem()

// RequestMetadata identifies a cacheable request before hashing.
type RequestMetadata struct {
	// ResponseType is the type the stored payload decodes into.
	ResponseType reflect.Type
	URL          string
	// Body is optional, e.g. for POST requests.
	Body []byte
}

// Hashed is RequestMetadata with its stable fingerprints.
type Hashed struct {
	RequestMetadata
	// RequestHash identifies one logical request (URL, sorted query parameters, body).
	RequestHash string
	// ClassHash identifies the response type.
	ClassHash string
}

// Hasher computes fingerprints for request metadata.
type Hasher interface {
	Hash(RequestMetadata) (Hashed, error)
}

// DefaultHasher uses SHA-256 for the request and xxhash for the response type.
type DefaultHasher struct{}

// NewRequest is a shorthand for request metadata targeting the type of R.
func NewRequest[R any](rawURL string, body []byte) RequestMetadata {
	return RequestMetadata{
		ResponseType: reflect.TypeOf((*R)(nil)).Elem(),
		URL:          rawURL,
		Body:         body,
	}
}

func (DefaultHasher) Hash(r RequestMetadata) (Hashed, error) {
	if r.ResponseType == nil {
		return Hashed{}, fmt.Errorf("request %q has no response type", r.URL)
	}
	normalized, err := NormalizeURL(r.URL)
	if err != nil {
		return Hashed{}, err
	}
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte("\n"))
	h.Write(r.Body)
	return Hashed{
		RequestMetadata: r,
		RequestHash:     fmt.Sprintf("%x", h.Sum(nil)),
		ClassHash:       ClassHash(r.ResponseType),
	}, nil
}

// IsAny reports whether the request targets every response type.
func (h Hashed) IsAny() bool {
	return h.ResponseType == AnyResponse
}

// TypeID returns a stable identifier for a response type.
func TypeID(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// ClassHash returns the hex xxhash of the type identifier.
func ClassHash(t reflect.Type) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(TypeID(t)))
}

// NormalizeURL returns the URL with a lower-case scheme and host,
// query parameters sorted by key then value, and no fragment.
// Two URLs that differ only in query parameter order normalize identically.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("could not parse url %q: %w", rawURL, err)
	}
	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(strings.ToLower(u.Scheme))
	buf.WriteString("://")
	buf.WriteString(strings.ToLower(u.Host))
	buf.WriteString(u.EscapedPath())
	for i, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for j, v := range values {
			if i == 0 && j == 0 {
				buf.WriteByte('?')
			} else {
				buf.WriteByte('&')
			}
			buf.WriteString(url.QueryEscape(k))
			buf.WriteByte('=')
			buf.WriteString(url.QueryEscape(v))
		}
	}
	return buf.String(), nil
}
