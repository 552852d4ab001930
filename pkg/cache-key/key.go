// Package cachekey encodes entry metadata into store keys.
//
// A key has the form
//
//	requestHash_classHash_requestDateMillis_expiryDateMillis_serialisation
//
// so that an entry can be classified without reading its payload.
package cachekey

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrMalformedKey = errors.New("malformed cache key")

const separator = "_"

var (
	hexPattern        = regexp.MustCompile(`^[0-9a-f]+$`)
	descriptorPattern = regexp.MustCompile(`^([A-Z0-9]+(,[A-Z0-9]+)*)?$`)
)

// Key is the metadata stored in an entry's key.
type Key struct {
	RequestHash string
	ClassHash   string
	RequestDate time.Time
	// The zero value encodes as 0, the entry is already expired.
	ExpiryDate    time.Time
	Serialisation string
}

// RequestPrefix returns the prefix shared by every key of a request.
func RequestPrefix(requestHash string) string {
	return requestHash + separator
}

// String encodes the key.
func (k Key) String() string {
	return k.RequestHash + separator +
		k.ClassHash + separator +
		formatDate(k.RequestDate) + separator +
		formatDate(k.ExpiryDate) + separator +
		k.Serialisation
}

// Validate checks that the key can be encoded and parsed back unchanged.
func (k Key) Validate() error {
	if !hexPattern.MatchString(k.RequestHash) {
		return fmt.Errorf("%w: request hash %q is not lower-case hex", ErrMalformedKey, k.RequestHash)
	}
	if !hexPattern.MatchString(k.ClassHash) {
		return fmt.Errorf("%w: class hash %q is not lower-case hex", ErrMalformedKey, k.ClassHash)
	}
	if !descriptorPattern.MatchString(k.Serialisation) {
		return fmt.Errorf("%w: serialisation %q", ErrMalformedKey, k.Serialisation)
	}
	return nil
}

// WithExpiry returns a copy of the key with a new expiry date.
func (k Key) WithExpiry(expiry time.Time) Key {
	k.ExpiryDate = expiry
	return k
}

// Expired reports whether the entry is expired at now.
func (k Key) Expired(now time.Time) bool {
	return k.ExpiryDate.IsZero() || !now.Before(k.ExpiryDate)
}

// Parse recovers a Key from its encoded form.
func Parse(s string) (Key, error) {
	var k Key
	fields := make([]string, 0, 5)
	rest := s
	for i := 0; i < 4; i++ {
		field, tail, found := strings.Cut(rest, separator)
		if !found {
			return Key{}, fmt.Errorf("%w: %s", ErrMalformedKey, s)
		}
		fields = append(fields, field)
		rest = tail
	}
	fields = append(fields, rest)

	k.RequestHash, k.ClassHash, k.Serialisation = fields[0], fields[1], fields[4]
	var err error
	if k.RequestDate, err = parseDate(fields[2]); err != nil {
		return Key{}, fmt.Errorf("%w: request date in %s", ErrMalformedKey, s)
	}
	if k.ExpiryDate, err = parseDate(fields[3]); err != nil {
		return Key{}, fmt.Errorf("%w: expiry date in %s", ErrMalformedKey, s)
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseDate(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if ms < 0 {
		return time.Time{}, fmt.Errorf("negative date %d", ms)
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms).UTC(), nil
}
