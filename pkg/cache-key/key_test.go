package cachekey

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const requestHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func testKey() Key {
	return Key{
		RequestHash:   requestHash,
		ClassHash:     "00c0ffee12345678",
		RequestDate:   time.UnixMilli(1700000000123).UTC(),
		ExpiryDate:    time.UnixMilli(1700003600123).UTC(),
		Serialisation: "COMPRESS,FORMAT",
	}
}

func TestKeyFromString(t *testing.T) {
	key := testKey()
	s := key.String()
	if want := requestHash + "_00c0ffee12345678_1700000000123_1700003600123_COMPRESS,FORMAT"; s != want {
		t.Fatalf("Encoded key is %s, want %s", s, want)
	}
	parsed, err := Parse(s)
	if err != nil {
		t.Fatalf("%s: %s", s, err)
	}
	if parsed != key {
		t.Fatalf("Parsed key %+v differs from %+v", parsed, key)
	}
}

func TestZeroExpiryMeansExpired(t *testing.T) {
	key := testKey().WithExpiry(time.Time{})
	if !strings.Contains(key.String(), "_0_") {
		t.Fatalf("Zero expiry not encoded as 0: %s", key)
	}
	parsed, err := Parse(key.String())
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.ExpiryDate.IsZero() || !parsed.Expired(time.UnixMilli(0)) {
		t.Fatalf("Parsed key %+v is not expired", parsed)
	}
}

func TestExpired(t *testing.T) {
	key := testKey()
	if key.Expired(key.RequestDate) {
		t.Fatalf("Key expired at its request date")
	}
	if !key.Expired(key.ExpiryDate) {
		t.Fatalf("Key not expired at its expiry date")
	}
}

func TestEmptySerialisation(t *testing.T) {
	key := testKey()
	key.Serialisation = ""
	parsed, err := Parse(key.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Serialisation != "" {
		t.Fatalf("Serialisation is %q", parsed.Serialisation)
	}
}

func TestRequestPrefix(t *testing.T) {
	key := testKey()
	if !strings.HasPrefix(key.String(), RequestPrefix(key.RequestHash)) {
		t.Fatalf("Key %s does not start with its request prefix", key)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		requestHash,
		requestHash + "_00c0ffee12345678_1_2",
		requestHash + "_00C0FFEE12345678_1_2_FORMAT",
		requestHash + "_00c0ffee12345678_x_2_FORMAT",
		requestHash + "_00c0ffee12345678_1_-2_FORMAT",
		requestHash + "_00c0ffee12345678_1_2_format",
		requestHash + "_00c0ffee12345678_1_2_FORMAT_EXTRA",
		"not-hex_00c0ffee12345678_1_2_FORMAT",
	} {
		if _, err := Parse(s); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("Parse(%q) returned %v", s, err)
		}
	}
}
