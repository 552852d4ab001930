package operation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Operation
	}{
		{
			name:  "cache with defaults",
			input: "Cache",
			want:  Cache{Priority: Default},
		},
		{
			name:  "cache with sentinels",
			input: "Cache:-1:-1:-1:-1:-1:-1",
			want:  Cache{Priority: Default},
		},
		{
			name:  "cache with every field",
			input: "Cache:LOCAL_ONLY:60:5:10:true:false",
			want: Cache{
				Priority:                   LocalOnly,
				DurationSeconds:            60,
				ConnectivityTimeoutSeconds: Seconds(5),
				RequestTimeoutSeconds:      Seconds(10),
				Encrypt:                    Bool(true),
				Compress:                   Bool(false),
			},
		},
		{
			name:  "cache with empty middle fields",
			input: "Cache:FRESH_ONLY:::30",
			want: Cache{
				Priority:              FreshOnlyPriority,
				RequestTimeoutSeconds: Seconds(30),
			},
		},
		{
			name:  "do not cache",
			input: "DoNotCache",
			want:  DoNotCache{},
		},
		{
			name:  "invalidate",
			input: "Invalidate:true",
			want:  Invalidate{UseRequestParameters: true},
		},
		{
			name:  "clear defaults",
			input: "Clear",
			want:  Clear{},
		},
		{
			name:  "clear stale for request",
			input: "Clear:true:true",
			want:  Clear{ClearStaleEntriesOnly: true, UseRequestParameters: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		"",
		"Cached",
		"Cache:SOMETIMES",
		"Cache:DEFAULT:abc",
		"Cache:DEFAULT:-5",
		"Cache:DEFAULT:1:2:3:yes",
		"Cache:DEFAULT:1:2:3:true:true:extra",
		"DoNotCache:true",
		"Clear:maybe",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformedOperation))
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	ops := []Operation{
		Cache{Priority: InvalidateThenFetch, DurationSeconds: 10},
		Cache{Priority: Default, DurationSeconds: 0, Compress: Bool(true)},
		Cache{
			Priority:                   LocalOnlyFreshOnly,
			DurationSeconds:            1,
			ConnectivityTimeoutSeconds: Seconds(2),
			RequestTimeoutSeconds:      Seconds(3),
			Encrypt:                    Bool(false),
			Compress:                   Bool(true),
		},
		DoNotCache{},
		Invalidate{},
		Clear{ClearStaleEntriesOnly: true},
	}
	for _, op := range ops {
		t.Run(Format(op), func(t *testing.T) {
			parsed, err := Parse(Format(op))
			require.NoError(t, err)
			require.Equal(t, op, parsed)
		})
	}
}

func TestFormatIsCanonical(t *testing.T) {
	op, err := Parse("Cache:-1::-1")
	require.NoError(t, err)
	require.Equal(t, "Cache:DEFAULT", Format(op))
	require.Equal(t, "Cache:DEFAULT:3600", CacheFor(3600).String())
	require.Equal(t, "Clear:false:false", Clear{}.String())
	require.Equal(t, "DoNotCache", DoNotCache{}.String())
}

func TestPriorityFlags(t *testing.T) {
	for _, p := range Priorities() {
		parsed, err := ParsePriority(p.String())
		require.NoError(t, err)
		require.Equal(t, p, parsed)
	}

	require.False(t, LocalOnly.HasNetworkAccess())
	require.False(t, LocalOnlyFreshOnly.HasNetworkAccess())
	require.True(t, Default.HasNetworkAccess())

	require.True(t, InvalidateThenFetch.Invalidates())
	require.True(t, InvalidateThenFetchFreshOnly.Invalidates())
	require.False(t, Default.Invalidates())

	require.False(t, FreshOnlyPriority.AcceptsStale())
	require.True(t, FreshPreferredPriority.AcceptsStale())
	require.False(t, FreshPreferredPriority.EmitsStale())
	require.True(t, Default.EmitsStale())
}

func TestRemoteAndLocalAreDisjoint(t *testing.T) {
	var remotes = []Operation{Cache{}, DoNotCache{}}
	var locals = []Operation{Invalidate{}, Clear{}}
	for _, op := range remotes {
		_, isRemote := op.(Remote)
		_, isLocal := op.(Local)
		require.True(t, isRemote, op.Name())
		require.False(t, isLocal, op.Name())
	}
	for _, op := range locals {
		_, isRemote := op.(Remote)
		_, isLocal := op.(Local)
		require.False(t, isRemote, op.Name())
		require.True(t, isLocal, op.Name())
	}
}
