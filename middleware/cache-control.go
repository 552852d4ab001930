package middleware

import (
	"strconv"
	"strings"

	"github.com/always-cache/dejavu/operation"
)

type CacheControl struct {
	m map[string]string
}

func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.m[directive]
	return val, ok
}

func (c CacheControl) Has(directive string) bool {
	_, ok := c.m[directive]
	return ok
}

// ParseCacheControl parses a Cache-Control field value. Directive names are
// case-insensitive, quoted values are unquoted.
func ParseCacheControl(header string) CacheControl {
	m := make(map[string]string)
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}
		name, val, _ := strings.Cut(directive, "=")
		m[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(val), `"`)
	}
	return CacheControl{m}
}

// requestOperation maps request Cache-Control directives to an operation:
//
//	no-store       DoNotCache
//	only-if-cached Cache with LOCAL_ONLY priority
//	no-cache       Cache with INVALIDATE_THEN_FETCH priority
//	max-age=0      Cache with FRESH_ONLY priority
//
// Other directives yield nil. base supplies the duration and options of
// the resulting Cache operation.
func requestOperation(header string, base operation.Cache) operation.Operation {
	if header == "" {
		return nil
	}
	cc := ParseCacheControl(header)
	switch {
	case cc.Has("no-store"):
		return operation.DoNotCache{}
	case cc.Has("only-if-cached"):
		base.Priority = operation.LocalOnly
		return base
	case cc.Has("no-cache"):
		base.Priority = operation.InvalidateThenFetch
		return base
	}
	if v, ok := cc.Get("max-age"); ok {
		if age, err := strconv.Atoi(v); err == nil && age == 0 {
			base.Priority = operation.FreshOnlyPriority
			return base
		}
	}
	return nil
}
