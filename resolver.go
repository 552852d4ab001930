package dejavu

import (
	"net/url"
	"reflect"
	"strings"

	"github.com/always-cache/dejavu/operation"
	"github.com/always-cache/dejavu/token"
)

// Request is a request to resolve and handle.
type Request struct {
	Metadata token.RequestMetadata
	// Header is an operation in wire form, e.g. "Cache:DEFAULT:60".
	Header string
	// Predicate overrides every other source for this request.
	Predicate func(token.RequestMetadata) operation.Remote
	// Default applies when neither predicate nor header yields an operation.
	Default operation.Operation
}

// Resolve selects the operation of a request. The first source that yields
// one wins:
//
//  1. the request predicate, then the configured predicate
//  2. the header
//  3. the request default, the response type's declared operation, then the rules
//
// It returns false when the request should bypass the cache.
func (d *Dejavu) Resolve(req Request) (operation.Operation, bool) {
	for _, predicate := range []func(token.RequestMetadata) operation.Remote{req.Predicate, d.predicate} {
		if predicate == nil {
			continue
		}
		if op := predicate(req.Metadata); op != nil {
			return op, true
		}
	}

	if req.Header != "" {
		op, err := operation.Parse(req.Header)
		if err == nil {
			return op, true
		}
		d.log.Warn().Err(err).Str("header", req.Header).Str("url", req.Metadata.URL).Msg("Ignoring operation header")
	}

	if req.Default != nil {
		return req.Default, true
	}
	if op := declared(req.Metadata.ResponseType); op != nil {
		return op, true
	}
	if op, ok := d.rules.Find(req.Metadata); ok {
		return op, true
	}
	return nil, false
}

// declared returns the operation a response type declares for itself.
func declared(t reflect.Type) operation.Operation {
	if t == nil || t.Kind() == reflect.Interface {
		return nil
	}
	var v any
	if t.Kind() == reflect.Pointer {
		v = reflect.New(t.Elem()).Interface()
	} else {
		v = reflect.Zero(t).Interface()
	}
	if d, ok := v.(operation.Declarer); ok {
		return d.CacheOperation()
	}
	if t.Kind() != reflect.Pointer {
		if d, ok := reflect.New(t).Interface().(operation.Declarer); ok {
			return d.CacheOperation()
		}
	}
	return nil
}

type Rules []Rule

// Rule assigns an operation to the requests it matches.
// Empty fields match everything.
type Rule struct {
	Prefix string            `yaml:"prefix"`
	Path   string            `yaml:"path"`
	Host   string            `yaml:"host"`
	Query  map[string]string `yaml:"query"`
	// Operation in wire form.
	Operation string `yaml:"operation"`
}

func (r Rule) operation() (operation.Operation, error) {
	return operation.Parse(r.Operation)
}

// Matches reports whether the rule applies to a URL. A query value of ""
// only requires the parameter to be present.
func (r Rule) Matches(u *url.URL) bool {
	if r.Host != "" && !strings.EqualFold(r.Host, u.Host) {
		return false
	}
	if r.Path != "" && r.Path != u.Path {
		return false
	}
	if r.Prefix != "" && !strings.HasPrefix(u.Path, r.Prefix) {
		return false
	}
	if len(r.Query) > 0 {
		qry := u.Query()
		for name, value := range r.Query {
			if value == "" && !qry.Has(name) {
				return false
			} else if value != "" && qry.Get(name) != value {
				return false
			}
		}
	}
	return true
}

// Find returns the operation of the first matching rule.
func (r Rules) Find(meta token.RequestMetadata) (operation.Operation, bool) {
	if len(r) == 0 {
		return nil, false
	}
	u, err := url.Parse(meta.URL)
	if err != nil {
		return nil, false
	}
	for _, rule := range r {
		if !rule.Matches(u) {
			continue
		}
		if op, err := rule.operation(); err == nil {
			return op, true
		}
	}
	return nil, false
}
