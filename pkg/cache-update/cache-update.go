// Package cacheupdate parses the `Cache-Update` response header, with which
// an unsafe request names the resources it changed:
//
//	Cache-Update: /list; delay=5
package cacheupdate

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const HeaderName = "Cache-Update"

var delayDirective = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// CacheUpdate represents a single `Cache-Update` entry.
type CacheUpdate struct {
	// Resolved URL of the resource, relative to the request.
	URL *url.URL
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

// Path returns the path of the updated resource.
func (cu CacheUpdate) Path() string {
	return cu.URL.Path
}

// UnsafeRequest reports whether the request method may change resources.
func UnsafeRequest(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// GetCacheUpdates gets the updates specified by the response header.
// Only unsafe requests may update; relative paths resolve against the request URL.
func GetCacheUpdates(req *http.Request, header http.Header) []CacheUpdate {
	if !UnsafeRequest(req) {
		return nil
	}
	values := header.Values(HeaderName)
	updates := make([]CacheUpdate, 0, len(values))
	for _, value := range values {
		for _, update := range strings.Split(value, ",") {
			if strings.TrimSpace(update) == "" {
				continue
			}
			u := getURL(req, update)
			if u == nil {
				continue
			}
			updates = append(updates, CacheUpdate{URL: u, Delay: getDelay(update)})
		}
	}
	return updates
}

// getURL returns the URL to update from the first parameter of the update,
// or nil if it cannot be parsed.
func getURL(r *http.Request, update string) *url.URL {
	possiblyRelativeURL, _, _ := strings.Cut(update, ";")
	ref, err := url.Parse(strings.TrimSpace(possiblyRelativeURL))
	if err != nil {
		return nil
	}
	return r.URL.ResolveReference(ref)
}

// getDelay returns the `delay=N` directive in seconds, 0 if absent.
func getDelay(update string) time.Duration {
	if matches := delayDirective.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
