package middleware

import (
	"fmt"
	"net/http"
	"strings"
)

// hop-by-hop and per-connection headers that are never stored
var unstoredHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Connection",
	"Set-Cookie",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
}

// StoredResponse is the cached form of an HTTP response.
type StoredResponse struct {
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
}

// storable returns a copy of the response without headers that must not
// be replayed.
func (r StoredResponse) storable() StoredResponse {
	header := r.Header.Clone()
	for _, name := range unstoredHeaders {
		header.Del(name)
	}
	r.Header = header
	return r
}

// write sends the response. Headers already set on w are kept.
func (r StoredResponse) write(w http.ResponseWriter) (int, error) {
	copyHeader(w.Header(), r.Header)
	status := r.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	return w.Write(r.Body)
}

// UpstreamStatusError is the network error of a response that is not a
// success. The response is sent to the client but never cached.
type UpstreamStatusError struct {
	Response StoredResponse
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream responded with %d %s", e.Response.StatusCode, http.StatusText(e.Response.StatusCode))
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
