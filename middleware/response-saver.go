package middleware

import (
	"bytes"
	"net/http"
)

// ResponseSaver is an http.ResponseWriter that records the response of the
// wrapped handler instead of sending it.
type ResponseSaver struct {
	b            bytes.Buffer
	header       http.Header
	status       int
	wroteHeaders bool
}

func NewResponseSaver() *ResponseSaver {
	return &ResponseSaver{header: http.Header{}}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	return t.b.Write(b)
}

// StatusCode returns the status code of the response, 200 if none was written.
func (t *ResponseSaver) StatusCode() int {
	if !t.wroteHeaders {
		return http.StatusOK
	}
	return t.status
}

// Response returns the recorded response.
func (t *ResponseSaver) Response() StoredResponse {
	return StoredResponse{
		StatusCode: t.StatusCode(),
		Header:     t.header.Clone(),
		Body:       bytes.Clone(t.b.Bytes()),
	}
}
