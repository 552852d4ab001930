package serialisation

import "fmt"

// ErrorKind classifies serialisation failures.
type ErrorKind int

const (
	KindNilResponse ErrorKind = iota
	KindUnsupportedType
	KindEncode
	KindDecode
	KindDescriptor
)

func (k ErrorKind) String() string {
	switch k {
	case KindNilResponse:
		return "nil response"
	case KindUnsupportedType:
		return "unsupported type"
	case KindEncode:
		return "encode"
	case KindDecode:
		return "decode"
	case KindDescriptor:
		return "descriptor"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is returned for every payload that cannot be written or read.
// Callers treat it as a cache miss rather than a failure of the request.
type Error struct {
	Kind ErrorKind
	// Tag is the decorator involved, if any.
	Tag string
	Err error
}

func (e *Error) Error() string {
	msg := "serialisation " + e.Kind.String()
	if e.Tag != "" {
		msg += " (" + e.Tag + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, tag string, format string, args ...any) *Error {
	return &Error{Kind: kind, Tag: tag, Err: fmt.Errorf(format, args...)}
}
