package operation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedOperation is returned for strings that do not follow the wire grammar.
var ErrMalformedOperation = errors.New("malformed operation")

const (
	fieldSeparator = ":"
	// sentinel meaning "use the default", alongside the empty string
	defaultSentinel = "-1"
)

// field counts per type, excluding the type name
var maxFields = map[string]int{
	Cache{}.Name():      6,
	DoNotCache{}.Name(): 0,
	Invalidate{}.Name(): 1,
	Clear{}.Name():      2,
}

// Parse decodes an operation from its wire form, `TypeName:field1:field2:...`.
// Fields are positional, trailing fields may be omitted, and an empty field
// or -1 means the field is absent.
func Parse(s string) (Operation, error) {
	parts := strings.Split(strings.TrimSpace(s), fieldSeparator)
	name, fields := parts[0], parts[1:]
	limit, ok := maxFields[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedOperation, name)
	}
	if len(fields) > limit {
		return nil, fmt.Errorf("%w: %s takes at most %d fields, got %d", ErrMalformedOperation, name, limit, len(fields))
	}
	// pad so that every field can be read
	for len(fields) < limit {
		fields = append(fields, "")
	}

	switch name {
	case DoNotCache{}.Name():
		return DoNotCache{}, nil
	case Invalidate{}.Name():
		useParams, err := parseBool(fields[0], false)
		if err != nil {
			return nil, err
		}
		return Invalidate{UseRequestParameters: useParams}, nil
	case Clear{}.Name():
		staleOnly, err := parseBool(fields[0], false)
		if err != nil {
			return nil, err
		}
		useParams, err := parseBool(fields[1], false)
		if err != nil {
			return nil, err
		}
		return Clear{ClearStaleEntriesOnly: staleOnly, UseRequestParameters: useParams}, nil
	default:
		return parseCache(fields)
	}
}

func parseCache(fields []string) (Operation, error) {
	// an absent duration stays 0, the cache applies its configured default
	op := Cache{Priority: Default}
	if !isDefault(fields[0]) {
		p, err := ParsePriority(fields[0])
		if err != nil {
			return nil, err
		}
		op.Priority = p
	}
	if duration, err := parseSeconds(fields[1]); err != nil {
		return nil, err
	} else if duration != nil {
		op.DurationSeconds = *duration
	}
	var err error
	if op.ConnectivityTimeoutSeconds, err = parseSeconds(fields[2]); err != nil {
		return nil, err
	}
	if op.RequestTimeoutSeconds, err = parseSeconds(fields[3]); err != nil {
		return nil, err
	}
	if op.Encrypt, err = parseOptionalBool(fields[4]); err != nil {
		return nil, err
	}
	if op.Compress, err = parseOptionalBool(fields[5]); err != nil {
		return nil, err
	}
	return op, nil
}

// Format encodes an operation in its canonical wire form.
// Absent fields are empty and trailing empty fields are dropped.
func Format(op Operation) string {
	var fields []string
	switch o := op.(type) {
	case Cache:
		fields = []string{
			o.Priority.String(),
			formatDuration(o.DurationSeconds),
			formatSeconds(o.ConnectivityTimeoutSeconds),
			formatSeconds(o.RequestTimeoutSeconds),
			formatOptionalBool(o.Encrypt),
			formatOptionalBool(o.Compress),
		}
	case DoNotCache:
	case Invalidate:
		fields = []string{strconv.FormatBool(o.UseRequestParameters)}
	case Clear:
		fields = []string{
			strconv.FormatBool(o.ClearStaleEntriesOnly),
			strconv.FormatBool(o.UseRequestParameters),
		}
	default:
		panic(fmt.Sprintf("operation: unknown operation type %T", op))
	}
	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(append([]string{op.Name()}, fields...), fieldSeparator)
}

func (c Cache) String() string      { return Format(c) }
func (d DoNotCache) String() string { return Format(d) }
func (i Invalidate) String() string { return Format(i) }
func (c Clear) String() string      { return Format(c) }

func isDefault(field string) bool {
	return field == "" || field == defaultSentinel
}

func parseSeconds(field string) (*int, error) {
	if isDefault(field) {
		return nil, nil
	}
	n, err := strconv.Atoi(field)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: invalid seconds %q", ErrMalformedOperation, field)
	}
	return &n, nil
}

func parseOptionalBool(field string) (*bool, error) {
	if isDefault(field) {
		return nil, nil
	}
	b, err := parseBool(field, false)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func parseBool(field string, def bool) (bool, error) {
	switch field {
	case "", defaultSentinel:
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: invalid boolean %q", ErrMalformedOperation, field)
}

func formatSeconds(s *int) string {
	if s == nil {
		return ""
	}
	return strconv.Itoa(*s)
}

func formatDuration(s int) string {
	if s <= 0 {
		return ""
	}
	return strconv.Itoa(s)
}

func formatOptionalBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
