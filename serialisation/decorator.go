package serialisation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/always-cache/dejavu/operation"
)

// Decorator is a reversible byte transform applied to stored payloads.
// Decorators are stateless with respect to payloads and safe for concurrent use.
type Decorator interface {
	// Tag is the unique identity recorded in the serialisation descriptor of each entry.
	Tag() string
	// Applies reports whether the decorator is used for the given operation.
	Applies(op operation.Cache) bool
	Encode(b []byte) ([]byte, error)
	Decode(b []byte) ([]byte, error)
}

// mandatory is implemented by decorators that are applied to every payload.
// Descriptors missing their tag are rejected.
type mandatory interface {
	Mandatory() bool
}

const descriptorSeparator = ","

var tagPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// ValidateTag checks that a tag can be written into a descriptor.
func ValidateTag(tag string) error {
	if !tagPattern.MatchString(tag) {
		return newError(KindDescriptor, tag, "invalid decorator tag %q", tag)
	}
	return nil
}

// ParseDescriptor splits a descriptor into its tags, in encoding order.
// Tags are upper-cased before validation. The empty descriptor has no tags.
func ParseDescriptor(descriptor string) ([]string, error) {
	if descriptor == "" {
		return nil, nil
	}
	tags := strings.Split(descriptor, descriptorSeparator)
	seen := make(map[string]bool, len(tags))
	for i, tag := range tags {
		tag = strings.ToUpper(strings.TrimSpace(tag))
		if err := ValidateTag(tag); err != nil {
			return nil, err
		}
		if seen[tag] {
			return nil, newError(KindDescriptor, tag, "duplicate tag in descriptor %q", descriptor)
		}
		seen[tag] = true
		tags[i] = tag
	}
	return tags, nil
}

// FormatDescriptor joins tags into a descriptor.
func FormatDescriptor(tags []string) string {
	return strings.Join(tags, descriptorSeparator)
}

// validateChain checks that tags are well formed and unique.
func validateChain(decorators []Decorator) (map[string]Decorator, error) {
	byTag := make(map[string]Decorator, len(decorators))
	for _, d := range decorators {
		if d == nil {
			return nil, fmt.Errorf("nil decorator in chain")
		}
		if err := ValidateTag(d.Tag()); err != nil {
			return nil, err
		}
		if _, ok := byTag[d.Tag()]; ok {
			return nil, newError(KindDescriptor, d.Tag(), "duplicate decorator tag")
		}
		byTag[d.Tag()] = d
	}
	return byTag, nil
}
