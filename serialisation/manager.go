// Package serialisation turns responses into stored payloads and back.
//
// A response is converted to a string by the first ObjectSerialiser that
// handles its type, then passed through the configured Decorator chain in
// list order. Reading applies the chain in reverse. The tags of the
// decorators that were applied form the entry's descriptor, which is stored
// alongside the payload and validated on read.
package serialisation

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/always-cache/dejavu/operation"
	"github.com/always-cache/dejavu/token"
)

var stringType = reflect.TypeOf("")

// Manager applies object serialisers and decorators.
type Manager struct {
	serialisers []ObjectSerialiser
	decorators  []Decorator
	byTag       map[string]Decorator
}

// NewManager validates the decorator chain and returns a manager.
// Decorators run in the given order when encoding; compression should
// precede encryption, since encrypted bytes do not compress.
func NewManager(serialisers []ObjectSerialiser, decorators []Decorator) (*Manager, error) {
	if len(serialisers) == 0 {
		serialisers = DefaultSerialisers()
	}
	byTag, err := validateChain(decorators)
	if err != nil {
		return nil, err
	}
	return &Manager{
		serialisers: serialisers,
		decorators:  decorators,
		byTag:       byTag,
	}, nil
}

// Tags returns the tags of the configured chain, in encoding order.
func (m *Manager) Tags() []string {
	tags := make([]string, len(m.decorators))
	for i, d := range m.decorators {
		tags[i] = d.Tag()
	}
	return tags
}

// Supports reports whether a descriptor can be decoded by this manager.
func (m *Manager) Supports(descriptor string) error {
	_, err := m.resolve(descriptor, nil)
	return err
}

// chain returns the decorators to use, with extra prepended.
func (m *Manager) chain(extra Decorator) ([]Decorator, error) {
	if extra == nil {
		return m.decorators, nil
	}
	if _, ok := m.byTag[extra.Tag()]; ok {
		return nil, newError(KindDescriptor, extra.Tag(), "extra decorator tag already configured")
	}
	if err := ValidateTag(extra.Tag()); err != nil {
		return nil, err
	}
	return append([]Decorator{extra}, m.decorators...), nil
}

func (m *Manager) serialiserFor(t reflect.Type) (ObjectSerialiser, error) {
	for _, s := range m.serialisers {
		if s.CanHandleType(t) {
			return s, nil
		}
	}
	return nil, newError(KindUnsupportedType, "", "no serialiser for %s", t)
}

// Serialise converts a response into a payload and its descriptor.
func (m *Manager) Serialise(response any, req token.Hashed, op operation.Cache, extra Decorator) ([]byte, string, error) {
	if isNil(response) {
		return nil, "", newError(KindNilResponse, "", "cannot serialise nil response for %s", req.URL)
	}
	var payload []byte
	if s, ok := response.(string); ok {
		payload = []byte(s)
	} else {
		serialiser, err := m.serialiserFor(reflect.TypeOf(response))
		if err != nil {
			return nil, "", err
		}
		str, err := serialiser.Serialise(response)
		if err != nil {
			return nil, "", &Error{Kind: KindEncode, Err: err}
		}
		payload = []byte(str)
	}

	chain, err := m.chain(extra)
	if err != nil {
		return nil, "", err
	}
	tags := make([]string, 0, len(chain))
	for _, d := range chain {
		if !d.Applies(op) {
			continue
		}
		if payload, err = d.Encode(payload); err != nil {
			return nil, "", wrap(KindEncode, d.Tag(), err)
		}
		tags = append(tags, d.Tag())
	}
	if op.ShouldEncrypt() && !slices.Contains(tags, EncryptionTag) {
		return nil, "", newError(KindEncode, EncryptionTag, "encryption requested for %s but no encryption decorator is configured", req.URL)
	}
	return payload, FormatDescriptor(tags), nil
}

// Deserialise decodes a payload written with the given descriptor into the
// request's response type.
func (m *Manager) Deserialise(req token.Hashed, descriptor string, payload []byte, extra Decorator) (any, error) {
	decorators, err := m.resolve(descriptor, extra)
	if err != nil {
		return nil, err
	}
	for i := len(decorators) - 1; i >= 0; i-- {
		if payload, err = decorators[i].Decode(payload); err != nil {
			return nil, wrap(KindDecode, decorators[i].Tag(), err)
		}
	}

	t := req.ResponseType
	if t == stringType {
		return string(payload), nil
	}
	serialiser, err := m.serialiserFor(t)
	if err != nil {
		return nil, err
	}
	response, err := serialiser.Deserialise(string(payload), t)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	return response, nil
}

// resolve maps descriptor tags to decorators, rejecting unknown tags and
// descriptors that skip a mandatory decorator.
func (m *Manager) resolve(descriptor string, extra Decorator) ([]Decorator, error) {
	tags, err := ParseDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	decorators := make([]Decorator, 0, len(tags))
	present := make(map[string]bool, len(tags))
	for _, tag := range tags {
		d, ok := m.byTag[tag]
		if !ok && extra != nil && extra.Tag() == tag {
			d, ok = extra, true
		}
		if !ok {
			return nil, newError(KindDescriptor, tag, "unknown decorator tag in descriptor %q", descriptor)
		}
		decorators = append(decorators, d)
		present[tag] = true
	}
	for _, d := range m.decorators {
		if md, ok := d.(mandatory); ok && md.Mandatory() && !present[d.Tag()] {
			return nil, newError(KindDescriptor, d.Tag(), "mandatory decorator missing from descriptor %q", descriptor)
		}
	}
	return decorators, nil
}

func wrap(kind ErrorKind, tag string, err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	return &Error{Kind: kind, Tag: tag, Err: err}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// DefaultDecorators returns the default chain: compression, encryption when
// a key is given, and the format tag. Compression must precede encryption,
// encrypted bytes do not compress.
func DefaultDecorators(encryptionKey []byte) ([]Decorator, error) {
	compression, err := NewCompressionDecorator()
	if err != nil {
		return nil, err
	}
	decorators := []Decorator{compression}
	if len(encryptionKey) > 0 {
		encryption, err := NewEncryptionDecorator(encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		decorators = append(decorators, encryption)
	}
	return append(decorators, FormatDecorator{}), nil
}
