package serialisation

import (
	"encoding/json"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
)

// ObjectSerialiser converts typed responses to strings and back.
type ObjectSerialiser interface {
	CanHandleType(t reflect.Type) bool
	Serialise(v any) (string, error)
	Deserialise(s string, t reflect.Type) (any, error)
}

// DefaultSerialisers returns protobuf followed by JSON.
func DefaultSerialisers() []ObjectSerialiser {
	return []ObjectSerialiser{ProtoSerialiser{}, JSONSerialiser{}}
}

// structured reports whether a type can be represented by a data encoding.
func structured(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128, reflect.Invalid:
		return false
	}
	return true
}

// newValue decodes into a fresh value of type t using unmarshal.
func newValue(t reflect.Type, unmarshal func(target any) error) (any, error) {
	ptr := reflect.New(t)
	if err := unmarshal(ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

// JSONSerialiser uses encoding/json.
type JSONSerialiser struct{}

func (JSONSerialiser) CanHandleType(t reflect.Type) bool { return structured(t) }

func (JSONSerialiser) Serialise(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func (JSONSerialiser) Deserialise(s string, t reflect.Type) (any, error) {
	return newValue(t, func(target any) error {
		return json.Unmarshal([]byte(s), target)
	})
}

// YAMLSerialiser uses gopkg.in/yaml.v3.
type YAMLSerialiser struct{}

func (YAMLSerialiser) CanHandleType(t reflect.Type) bool { return structured(t) }

func (YAMLSerialiser) Serialise(v any) (string, error) {
	b, err := yaml.Marshal(v)
	return string(b), err
}

func (YAMLSerialiser) Deserialise(s string, t reflect.Type) (any, error) {
	return newValue(t, func(target any) error {
		return yaml.Unmarshal([]byte(s), target)
	})
}

var protoMessage = reflect.TypeOf((*proto.Message)(nil)).Elem()

// ProtoSerialiser uses protojson for pointer types implementing proto.Message.
type ProtoSerialiser struct{}

func (ProtoSerialiser) CanHandleType(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Pointer && t.Implements(protoMessage)
}

func (ProtoSerialiser) Serialise(v any) (string, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return "", fmt.Errorf("%T is not a proto.Message", v)
	}
	b, err := protojson.Marshal(msg)
	return string(b), err
}

func (ProtoSerialiser) Deserialise(s string, t reflect.Type) (any, error) {
	msg, ok := reflect.New(t.Elem()).Interface().(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%s is not a proto.Message", t)
	}
	if err := protojson.Unmarshal([]byte(s), msg); err != nil {
		return nil, err
	}
	return msg, nil
}
