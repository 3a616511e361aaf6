// Package dynmsg implements a descriptor-driven dynamic message value:
// a container that can be populated from JSON, serialized to and parsed
// from the protobuf wire format, and re-emitted as JSON, without relying
// on generated Go struct types or google.golang.org/protobuf/types/dynamicpb.
// Only protoreflect descriptor introspection and the low-level protowire
// tag/varint primitives are used.
package dynmsg

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Message is a value container scoped to one message descriptor. It holds
// at most one of three mappings per field (singular, list, map), plus
// oneof case tracking and a record of unrecognized JSON property names.
// Grounded on spec.md §3's explicit struct-of-typed-maps data model
// (§9's design note: prefer explicit value types over reflection-driven
// polymorphism — this is the Go rendering of that).
type Message struct {
	desc protoreflect.MessageDescriptor

	singular map[protoreflect.FieldDescriptor]any
	lists    map[protoreflect.FieldDescriptor][]any
	maps     map[protoreflect.FieldDescriptor]map[any]any

	oneofs map[protoreflect.OneofDescriptor]protoreflect.FieldDescriptor

	unknownFields []string
}

// NewMessage allocates an empty message value for desc.
func NewMessage(desc protoreflect.MessageDescriptor) *Message {
	return &Message{
		desc:     desc,
		singular: make(map[protoreflect.FieldDescriptor]any),
		lists:    make(map[protoreflect.FieldDescriptor][]any),
		maps:     make(map[protoreflect.FieldDescriptor]map[any]any),
		oneofs:   make(map[protoreflect.OneofDescriptor]protoreflect.FieldDescriptor),
	}
}

// Descriptor returns the message descriptor this value is scoped to.
func (m *Message) Descriptor() protoreflect.MessageDescriptor { return m.desc }

// clearField removes fd from whichever of the three mappings currently
// holds it, preserving the "at most one mapping" invariant before a new
// value is installed.
func (m *Message) clearField(fd protoreflect.FieldDescriptor) {
	delete(m.singular, fd)
	delete(m.lists, fd)
	delete(m.maps, fd)
}

// evictOneofSibling clears whatever field currently occupies fd's oneof,
// if fd belongs to a real (non-synthetic) oneof, and records fd as the
// new active member. Synthetic oneofs (proto3 "optional" fields) are not
// real oneofs for this purpose: each behaves as an independent singular
// field, per spec.md §3/§4.3.1.
func (m *Message) evictOneofSibling(fd protoreflect.FieldDescriptor) {
	od := fd.ContainingOneof()
	if od == nil || od.IsSynthetic() {
		return
	}
	if active, ok := m.oneofs[od]; ok && active != fd {
		m.clearField(active)
	}
	m.oneofs[od] = fd
}

// SetScalar installs a singular (non-repeated, non-map) value for fd,
// honoring oneof eviction.
func (m *Message) SetScalar(fd protoreflect.FieldDescriptor, value any) error {
	if fd.IsList() || fd.IsMap() {
		return fmt.Errorf("dynmsg: field %s is not a singular field", fd.FullName())
	}
	m.clearField(fd)
	m.evictOneofSibling(fd)
	m.singular[fd] = value
	return nil
}

// SetList installs a repeated-field value. Order is preserved exactly as
// given; callers append incrementally via AppendListElement during decode.
func (m *Message) SetList(fd protoreflect.FieldDescriptor, values []any) error {
	if !fd.IsList() {
		return fmt.Errorf("dynmsg: field %s is not a repeated field", fd.FullName())
	}
	m.clearField(fd)
	m.lists[fd] = values
	return nil
}

// AppendListElement appends one element to fd's repeated value, creating
// the slice on first use.
func (m *Message) AppendListElement(fd protoreflect.FieldDescriptor, value any) error {
	if !fd.IsList() {
		return fmt.Errorf("dynmsg: field %s is not a repeated field", fd.FullName())
	}
	if _, exists := m.singular[fd]; exists {
		return fmt.Errorf("dynmsg: field %s already holds a singular value", fd.FullName())
	}
	m.lists[fd] = append(m.lists[fd], value)
	return nil
}

// SetMap installs a map-field value wholesale.
func (m *Message) SetMap(fd protoreflect.FieldDescriptor, entries map[any]any) error {
	if !fd.IsMap() {
		return fmt.Errorf("dynmsg: field %s is not a map field", fd.FullName())
	}
	m.clearField(fd)
	m.maps[fd] = entries
	return nil
}

// PutMapEntry inserts one key/value pair into fd's map value, creating the
// map on first use. key must already be normalized to the declared key
// type (see mapKeyFromJSON in fromjson.go).
func (m *Message) PutMapEntry(fd protoreflect.FieldDescriptor, key, value any) error {
	if !fd.IsMap() {
		return fmt.Errorf("dynmsg: field %s is not a map field", fd.FullName())
	}
	entries, ok := m.maps[fd]
	if !ok {
		entries = make(map[any]any)
		m.maps[fd] = entries
	}
	entries[key] = value
	return nil
}

// Scalar returns the singular value for fd, if set.
func (m *Message) Scalar(fd protoreflect.FieldDescriptor) (any, bool) {
	v, ok := m.singular[fd]
	return v, ok
}

// List returns the repeated value for fd, if set.
func (m *Message) List(fd protoreflect.FieldDescriptor) ([]any, bool) {
	v, ok := m.lists[fd]
	return v, ok
}

// Map returns the map value for fd, if set.
func (m *Message) Map(fd protoreflect.FieldDescriptor) (map[any]any, bool) {
	v, ok := m.maps[fd]
	return v, ok
}

// Has reports whether fd carries any value at all, regardless of which of
// the three mappings holds it.
func (m *Message) Has(fd protoreflect.FieldDescriptor) bool {
	if _, ok := m.singular[fd]; ok {
		return true
	}
	if _, ok := m.lists[fd]; ok {
		return true
	}
	if _, ok := m.maps[fd]; ok {
		return true
	}
	return false
}

// OneofCase returns the currently active member field of od, if any.
func (m *Message) OneofCase(od protoreflect.OneofDescriptor) (protoreflect.FieldDescriptor, bool) {
	fd, ok := m.oneofs[od]
	return fd, ok
}

// AddUnknownFieldName records a JSON property name that did not resolve
// to any declared field, in encounter order.
func (m *Message) AddUnknownFieldName(name string) {
	m.unknownFields = append(m.unknownFields, name)
}

// UnknownFieldNames returns the JSON property names recorded by
// AddUnknownFieldName, in encounter order.
func (m *Message) UnknownFieldNames() []string {
	return m.unknownFields
}

// ReplaceWith overwrites m's contents with other's, keeping m's identity.
// Used by the wire codec's Unmarshal, which receives the exact *Message
// pointer grpc expects to populate in place rather than one it can return
// directly.
func (m *Message) ReplaceWith(other *Message) {
	m.desc = other.desc
	m.singular = other.singular
	m.lists = other.lists
	m.maps = other.maps
	m.oneofs = other.oneofs
	m.unknownFields = other.unknownFields
}

// PopulatedFields returns the message's fields that currently carry a
// value, in declared field order, for use by the value→wire encoder and
// its size walk.
func (m *Message) PopulatedFields() []protoreflect.FieldDescriptor {
	fields := m.desc.Fields()
	out := make([]protoreflect.FieldDescriptor, 0, fields.Len())
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if m.Has(fd) {
			out = append(out, fd)
		}
	}
	return out
}
