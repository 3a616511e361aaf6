package dynmsg

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Encode serializes m to the protobuf binary wire format, per spec.md
// §4.3.2. Fields are walked in declared order (the wire format does not
// require a particular order, but a deterministic one keeps Encode and
// ComputeSize trivially comparable in tests).
func Encode(m *Message) ([]byte, error) {
	return appendMessage(nil, m)
}

// ComputeSize mirrors Encode's logic without emitting bytes. Written as an
// independent walk (not len(Encode(m))) so the two stay structurally
// parallel, the way generated protobuf-go code keeps Size() and
// MarshalAppend() as separate but shape-matching methods; spec.md §4.3.2
// requires the two agree to the byte, which is asserted in tests.
func ComputeSize(m *Message) (int, error) {
	return sizeMessage(m)
}

func appendMessage(b []byte, m *Message) ([]byte, error) {
	for _, fd := range m.PopulatedFields() {
		switch {
		case fd.IsMap():
			entries, _ := m.Map(fd)
			var err error
			for _, key := range sortedMapKeys(fd.MapKey(), entries) {
				b, err = appendMapEntry(b, fd, key, entries[key])
				if err != nil {
					return nil, wrapField(string(fd.Name()), err)
				}
			}
		case fd.IsList():
			list, _ := m.List(fd)
			if isPackable(fd.Kind()) && fd.IsPacked() {
				var body []byte
				for _, elem := range list {
					nb, err := appendPackedElement(body, fd.Kind(), elem)
					if err != nil {
						return nil, wrapField(string(fd.Name()), err)
					}
					body = nb
				}
				b = protowire.AppendTag(b, fd.Number(), protowire.BytesType)
				b = protowire.AppendBytes(b, body)
			} else {
				for _, elem := range list {
					nb, err := appendFieldValue(b, fd, elem)
					if err != nil {
						return nil, wrapField(string(fd.Name()), err)
					}
					b = nb
				}
			}
		default:
			v, _ := m.Scalar(fd)
			nb, err := appendFieldValue(b, fd, v)
			if err != nil {
				return nil, wrapField(string(fd.Name()), err)
			}
			b = nb
		}
	}
	return b, nil
}

func sizeMessage(m *Message) (int, error) {
	total := 0
	for _, fd := range m.PopulatedFields() {
		switch {
		case fd.IsMap():
			entries, _ := m.Map(fd)
			for key, val := range entries {
				n, err := sizeMapEntry(fd, key, val)
				if err != nil {
					return 0, wrapField(string(fd.Name()), err)
				}
				total += n
			}
		case fd.IsList():
			list, _ := m.List(fd)
			if isPackable(fd.Kind()) && fd.IsPacked() {
				body := 0
				for _, elem := range list {
					n, err := sizePackedElement(fd.Kind(), elem)
					if err != nil {
						return 0, wrapField(string(fd.Name()), err)
					}
					body += n
				}
				total += protowire.SizeTag(fd.Number()) + protowire.SizeBytes(body)
			} else {
				for _, elem := range list {
					n, err := sizeFieldValue(fd, elem)
					if err != nil {
						return 0, wrapField(string(fd.Name()), err)
					}
					total += n
				}
			}
		default:
			v, _ := m.Scalar(fd)
			n, err := sizeFieldValue(fd, v)
			if err != nil {
				return 0, wrapField(string(fd.Name()), err)
			}
			total += n
		}
	}
	return total, nil
}

func appendMapEntry(b []byte, fd protoreflect.FieldDescriptor, key, val any) ([]byte, error) {
	entry, err := appendFieldValue(nil, fd.MapKey(), key)
	if err != nil {
		return nil, err
	}
	entry, err = appendFieldValue(entry, fd.MapValue(), val)
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, fd.Number(), protowire.BytesType)
	b = protowire.AppendBytes(b, entry)
	return b, nil
}

func sizeMapEntry(fd protoreflect.FieldDescriptor, key, val any) (int, error) {
	ksz, err := sizeFieldValue(fd.MapKey(), key)
	if err != nil {
		return 0, err
	}
	vsz, err := sizeFieldValue(fd.MapValue(), val)
	if err != nil {
		return 0, err
	}
	entry := ksz + vsz
	return protowire.SizeTag(fd.Number()) + protowire.SizeBytes(entry), nil
}

func sortedMapKeys(keyFD protoreflect.FieldDescriptor, entries map[any]any) []any {
	keys := make([]any, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		si, _ := mapKeyToJSON(keyFD, keys[i])
		sj, _ := mapKeyToJSON(keyFD, keys[j])
		return si < sj
	})
	return keys
}

// wireTypeFor maps a scalar/message/enum field kind to its wire type.
// Group wire type (proto2) is explicitly unsupported per spec.md §4.3.2.
func wireTypeFor(kind protoreflect.Kind) (protowire.Type, error) {
	switch kind {
	case protoreflect.BoolKind, protoreflect.Int32Kind, protoreflect.Int64Kind,
		protoreflect.Uint32Kind, protoreflect.Uint64Kind,
		protoreflect.Sint32Kind, protoreflect.Sint64Kind, protoreflect.EnumKind:
		return protowire.VarintType, nil
	case protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind, protoreflect.FloatKind:
		return protowire.Fixed32Type, nil
	case protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind, protoreflect.DoubleKind:
		return protowire.Fixed64Type, nil
	case protoreflect.StringKind, protoreflect.BytesKind, protoreflect.MessageKind:
		return protowire.BytesType, nil
	case protoreflect.GroupKind:
		return 0, fmt.Errorf("proto2 groups are not supported")
	default:
		return 0, fmt.Errorf("unsupported field kind %s", kind)
	}
}

func isPackable(kind protoreflect.Kind) bool {
	wt, err := wireTypeFor(kind)
	if err != nil {
		return false
	}
	return wt == protowire.VarintType || wt == protowire.Fixed32Type || wt == protowire.Fixed64Type
}

func varintValue(kind protoreflect.Kind, v any) uint64 {
	switch kind {
	case protoreflect.BoolKind:
		if v.(bool) {
			return 1
		}
		return 0
	case protoreflect.Int32Kind:
		return uint64(int64(v.(int32)))
	case protoreflect.Int64Kind:
		return uint64(v.(int64))
	case protoreflect.Uint32Kind:
		return uint64(v.(uint32))
	case protoreflect.Uint64Kind:
		return v.(uint64)
	case protoreflect.Sint32Kind:
		return protowire.EncodeZigZag(int64(v.(int32)))
	case protoreflect.Sint64Kind:
		return protowire.EncodeZigZag(v.(int64))
	case protoreflect.EnumKind:
		return uint64(int64(v.(protoreflect.EnumNumber)))
	default:
		return 0
	}
}

func fixed32Value(kind protoreflect.Kind, v any) uint32 {
	switch kind {
	case protoreflect.Fixed32Kind:
		return v.(uint32)
	case protoreflect.Sfixed32Kind:
		return uint32(v.(int32))
	case protoreflect.FloatKind:
		return math.Float32bits(v.(float32))
	default:
		return 0
	}
}

func fixed64Value(kind protoreflect.Kind, v any) uint64 {
	switch kind {
	case protoreflect.Fixed64Kind:
		return v.(uint64)
	case protoreflect.Sfixed64Kind:
		return uint64(v.(int64))
	case protoreflect.DoubleKind:
		return math.Float64bits(v.(float64))
	default:
		return 0
	}
}

func bytesValue(fd protoreflect.FieldDescriptor, v any) ([]byte, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		return []byte(v.(string)), nil
	case protoreflect.BytesKind:
		return v.([]byte), nil
	case protoreflect.MessageKind:
		sub, ok := v.(*Message)
		if !ok || sub == nil {
			return nil, fmt.Errorf("message field holds no value")
		}
		return appendMessage(nil, sub)
	default:
		return nil, fmt.Errorf("kind %s is not length-delimited", fd.Kind())
	}
}

func bytesValueSize(fd protoreflect.FieldDescriptor, v any) (int, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		return len(v.(string)), nil
	case protoreflect.BytesKind:
		return len(v.([]byte)), nil
	case protoreflect.MessageKind:
		sub, ok := v.(*Message)
		if !ok || sub == nil {
			return 0, fmt.Errorf("message field holds no value")
		}
		return sizeMessage(sub)
	default:
		return 0, fmt.Errorf("kind %s is not length-delimited", fd.Kind())
	}
}

func appendFieldValue(b []byte, fd protoreflect.FieldDescriptor, v any) ([]byte, error) {
	wt, err := wireTypeFor(fd.Kind())
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, fd.Number(), wt)
	switch wt {
	case protowire.VarintType:
		b = protowire.AppendVarint(b, varintValue(fd.Kind(), v))
	case protowire.Fixed32Type:
		b = protowire.AppendFixed32(b, fixed32Value(fd.Kind(), v))
	case protowire.Fixed64Type:
		b = protowire.AppendFixed64(b, fixed64Value(fd.Kind(), v))
	case protowire.BytesType:
		body, err := bytesValue(fd, v)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendBytes(b, body)
	}
	return b, nil
}

func sizeFieldValue(fd protoreflect.FieldDescriptor, v any) (int, error) {
	wt, err := wireTypeFor(fd.Kind())
	if err != nil {
		return 0, err
	}
	size := protowire.SizeTag(fd.Number())
	switch wt {
	case protowire.VarintType:
		size += protowire.SizeVarint(varintValue(fd.Kind(), v))
	case protowire.Fixed32Type:
		size += 4
	case protowire.Fixed64Type:
		size += 8
	case protowire.BytesType:
		n, err := bytesValueSize(fd, v)
		if err != nil {
			return 0, err
		}
		size += protowire.SizeBytes(n)
	}
	return size, nil
}

func appendPackedElement(b []byte, kind protoreflect.Kind, v any) ([]byte, error) {
	wt, err := wireTypeFor(kind)
	if err != nil {
		return nil, err
	}
	switch wt {
	case protowire.VarintType:
		return protowire.AppendVarint(b, varintValue(kind, v)), nil
	case protowire.Fixed32Type:
		return protowire.AppendFixed32(b, fixed32Value(kind, v)), nil
	case protowire.Fixed64Type:
		return protowire.AppendFixed64(b, fixed64Value(kind, v)), nil
	default:
		return nil, fmt.Errorf("kind %s is not packable", kind)
	}
}

func sizePackedElement(kind protoreflect.Kind, v any) (int, error) {
	wt, err := wireTypeFor(kind)
	if err != nil {
		return 0, err
	}
	switch wt {
	case protowire.VarintType:
		return protowire.SizeVarint(varintValue(kind, v)), nil
	case protowire.Fixed32Type:
		return 4, nil
	case protowire.Fixed64Type:
		return 8, nil
	default:
		return 0, fmt.Errorf("kind %s is not packable", kind)
	}
}
