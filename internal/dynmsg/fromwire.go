package dynmsg

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Decode parses data as the protobuf wire-format encoding of desc, per
// spec.md §4.3.3. Unknown field numbers are skipped according to their
// wire type; packed and unpacked repeated encodings are both accepted
// transparently by inspecting the wire type actually present on the tag,
// not the field's declared IsPacked() option.
func Decode(desc protoreflect.MessageDescriptor, data []byte) (*Message, error) {
	m := NewMessage(desc)
	if err := decodeMessageBytes(m, data); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeMessageBytes(m *Message, data []byte) error {
	for len(data) > 0 {
		num, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("dynmsg: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		fd := m.Descriptor().Fields().ByNumber(num)
		if fd == nil {
			skip := protowire.ConsumeFieldValue(num, wt, data)
			if skip < 0 {
				return fmt.Errorf("dynmsg: malformed unknown field %d: %w", num, protowire.ParseError(skip))
			}
			data = data[skip:]
			continue
		}

		switch {
		case fd.IsMap():
			if wt != protowire.BytesType {
				return fmt.Errorf("dynmsg: field %s: map entry must be length-delimited", fd.FullName())
			}
			entry, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return fmt.Errorf("dynmsg: field %s: %w", fd.FullName(), protowire.ParseError(n2))
			}
			data = data[n2:]
			key, val, err := decodeMapEntry(fd, entry)
			if err != nil {
				return wrapField(string(fd.Name()), err)
			}
			if err := m.PutMapEntry(fd, key, val); err != nil {
				return err
			}
		case fd.IsList() && isPackable(fd.Kind()) && wt == protowire.BytesType:
			body, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return fmt.Errorf("dynmsg: field %s: %w", fd.FullName(), protowire.ParseError(n2))
			}
			data = data[n2:]
			elems, err := decodePackedElements(fd.Kind(), body)
			if err != nil {
				return wrapField(string(fd.Name()), err)
			}
			for _, e := range elems {
				if err := m.AppendListElement(fd, e); err != nil {
					return err
				}
			}
		case fd.IsList():
			v, n2, err := decodeSingularWire(fd, wt, data)
			if err != nil {
				return wrapField(string(fd.Name()), err)
			}
			data = data[n2:]
			if err := m.AppendListElement(fd, v); err != nil {
				return err
			}
		default:
			v, n2, err := decodeSingularWire(fd, wt, data)
			if err != nil {
				return wrapField(string(fd.Name()), err)
			}
			data = data[n2:]
			if err := m.SetScalar(fd, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// decodeSingularWire decodes one value of fd's declared type starting at
// data (tag already consumed), returning the value and bytes consumed.
func decodeSingularWire(fd protoreflect.FieldDescriptor, wt protowire.Type, data []byte) (any, int, error) {
	switch wt {
	case protowire.VarintType:
		raw, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, 0, fmt.Errorf("malformed varint: %w", protowire.ParseError(n))
		}
		return varintToGo(fd.Kind(), raw), n, nil
	case protowire.Fixed32Type:
		raw, n := protowire.ConsumeFixed32(data)
		if n < 0 {
			return nil, 0, fmt.Errorf("malformed fixed32: %w", protowire.ParseError(n))
		}
		return fixed32ToGo(fd.Kind(), raw), n, nil
	case protowire.Fixed64Type:
		raw, n := protowire.ConsumeFixed64(data)
		if n < 0 {
			return nil, 0, fmt.Errorf("malformed fixed64: %w", protowire.ParseError(n))
		}
		return fixed64ToGo(fd.Kind(), raw), n, nil
	case protowire.BytesType:
		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, 0, fmt.Errorf("malformed length-delimited value: %w", protowire.ParseError(n))
		}
		switch fd.Kind() {
		case protoreflect.StringKind:
			return string(raw), n, nil
		case protoreflect.BytesKind:
			return append([]byte{}, raw...), n, nil
		case protoreflect.MessageKind:
			sub := NewMessage(fd.Message())
			if err := decodeMessageBytes(sub, raw); err != nil {
				return nil, 0, err
			}
			return sub, n, nil
		default:
			return nil, 0, fmt.Errorf("kind %s is not length-delimited", fd.Kind())
		}
	case protowire.StartGroupType, protowire.EndGroupType:
		return nil, 0, fmt.Errorf("proto2 groups are not supported")
	default:
		return nil, 0, fmt.Errorf("unsupported wire type %d", wt)
	}
}

func decodeMapEntry(fd protoreflect.FieldDescriptor, entry []byte) (key any, val any, err error) {
	keyFD := fd.MapKey()
	valFD := fd.MapValue()
	key = defaultScalarValue(keyFD)
	if valFD.Kind() == protoreflect.MessageKind {
		val = NewMessage(valFD.Message())
	} else {
		val = defaultScalarValue(valFD)
	}

	data := entry
	for len(data) > 0 {
		num, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, nil, fmt.Errorf("malformed map entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n2, err := decodeSingularWire(keyFD, wt, data)
			if err != nil {
				return nil, nil, fmt.Errorf("map key: %w", err)
			}
			data = data[n2:]
			key = v
		case 2:
			v, n2, err := decodeSingularWire(valFD, wt, data)
			if err != nil {
				return nil, nil, fmt.Errorf("map value: %w", err)
			}
			data = data[n2:]
			val = v
		default:
			skip := protowire.ConsumeFieldValue(num, wt, data)
			if skip < 0 {
				return nil, nil, fmt.Errorf("malformed map entry field %d: %w", num, protowire.ParseError(skip))
			}
			data = data[skip:]
		}
	}
	return key, val, nil
}

func decodePackedElements(kind protoreflect.Kind, body []byte) ([]any, error) {
	wt, err := wireTypeFor(kind)
	if err != nil {
		return nil, err
	}
	var out []any
	data := body
	for len(data) > 0 {
		switch wt {
		case protowire.VarintType:
			raw, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed packed varint: %w", protowire.ParseError(n))
			}
			data = data[n:]
			out = append(out, varintToGo(kind, raw))
		case protowire.Fixed32Type:
			raw, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed packed fixed32: %w", protowire.ParseError(n))
			}
			data = data[n:]
			out = append(out, fixed32ToGo(kind, raw))
		case protowire.Fixed64Type:
			raw, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed packed fixed64: %w", protowire.ParseError(n))
			}
			data = data[n:]
			out = append(out, fixed64ToGo(kind, raw))
		default:
			return nil, fmt.Errorf("kind %s is not packable", kind)
		}
	}
	return out, nil
}

func varintToGo(kind protoreflect.Kind, raw uint64) any {
	switch kind {
	case protoreflect.BoolKind:
		return raw != 0
	case protoreflect.Int32Kind:
		return int32(int64(raw))
	case protoreflect.Int64Kind:
		return int64(raw)
	case protoreflect.Uint32Kind:
		return uint32(raw)
	case protoreflect.Uint64Kind:
		return raw
	case protoreflect.Sint32Kind:
		return int32(protowire.DecodeZigZag(raw))
	case protoreflect.Sint64Kind:
		return protowire.DecodeZigZag(raw)
	case protoreflect.EnumKind:
		return protoreflect.EnumNumber(int32(raw))
	default:
		return nil
	}
}

func fixed32ToGo(kind protoreflect.Kind, raw uint32) any {
	switch kind {
	case protoreflect.Fixed32Kind:
		return raw
	case protoreflect.Sfixed32Kind:
		return int32(raw)
	case protoreflect.FloatKind:
		return math.Float32frombits(raw)
	default:
		return nil
	}
}

func fixed64ToGo(kind protoreflect.Kind, raw uint64) any {
	switch kind {
	case protoreflect.Fixed64Kind:
		return raw
	case protoreflect.Sfixed64Kind:
		return int64(raw)
	case protoreflect.DoubleKind:
		return math.Float64frombits(raw)
	default:
		return nil
	}
}
