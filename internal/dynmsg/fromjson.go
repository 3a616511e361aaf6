package dynmsg

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aalobaidi/protodyn/internal/wellknown"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// DecodeJSON builds a Message of desc's type from a JSON document. When
// allowUnknown is false, any JSON property that does not resolve to a
// declared field fails the whole decode; when true, unresolved properties
// are recorded (see Message.UnknownFieldNames) and otherwise ignored.
// Grounded on spec.md §4.3.1's per-property algorithm.
func DecodeJSON(desc protoreflect.MessageDescriptor, data []byte, allowUnknown bool) (*Message, error) {
	return decodeMessageRaw(desc, json.RawMessage(data), allowUnknown)
}

func decodeMessageRaw(desc protoreflect.MessageDescriptor, raw json.RawMessage, allowUnknown bool) (*Message, error) {
	if m, handled, err := decodeWellKnown(desc, raw, allowUnknown); handled {
		return m, err
	}

	var props map[string]json.RawMessage
	if err := unmarshalStrict(raw, &props); err != nil {
		return nil, fmt.Errorf("dynmsg: invalid JSON object for %s: %w", desc.FullName(), err)
	}

	m := NewMessage(desc)
	for name, rawVal := range props {
		fd := lookupField(desc, name)
		if fd == nil {
			m.AddUnknownFieldName(name)
			if !allowUnknown {
				return nil, fmt.Errorf("dynmsg: unknown field %q for message %s", name, desc.FullName())
			}
			continue
		}
		if err := decodeField(m, fd, rawVal, allowUnknown); err != nil {
			return nil, wrapField(name, err)
		}
	}
	return m, nil
}

// lookupField implements spec.md §4.3.1's two-pass name match: exact match
// against the declared JSON name, else case-insensitive match against the
// proto (text) name.
func lookupField(desc protoreflect.MessageDescriptor, name string) protoreflect.FieldDescriptor {
	fields := desc.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.JSONName() == name {
			return fd
		}
	}
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if strings.EqualFold(string(fd.Name()), name) {
			return fd
		}
	}
	return nil
}

func decodeField(m *Message, fd protoreflect.FieldDescriptor, raw json.RawMessage, allowUnknown bool) error {
	if isJSONNull(raw) {
		// A null for a singular/map field simply leaves it unset; nulls
		// are a hard failure only as repeated-field elements or map values.
		return nil
	}
	switch {
	case fd.IsMap():
		return decodeMapField(m, fd, raw, allowUnknown)
	case fd.IsList():
		return decodeListField(m, fd, raw, allowUnknown)
	default:
		v, err := decodeSingularValue(fd, raw, allowUnknown)
		if err != nil {
			return err
		}
		return m.SetScalar(fd, v)
	}
}

func decodeMapField(m *Message, fd protoreflect.FieldDescriptor, raw json.RawMessage, allowUnknown bool) error {
	var entries map[string]json.RawMessage
	if err := unmarshalStrict(raw, &entries); err != nil {
		return fmt.Errorf("invalid JSON object for map field: %w", err)
	}
	keyFD := fd.MapKey()
	valFD := fd.MapValue()
	for keyStr, rawVal := range entries {
		key, err := mapKeyFromJSON(keyFD, keyStr)
		if err != nil {
			return fmt.Errorf("invalid map key %q: %w", keyStr, err)
		}
		if isJSONNull(rawVal) {
			return fmt.Errorf("null not allowed as map value")
		}
		val, err := decodeSingularValue(valFD, rawVal, allowUnknown)
		if err != nil {
			return wrapField(keyStr, err)
		}
		if err := m.PutMapEntry(fd, key, val); err != nil {
			return err
		}
	}
	if len(entries) == 0 {
		// Still record the field as present with an empty map.
		return m.SetMap(fd, map[any]any{})
	}
	return nil
}

func decodeListField(m *Message, fd protoreflect.FieldDescriptor, raw json.RawMessage, allowUnknown bool) error {
	var elems []json.RawMessage
	if err := unmarshalStrict(raw, &elems); err != nil {
		return fmt.Errorf("invalid JSON array for repeated field: %w", err)
	}
	if err := m.SetList(fd, []any{}); err != nil {
		return err
	}
	for i, rawElem := range elems {
		if isJSONNull(rawElem) {
			return fmt.Errorf("index %d: null not allowed in repeated field", i)
		}
		v, err := decodeSingularValue(fd, rawElem, allowUnknown)
		if err != nil {
			return wrapField(fmt.Sprintf("[%d]", i), err)
		}
		if err := m.AppendListElement(fd, v); err != nil {
			return err
		}
	}
	return nil
}

func mapKeyFromJSON(keyFD protoreflect.FieldDescriptor, s string) (any, error) {
	switch keyFD.Kind() {
	case protoreflect.StringKind:
		return s, nil
	case protoreflect.BoolKind:
		return strconv.ParseBool(s)
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := strconv.ParseUint(s, 10, 32)
		return uint32(n), err
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return strconv.ParseInt(s, 10, 64)
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return strconv.ParseUint(s, 10, 64)
	default:
		return nil, fmt.Errorf("unsupported map key kind %s", keyFD.Kind())
	}
}

// decodeSingularValue decodes one JSON value per the field's declared
// proto type, dispatching to the well-known-type shapes when applicable.
func decodeSingularValue(fd protoreflect.FieldDescriptor, raw json.RawMessage, allowUnknown bool) (any, error) {
	switch fd.Kind() {
	case protoreflect.MessageKind:
		return decodeMessageRaw(fd.Message(), raw, allowUnknown)
	case protoreflect.GroupKind:
		return nil, fmt.Errorf("proto2 groups are not supported")
	case protoreflect.EnumKind:
		return decodeEnum(fd.Enum(), raw)
	case protoreflect.BoolKind:
		var b bool
		if err := unmarshalStrict(raw, &b); err != nil {
			return nil, fmt.Errorf("expected bool: %w", err)
		}
		return b, nil
	case protoreflect.StringKind:
		var s string
		if err := unmarshalStrict(raw, &s); err != nil {
			return nil, fmt.Errorf("expected string: %w", err)
		}
		return s, nil
	case protoreflect.BytesKind:
		var s string
		if err := unmarshalStrict(raw, &s); err != nil {
			return nil, fmt.Errorf("expected base64 string: %w", err)
		}
		return decodeBytes(s)
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := decodeIntString(raw, 32, true)
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := decodeUintString(raw, 32)
		if err != nil {
			return nil, err
		}
		return uint32(n), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := decodeIntString(raw, 64, true)
		if err != nil {
			return nil, err
		}
		return n, nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return decodeUintString(raw, 64)
	case protoreflect.FloatKind:
		f, err := decodeFloatString(raw, 32)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case protoreflect.DoubleKind:
		return decodeFloatString(raw, 64)
	default:
		return nil, fmt.Errorf("unsupported field kind %s", fd.Kind())
	}
}

func decodeEnum(ed protoreflect.EnumDescriptor, raw json.RawMessage) (protoreflect.EnumNumber, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := unmarshalStrict(raw, &name); err != nil {
			return 0, fmt.Errorf("expected enum name string: %w", err)
		}
		v := ed.Values().ByName(protoreflect.Name(name))
		if v == nil {
			return 0, fmt.Errorf("invalid value %q for enum %s", name, ed.FullName())
		}
		return v.Number(), nil
	}
	n, err := decodeIntString(raw, 32, true)
	if err != nil {
		return 0, fmt.Errorf("expected enum name or number: %w", err)
	}
	return protoreflect.EnumNumber(n), nil
}

func decodeBytes(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// decodeIntString accepts a bare JSON number or a quoted numeric string,
// per spec.md §4.3.1's scalar decoding table allowing either for 64-bit
// (and, permissively, 32-bit) integers.
func decodeIntString(raw json.RawMessage, bits int, signed bool) (int64, error) {
	s, err := numericLiteral(raw)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("expected integer: %w", err)
	}
	return n, nil
}

func decodeUintString(raw json.RawMessage, bits int) (uint64, error) {
	s, err := numericLiteral(raw)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("expected unsigned integer: %w", err)
	}
	return n, nil
}

func decodeFloatString(raw json.RawMessage, bits int) (float64, error) {
	trimmed := strings.TrimSpace(string(raw))
	unquoted := trimmed
	if len(trimmed) >= 2 && trimmed[0] == '"' {
		var s string
		if err := unmarshalStrict(raw, &s); err != nil {
			return 0, fmt.Errorf("expected number or string: %w", err)
		}
		unquoted = s
	}
	switch unquoted {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(unquoted, bits)
	if err != nil {
		return 0, fmt.Errorf("expected float: %w", err)
	}
	return f, nil
}

// numericLiteral accepts either a bare JSON number or a quoted numeric
// string and returns the literal digits for strconv parsing.
func numericLiteral(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("empty value")
	}
	if trimmed[0] == '"' {
		var s string
		if err := unmarshalStrict(raw, &s); err != nil {
			return "", fmt.Errorf("expected numeric string: %w", err)
		}
		return s, nil
	}
	return string(trimmed), nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// unmarshalStrict disallows unknown-field leniency tricks like trailing
// data, keeping JSON decode failures total rather than silently truncated
// (spec.md §9's design note: make parseJSON total with explicit failures).
func unmarshalStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if rest := bytes.TrimSpace(raw[dec.InputOffset():]); len(rest) > 0 {
		return fmt.Errorf("unexpected trailing data after JSON value")
	}
	return nil
}

// --- well-known type JSON shapes (spec.md §4.3.1) ---

func decodeWellKnown(desc protoreflect.MessageDescriptor, raw json.RawMessage, allowUnknown bool) (*Message, bool, error) {
	switch desc.FullName() {
	case wellknown.TimestampFullName:
		m, err := decodeTimestamp(desc, raw)
		return m, true, err
	case wellknown.DurationFullName:
		m, err := decodeDuration(desc, raw)
		return m, true, err
	case wellknown.EmptyFullName:
		m, err := decodeEmpty(desc, raw)
		return m, true, err
	case wellknown.FieldMaskFullName:
		m, err := decodeFieldMask(desc, raw)
		return m, true, err
	case wellknown.StructFullName:
		m, err := decodeStruct(desc, raw, allowUnknown)
		return m, true, err
	case wellknown.ValueFullName:
		m, err := decodeWKValue(desc, raw, allowUnknown)
		return m, true, err
	case wellknown.ListValueFullName:
		m, err := decodeListValue(desc, raw, allowUnknown)
		return m, true, err
	case wellknown.AnyFullName:
		m, err := decodeAny(desc, raw)
		return m, true, err
	default:
		if wellknown.IsWrapperType(desc.FullName()) {
			m, err := decodeWrapper(desc, raw)
			return m, true, err
		}
		return nil, false, nil
	}
}

func decodeTimestamp(desc protoreflect.MessageDescriptor, raw json.RawMessage) (*Message, error) {
	var s string
	if err := unmarshalStrict(raw, &s); err != nil {
		return nil, fmt.Errorf("Timestamp must be an RFC 3339 string: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("invalid RFC 3339 timestamp %q: %w", s, err)
	}
	t = t.UTC()
	m := NewMessage(desc)
	if err := m.SetScalar(desc.Fields().ByName("seconds"), t.Unix()); err != nil {
		return nil, err
	}
	if err := m.SetScalar(desc.Fields().ByName("nanos"), int32(t.Nanosecond())); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeDuration(desc protoreflect.MessageDescriptor, raw json.RawMessage) (*Message, error) {
	var s string
	if err := unmarshalStrict(raw, &s); err != nil {
		return nil, fmt.Errorf("Duration must be a string: %w", err)
	}
	seconds, nanos, err := parseDurationLiteral(s)
	if err != nil {
		return nil, err
	}
	m := NewMessage(desc)
	if err := m.SetScalar(desc.Fields().ByName("seconds"), seconds); err != nil {
		return nil, err
	}
	if err := m.SetScalar(desc.Fields().ByName("nanos"), nanos); err != nil {
		return nil, err
	}
	return m, nil
}

// parseDurationLiteral implements spec.md §4.3.1's "<seconds>.<fractional>s"
// grammar: fractional digits are right-padded to 9 and excess truncated,
// rather than parsed as a float (which would lose precision at the edges).
func parseDurationLiteral(s string) (int64, int32, error) {
	if !strings.HasSuffix(s, "s") {
		return 0, 0, fmt.Errorf("invalid duration %q: missing trailing 's'", s)
	}
	body := strings.TrimSuffix(s, "s")
	negative := strings.HasPrefix(body, "-")
	if negative {
		body = strings.TrimPrefix(body, "-")
	}
	intPart := body
	fracPart := ""
	if idx := strings.IndexByte(body, '.'); idx >= 0 {
		intPart = body[:idx]
		fracPart = body[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	seconds, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if len(fracPart) > 9 {
		fracPart = fracPart[:9]
	}
	for len(fracPart) < 9 {
		fracPart += "0"
	}
	nanos64, err := strconv.ParseInt(fracPart, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid duration fraction %q: %w", s, err)
	}
	nanos := int32(nanos64)
	if negative {
		seconds, nanos = -seconds, -nanos
	}
	return seconds, nanos, nil
}

func decodeEmpty(desc protoreflect.MessageDescriptor, raw json.RawMessage) (*Message, error) {
	var obj map[string]json.RawMessage
	if err := unmarshalStrict(raw, &obj); err != nil {
		return nil, fmt.Errorf("Empty must be a JSON object: %w", err)
	}
	return NewMessage(desc), nil
}

func decodeFieldMask(desc protoreflect.MessageDescriptor, raw json.RawMessage) (*Message, error) {
	var s string
	if err := unmarshalStrict(raw, &s); err != nil {
		return nil, fmt.Errorf("FieldMask must be a string: %w", err)
	}
	m := NewMessage(desc)
	pathsFD := desc.Fields().ByName("paths")
	if err := m.SetList(pathsFD, []any{}); err != nil {
		return nil, err
	}
	if s == "" {
		return m, nil
	}
	for _, p := range strings.Split(s, ",") {
		if err := m.AppendListElement(pathsFD, strings.TrimSpace(p)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeStruct(desc protoreflect.MessageDescriptor, raw json.RawMessage, allowUnknown bool) (*Message, error) {
	var obj map[string]json.RawMessage
	if err := unmarshalStrict(raw, &obj); err != nil {
		return nil, fmt.Errorf("Struct must be a JSON object: %w", err)
	}
	m := NewMessage(desc)
	fieldsFD := desc.Fields().ByName("fields")
	valueDesc := fieldsFD.MapValue().Message()
	entries := make(map[any]any, len(obj))
	for k, v := range obj {
		sub, err := decodeMessageRaw(valueDesc, v, allowUnknown)
		if err != nil {
			return nil, wrapField(k, err)
		}
		entries[k] = sub
	}
	if err := m.SetMap(fieldsFD, entries); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeWKValue(desc protoreflect.MessageDescriptor, raw json.RawMessage, allowUnknown bool) (*Message, error) {
	m := NewMessage(desc)
	fields := desc.Fields()
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		return nil, fmt.Errorf("Value must not be empty")
	case bytes.Equal(trimmed, []byte("null")):
		return m, m.SetScalar(fields.ByName("null_value"), protoreflect.EnumNumber(0))
	case trimmed[0] == '"':
		var s string
		if err := unmarshalStrict(raw, &s); err != nil {
			return nil, err
		}
		return m, m.SetScalar(fields.ByName("string_value"), s)
	case bytes.Equal(trimmed, []byte("true")) || bytes.Equal(trimmed, []byte("false")):
		var b bool
		if err := unmarshalStrict(raw, &b); err != nil {
			return nil, err
		}
		return m, m.SetScalar(fields.ByName("bool_value"), b)
	case trimmed[0] == '{':
		sub, err := decodeStruct(fields.ByName("struct_value").Message(), raw, allowUnknown)
		if err != nil {
			return nil, err
		}
		return m, m.SetScalar(fields.ByName("struct_value"), sub)
	case trimmed[0] == '[':
		sub, err := decodeListValue(fields.ByName("list_value").Message(), raw, allowUnknown)
		if err != nil {
			return nil, err
		}
		return m, m.SetScalar(fields.ByName("list_value"), sub)
	default:
		f, err := decodeFloatString(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid Value literal: %w", err)
		}
		return m, m.SetScalar(fields.ByName("number_value"), f)
	}
}

func decodeListValue(desc protoreflect.MessageDescriptor, raw json.RawMessage, allowUnknown bool) (*Message, error) {
	var elems []json.RawMessage
	if err := unmarshalStrict(raw, &elems); err != nil {
		return nil, fmt.Errorf("ListValue must be a JSON array: %w", err)
	}
	m := NewMessage(desc)
	valuesFD := desc.Fields().ByName("values")
	valueDesc := valuesFD.Message()
	if err := m.SetList(valuesFD, []any{}); err != nil {
		return nil, err
	}
	for i, e := range elems {
		sub, err := decodeWKValue(valueDesc, e, allowUnknown)
		if err != nil {
			return nil, wrapField(fmt.Sprintf("[%d]", i), err)
		}
		if err := m.AppendListElement(valuesFD, sub); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeAny(desc protoreflect.MessageDescriptor, raw json.RawMessage) (*Message, error) {
	var obj map[string]json.RawMessage
	if err := unmarshalStrict(raw, &obj); err != nil {
		return nil, fmt.Errorf("Any must be a JSON object: %w", err)
	}
	m := NewMessage(desc)
	typeRaw, hasType := obj["@type"]
	if hasType {
		var typeURL string
		if err := unmarshalStrict(typeRaw, &typeURL); err != nil {
			return nil, fmt.Errorf("Any @type must be a string: %w", err)
		}
		if err := m.SetScalar(desc.Fields().ByName("type_url"), typeURL); err != nil {
			return nil, err
		}
	}
	// No type-url resolution: the remaining members are re-serialized
	// verbatim as a JSON fragment and stashed as raw bytes (spec.md §4.3.1,
	// §9 open question — passthrough is the deliberate behavior).
	delete(obj, "@type")
	fragment, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to re-serialize Any fragment: %w", err)
	}
	if err := m.SetScalar(desc.Fields().ByName("value"), fragment); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeWrapper(desc protoreflect.MessageDescriptor, raw json.RawMessage) (*Message, error) {
	m := NewMessage(desc)
	valueFD := desc.Fields().ByName("value")
	v, err := decodeSingularValue(valueFD, raw, true)
	if err != nil {
		return nil, err
	}
	if err := m.SetScalar(valueFD, v); err != nil {
		return nil, err
	}
	return m, nil
}
