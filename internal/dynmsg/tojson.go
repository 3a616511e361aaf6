package dynmsg

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aalobaidi/protodyn/internal/wellknown"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func secondsNanosToTime(seconds int64, nanos int32) time.Time {
	return time.Unix(seconds, int64(nanos))
}

// EncodeJSON renders m as a JSON document. Populated fields are emitted in
// declared field order using their declared JSON name; unpopulated fields
// are omitted unless includeDefaults is true, per spec.md §4.3.4. Message-
// typed fields that are unpopulated stay omitted even with includeDefaults
// — there is no sensible "default message" to recurse into.
func EncodeJSON(m *Message, includeDefaults bool) ([]byte, error) {
	raw, err := encodeMessageRaw(m, includeDefaults)
	return []byte(raw), err
}

func encodeMessageRaw(m *Message, includeDefaults bool) (json.RawMessage, error) {
	if raw, handled, err := encodeWellKnown(m, includeDefaults); handled {
		return raw, err
	}

	desc := m.Descriptor()
	fields := desc.Fields()
	obj := jsonObject{}
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		populated := m.Has(fd)
		if !populated {
			if !includeDefaults {
				continue
			}
			if fd.Kind() == protoreflect.MessageKind && !fd.IsList() && !fd.IsMap() {
				continue
			}
		}
		val, err := encodeFieldValue(m, fd, includeDefaults)
		if err != nil {
			return nil, wrapField(string(fd.Name()), err)
		}
		obj.add(fd.JSONName(), val)
	}
	return obj.marshal()
}

func encodeFieldValue(m *Message, fd protoreflect.FieldDescriptor, includeDefaults bool) (json.RawMessage, error) {
	switch {
	case fd.IsMap():
		entries, _ := m.Map(fd)
		return encodeMapValue(fd, entries, includeDefaults)
	case fd.IsList():
		list, _ := m.List(fd)
		return encodeListValue(fd, list, includeDefaults)
	default:
		v, ok := m.Scalar(fd)
		if !ok {
			v = defaultScalarValue(fd)
		}
		return encodeScalarValue(fd, v, includeDefaults)
	}
}

func encodeListValue(fd protoreflect.FieldDescriptor, list []any, includeDefaults bool) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range list {
		if i > 0 {
			buf.WriteByte(',')
		}
		val, err := encodeScalarValue(fd, elem, includeDefaults)
		if err != nil {
			return nil, wrapField(fmt.Sprintf("[%d]", i), err)
		}
		buf.Write(val)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func encodeMapValue(fd protoreflect.FieldDescriptor, entries map[any]any, includeDefaults bool) (json.RawMessage, error) {
	keyFD := fd.MapKey()
	valFD := fd.MapValue()

	type pair struct {
		key string
		val json.RawMessage
	}
	pairs := make([]pair, 0, len(entries))
	for k, v := range entries {
		keyStr, err := mapKeyToJSON(keyFD, k)
		if err != nil {
			return nil, err
		}
		val, err := encodeScalarValue(valFD, v, includeDefaults)
		if err != nil {
			return nil, wrapField(keyStr, err)
		}
		pairs = append(pairs, pair{keyStr, val})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	obj := jsonObject{}
	for _, p := range pairs {
		obj.add(p.key, p.val)
	}
	return obj.marshal()
}

func mapKeyToJSON(keyFD protoreflect.FieldDescriptor, key any) (string, error) {
	switch keyFD.Kind() {
	case protoreflect.StringKind:
		return key.(string), nil
	case protoreflect.BoolKind:
		return strconv.FormatBool(key.(bool)), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return strconv.FormatInt(int64(key.(int32)), 10), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return strconv.FormatUint(uint64(key.(uint32)), 10), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return strconv.FormatInt(key.(int64), 10), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return strconv.FormatUint(key.(uint64), 10), nil
	default:
		return "", fmt.Errorf("unsupported map key kind %s", keyFD.Kind())
	}
}

func encodeScalarValue(fd protoreflect.FieldDescriptor, v any, includeDefaults bool) (json.RawMessage, error) {
	switch fd.Kind() {
	case protoreflect.MessageKind:
		sub, ok := v.(*Message)
		if !ok || sub == nil {
			return []byte("null"), nil
		}
		return encodeMessageRaw(sub, includeDefaults)
	case protoreflect.GroupKind:
		return nil, fmt.Errorf("proto2 groups are not supported")
	case protoreflect.EnumKind:
		n, _ := v.(protoreflect.EnumNumber)
		if ev := fd.Enum().Values().ByNumber(n); ev != nil {
			return jsonString(string(ev.Name())), nil
		}
		return []byte(strconv.FormatInt(int64(n), 10)), nil
	case protoreflect.BoolKind:
		b, _ := v.(bool)
		return []byte(strconv.FormatBool(b)), nil
	case protoreflect.StringKind:
		s, _ := v.(string)
		return jsonString(s), nil
	case protoreflect.BytesKind:
		b, _ := v.([]byte)
		return jsonString(base64.StdEncoding.EncodeToString(b)), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, _ := v.(int32)
		return []byte(strconv.FormatInt(int64(n), 10)), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, _ := v.(uint32)
		return []byte(strconv.FormatUint(uint64(n), 10)), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, _ := v.(int64)
		return jsonString(strconv.FormatInt(n, 10)), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, _ := v.(uint64)
		return jsonString(strconv.FormatUint(n, 10)), nil
	case protoreflect.FloatKind:
		f, _ := v.(float32)
		return encodeFloatJSON(float64(f), 32), nil
	case protoreflect.DoubleKind:
		f, _ := v.(float64)
		return encodeFloatJSON(f, 64), nil
	default:
		return nil, fmt.Errorf("unsupported field kind %s", fd.Kind())
	}
}

func encodeFloatJSON(f float64, bits int) json.RawMessage {
	switch {
	case math.IsNaN(f):
		return jsonString("NaN")
	case math.IsInf(f, 1):
		return jsonString("Infinity")
	case math.IsInf(f, -1):
		return jsonString("-Infinity")
	default:
		return []byte(strconv.FormatFloat(f, 'g', -1, bits))
	}
}

func defaultScalarValue(fd protoreflect.FieldDescriptor) any {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return false
	case protoreflect.StringKind:
		return ""
	case protoreflect.BytesKind:
		return []byte{}
	case protoreflect.EnumKind:
		return protoreflect.EnumNumber(0)
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return int32(0)
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return uint32(0)
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return int64(0)
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return uint64(0)
	case protoreflect.FloatKind:
		return float32(0)
	case protoreflect.DoubleKind:
		return float64(0)
	default:
		return nil
	}
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// jsonObject accumulates key/value pairs and marshals them preserving
// insertion order — encoding/json always sorts Go map keys, which would
// silently violate spec.md §4.3.4's declared-field-order requirement.
type jsonObject struct {
	keys []string
	vals []json.RawMessage
}

func (o *jsonObject) add(key string, val json.RawMessage) {
	o.keys = append(o.keys, key)
	o.vals = append(o.vals, val)
}

func (o jsonObject) marshal() (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(jsonString(k))
		buf.WriteByte(':')
		buf.Write(o.vals[i])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// --- well-known type JSON shapes ---

func encodeWellKnown(m *Message, includeDefaults bool) (json.RawMessage, bool, error) {
	desc := m.Descriptor()
	switch desc.FullName() {
	case wellknown.TimestampFullName:
		raw, err := encodeTimestamp(m)
		return raw, true, err
	case wellknown.DurationFullName:
		raw, err := encodeDuration(m)
		return raw, true, err
	case wellknown.EmptyFullName:
		return json.RawMessage("{}"), true, nil
	case wellknown.FieldMaskFullName:
		raw, err := encodeFieldMask(m)
		return raw, true, err
	case wellknown.StructFullName:
		raw, err := encodeStruct(m, includeDefaults)
		return raw, true, err
	case wellknown.ValueFullName:
		raw, err := encodeWKValue(m, includeDefaults)
		return raw, true, err
	case wellknown.ListValueFullName:
		raw, err := encodeListValueWK(m, includeDefaults)
		return raw, true, err
	case wellknown.AnyFullName:
		raw, err := encodeAny(m)
		return raw, true, err
	default:
		if wellknown.IsWrapperType(desc.FullName()) {
			raw, err := encodeWrapper(m)
			return raw, true, err
		}
		return nil, false, nil
	}
}

func encodeTimestamp(m *Message) (json.RawMessage, error) {
	desc := m.Descriptor()
	var seconds int64
	var nanos int32
	if v, ok := m.Scalar(desc.Fields().ByName("seconds")); ok {
		seconds = v.(int64)
	}
	if v, ok := m.Scalar(desc.Fields().ByName("nanos")); ok {
		nanos = v.(int32)
	}
	t := secondsNanosToTime(seconds, nanos)
	return jsonString(t.UTC().Format("2006-01-02T15:04:05.999999999Z")), nil
}

func encodeDuration(m *Message) (json.RawMessage, error) {
	desc := m.Descriptor()
	var seconds int64
	var nanos int32
	if v, ok := m.Scalar(desc.Fields().ByName("seconds")); ok {
		seconds = v.(int64)
	}
	if v, ok := m.Scalar(desc.Fields().ByName("nanos")); ok {
		nanos = v.(int32)
	}
	negative := seconds < 0 || nanos < 0
	if seconds < 0 {
		seconds = -seconds
	}
	if nanos < 0 {
		nanos = -nanos
	}
	s := fmt.Sprintf("%d.%09d", seconds, nanos)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if negative && s != "0" {
		s = "-" + s
	}
	return jsonString(s + "s"), nil
}

func encodeFieldMask(m *Message) (json.RawMessage, error) {
	desc := m.Descriptor()
	paths, _ := m.List(desc.Fields().ByName("paths"))
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, p.(string))
	}
	return jsonString(strings.Join(parts, ",")), nil
}

func encodeStruct(m *Message, includeDefaults bool) (json.RawMessage, error) {
	desc := m.Descriptor()
	entries, _ := m.Map(desc.Fields().ByName("fields"))
	type pair struct {
		key string
		val json.RawMessage
	}
	pairs := make([]pair, 0, len(entries))
	for k, v := range entries {
		sub, ok := v.(*Message)
		if !ok {
			return nil, fmt.Errorf("Struct field value is not a Value message")
		}
		raw, err := encodeWKValue(sub, includeDefaults)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair{k.(string), raw})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	obj := jsonObject{}
	for _, p := range pairs {
		obj.add(p.key, p.val)
	}
	return obj.marshal()
}

func encodeWKValue(m *Message, includeDefaults bool) (json.RawMessage, error) {
	desc := m.Descriptor()
	fields := desc.Fields()

	if fd, val := activeOneof(m, fields); fd != nil {
		switch fd.Name() {
		case "null_value":
			return []byte("null"), nil
		case "number_value":
			f, _ := val.(float64)
			return encodeFloatJSON(f, 64), nil
		case "string_value":
			s, _ := val.(string)
			return jsonString(s), nil
		case "bool_value":
			b, _ := val.(bool)
			return []byte(strconv.FormatBool(b)), nil
		case "struct_value":
			sub, _ := val.(*Message)
			return encodeStruct(sub, includeDefaults)
		case "list_value":
			sub, _ := val.(*Message)
			return encodeListValueWK(sub, includeDefaults)
		}
	}
	return []byte("null"), nil
}

func activeOneof(m *Message, fields protoreflect.FieldDescriptors) (protoreflect.FieldDescriptor, any) {
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if v, ok := m.Scalar(fd); ok {
			return fd, v
		}
	}
	return nil, nil
}

func encodeListValueWK(m *Message, includeDefaults bool) (json.RawMessage, error) {
	desc := m.Descriptor()
	values, _ := m.List(desc.Fields().ByName("values"))
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			buf.WriteByte(',')
		}
		sub, ok := v.(*Message)
		if !ok {
			return nil, fmt.Errorf("ListValue element is not a Value message")
		}
		raw, err := encodeWKValue(sub, includeDefaults)
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func encodeAny(m *Message) (json.RawMessage, error) {
	desc := m.Descriptor()
	var typeURL string
	if v, ok := m.Scalar(desc.Fields().ByName("type_url")); ok {
		typeURL, _ = v.(string)
	}
	fragment := []byte("{}")
	if v, ok := m.Scalar(desc.Fields().ByName("value")); ok {
		if b, ok := v.([]byte); ok && len(b) > 0 {
			fragment = b
		}
	}
	var obj map[string]json.RawMessage
	if err := unmarshalStrict(fragment, &obj); err != nil {
		return nil, fmt.Errorf("Any fragment is not a JSON object: %w", err)
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := jsonObject{}
	if typeURL != "" {
		out.add("@type", jsonString(typeURL))
	}
	for _, k := range keys {
		out.add(k, obj[k])
	}
	return out.marshal()
}

func encodeWrapper(m *Message) (json.RawMessage, error) {
	desc := m.Descriptor()
	valueFD := desc.Fields().ByName("value")
	v, ok := m.Scalar(valueFD)
	if !ok {
		v = defaultScalarValue(valueFD)
	}
	return encodeScalarValue(valueFD, v, true)
}
