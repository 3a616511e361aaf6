// Package describe renders human-facing descriptions of resolved
// symbols, including the --msg-template JSON skeleton generator. The
// skeleton walk is adapted from the teacher's pkg/tools/builder.go
// ExtractMessageSchema: a visited-set recursion that turns a $ref once a
// message type reappears on the current path, generalized here from a
// JSON-Schema object into a literal example JSON document a caller can
// edit and pass to -d.
package describe

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// placeholderMaxDepth bounds recursion for message trees too deep to be a
// genuine cycle but still impractical to fully expand (defensively chosen
// well above any reasonable real-world descriptor).
const placeholderMaxDepth = 32

// MessageTemplate generates an example JSON document for desc, with one
// property per declared field, populated with representative zero/example
// values rather than a schema description. Properties are emitted sorted
// by JSON name (encoding/json orders map keys), not in declared order.
func MessageTemplate(desc protoreflect.MessageDescriptor) ([]byte, error) {
	val := templateMessage(desc, map[string]bool{}, 0)
	return marshalIndent(val)
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("describe: failed to render template: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// templateMessage builds the skeleton for one message type. visited
// tracks full names on the current recursion path only (cleared via defer
// on return) so the same message reachable via two siblings is still
// expanded in full for each; only genuine cycles are truncated.
func templateMessage(desc protoreflect.MessageDescriptor, visited map[string]bool, depth int) map[string]any {
	fullName := string(desc.FullName())
	if visited[fullName] || depth > placeholderMaxDepth {
		return map[string]any{}
	}
	visited[fullName] = true
	defer delete(visited, fullName)

	out := make(map[string]any)
	fields := desc.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		out[fd.JSONName()] = templateFieldValue(fd, visited, depth+1)
	}
	return out
}

func templateFieldValue(fd protoreflect.FieldDescriptor, visited map[string]bool, depth int) any {
	switch {
	case fd.IsMap():
		keyFd := fd.MapKey()
		valFd := fd.MapValue()
		return map[string]any{
			templateMapKeyPlaceholder(keyFd): templateScalarOrMessage(valFd, visited, depth),
		}
	case fd.IsList():
		return []any{templateScalarOrMessage(fd, visited, depth)}
	default:
		return templateScalarOrMessage(fd, visited, depth)
	}
}

func templateMapKeyPlaceholder(keyFd protoreflect.FieldDescriptor) string {
	switch keyFd.Kind() {
	case protoreflect.StringKind:
		return "key"
	default:
		return "0"
	}
}

func templateScalarOrMessage(fd protoreflect.FieldDescriptor, visited map[string]bool, depth int) any {
	if fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind {
		return templateMessage(fd.Message(), visited, depth)
	}
	return templateScalar(fd)
}

func templateScalar(fd protoreflect.FieldDescriptor) any {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return false
	case protoreflect.StringKind:
		return ""
	case protoreflect.BytesKind:
		return ""
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return 0
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return 0
	case protoreflect.EnumKind:
		values := fd.Enum().Values()
		if values.Len() > 0 {
			return string(values.Get(0).Name())
		}
		return ""
	default:
		return nil
	}
}
