package describe

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Symbol renders a one-line-per-member textual description of a resolved
// descriptor, grounded on protoc's own --descriptor_set_out companion
// "describe" conventions rather than any one example repo (the pack's
// CLI examples describe symbols via the protoreflect/desc packages'
// String() methods, which this mirrors in miniature without pulling in a
// full pretty-printer dependency).
func Symbol(d protoreflect.Descriptor) (string, error) {
	switch v := d.(type) {
	case protoreflect.ServiceDescriptor:
		return describeService(v), nil
	case protoreflect.MethodDescriptor:
		return describeMethod(v), nil
	case protoreflect.MessageDescriptor:
		return describeMessage(v), nil
	case protoreflect.EnumDescriptor:
		return describeEnum(v), nil
	default:
		return "", fmt.Errorf("describe: unsupported symbol kind for %s", d.FullName())
	}
}

func describeService(svc protoreflect.ServiceDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "service %s {\n", svc.FullName())
	methods := svc.Methods()
	for i := 0; i < methods.Len(); i++ {
		b.WriteString("  " + methodSignature(methods.Get(i)) + ";\n")
	}
	b.WriteString("}")
	return b.String()
}

func describeMethod(m protoreflect.MethodDescriptor) string {
	return "rpc " + methodSignature(m) + ";"
}

func methodSignature(m protoreflect.MethodDescriptor) string {
	in := string(m.Input().FullName())
	if m.IsStreamingClient() {
		in = "stream " + in
	}
	out := string(m.Output().FullName())
	if m.IsStreamingServer() {
		out = "stream " + out
	}
	return fmt.Sprintf("%s (%s) returns (%s)", m.Name(), in, out)
}

func describeMessage(msg protoreflect.MessageDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "message %s {\n", msg.FullName())
	fields := msg.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		fmt.Fprintf(&b, "  %s %s = %d;\n", fieldTypeName(fd), fd.Name(), fd.Number())
	}
	b.WriteString("}")
	return b.String()
}

func describeEnum(e protoreflect.EnumDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "enum %s {\n", e.FullName())
	values := e.Values()
	for i := 0; i < values.Len(); i++ {
		v := values.Get(i)
		fmt.Fprintf(&b, "  %s = %d;\n", v.Name(), v.Number())
	}
	b.WriteString("}")
	return b.String()
}

func fieldTypeName(fd protoreflect.FieldDescriptor) string {
	var kind string
	switch {
	case fd.IsMap():
		return fmt.Sprintf("map<%s, %s>", fieldTypeName(fd.MapKey()), fieldTypeName(fd.MapValue()))
	case fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind:
		kind = string(fd.Message().FullName())
	case fd.Kind() == protoreflect.EnumKind:
		kind = string(fd.Enum().FullName())
	default:
		kind = fd.Kind().String()
	}
	if fd.IsList() {
		return "repeated " + kind
	}
	return kind
}
