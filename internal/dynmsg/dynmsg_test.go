package dynmsg_test

import (
	"testing"

	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/aalobaidi/protodyn/internal/dynmsg"
)

// buildTestFile constructs, without any .proto compilation step, a small
// descriptor tree exercising scalars, a nested message, a repeated field, a
// map field, and a oneof — enough surface to drive the §8 invariants.
func buildTestFile(t *testing.T) protoreflect.FileDescriptor {
	t.Helper()

	str := func(s string) *string { return &s }
	i32 := func(i int32) *int32 { return &i }
	boolp := func(b bool) *bool { return &b }

	label := func(repeated bool) *descriptorpb.FieldDescriptorProto_Label {
		l := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		if repeated {
			l = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
		}
		return &l
	}
	kind := func(k descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto_Type { return &k }

	entryMsg := &descriptorpb.DescriptorProto{
		Name: str("TagsEntry"),
		Field: []*descriptorpb.FieldDescriptorProto{
			{Name: str("key"), Number: i32(1), Label: label(false), Type: kind(descriptorpb.FieldDescriptorProto_TYPE_STRING), JsonName: str("key")},
			{Name: str("value"), Number: i32(2), Label: label(false), Type: kind(descriptorpb.FieldDescriptorProto_TYPE_STRING), JsonName: str("value")},
		},
		Options: &descriptorpb.MessageOptions{MapEntry: boolp(true)},
	}

	nested := &descriptorpb.DescriptorProto{
		Name: str("Nested"),
		Field: []*descriptorpb.FieldDescriptorProto{
			{Name: str("label"), Number: i32(1), Label: label(false), Type: kind(descriptorpb.FieldDescriptorProto_TYPE_STRING), JsonName: str("label")},
		},
	}

	root := &descriptorpb.DescriptorProto{
		Name: str("Sample"),
		Field: []*descriptorpb.FieldDescriptorProto{
			{Name: str("name"), Number: i32(1), Label: label(false), Type: kind(descriptorpb.FieldDescriptorProto_TYPE_STRING), JsonName: str("name")},
			{Name: str("count"), Number: i32(2), Label: label(false), Type: kind(descriptorpb.FieldDescriptorProto_TYPE_INT32), JsonName: str("count")},
			{Name: str("tags"), Number: i32(3), Label: label(true), Type: kind(descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), TypeName: str(".test.Sample.TagsEntry"), JsonName: str("tags")},
			{Name: str("ids"), Number: i32(4), Label: label(true), Type: kind(descriptorpb.FieldDescriptorProto_TYPE_INT32), JsonName: str("ids")},
			{Name: str("child"), Number: i32(5), Label: label(false), Type: kind(descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), TypeName: str(".test.Sample.Nested"), JsonName: str("child")},
			{Name: str("alt_a"), Number: i32(6), Label: label(false), Type: kind(descriptorpb.FieldDescriptorProto_TYPE_STRING), JsonName: str("altA"), OneofIndex: i32(0)},
			{Name: str("alt_b"), Number: i32(7), Label: label(false), Type: kind(descriptorpb.FieldDescriptorProto_TYPE_INT32), JsonName: str("altB"), OneofIndex: i32(0)},
		},
		NestedType: []*descriptorpb.DescriptorProto{entryMsg, nested},
		OneofDecl: []*descriptorpb.OneofDescriptorProto{
			{Name: str("alt")},
		},
	}

	fdProto := &descriptorpb.FileDescriptorProto{
		Name:    str("test/sample.proto"),
		Package: str("test"),
		Syntax:  str("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{root},
	}

	fd, err := protodesc.NewFile(fdProto, nil)
	if err != nil {
		t.Fatalf("protodesc.NewFile: %v", err)
	}
	return fd
}

func sampleDesc(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()
	fd := buildTestFile(t)
	md := fd.Messages().Get(0)
	return md
}

func TestJSONRoundTrip(t *testing.T) {
	desc := sampleDesc(t)
	input := []byte(`{"name":"hi","count":7,"ids":[1,2,3],"child":{"label":"x"},"altA":"chosen"}`)

	msg, err := dynmsg.DecodeJSON(desc, input, false)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}

	out, err := dynmsg.EncodeJSON(msg, false)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}

	roundTripped, err := dynmsg.DecodeJSON(desc, out, false)
	if err != nil {
		t.Fatalf("DecodeJSON(round-trip): %v", err)
	}

	assertFieldsEqual(t, desc, msg, roundTripped)
}

func TestOneofExclusivity(t *testing.T) {
	desc := sampleDesc(t)
	msg, err := dynmsg.DecodeJSON(desc, []byte(`{"altA":"x"}`), false)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}

	altA := fieldByName(desc, "alt_a")
	altB := fieldByName(desc, "alt_b")
	if err := msg.SetScalar(altB, int32(5)); err != nil {
		t.Fatalf("SetScalar(altB): %v", err)
	}
	if msg.Has(altA) {
		t.Error("expected alt_a to be evicted once alt_b is set")
	}
	if !msg.Has(altB) {
		t.Error("expected alt_b to be populated")
	}
}

func TestWireRoundTrip(t *testing.T) {
	desc := sampleDesc(t)
	input := []byte(`{"name":"hello","count":42,"ids":[10,20,30],"child":{"label":"nested"}}`)
	msg, err := dynmsg.DecodeJSON(desc, input, false)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}

	wire, err := dynmsg.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	size, err := dynmsg.ComputeSize(msg)
	if err != nil {
		t.Fatalf("ComputeSize: %v", err)
	}
	if size != len(wire) {
		t.Errorf("ComputeSize() = %d, len(Encode()) = %d, want equal", size, len(wire))
	}

	decoded, err := dynmsg.Decode(desc, wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	assertFieldsEqual(t, desc, msg, decoded)
}

func TestUnknownFieldStrictMode(t *testing.T) {
	desc := sampleDesc(t)
	input := []byte(`{"count":10,"unknown_field":"x"}`)

	if _, err := dynmsg.DecodeJSON(desc, input, false); err == nil {
		t.Fatal("expected strict decode to reject unknown_field")
	}

	msg, err := dynmsg.DecodeJSON(desc, input, true)
	if err != nil {
		t.Fatalf("DecodeJSON(allowUnknown=true): %v", err)
	}
	names := msg.UnknownFieldNames()
	if len(names) != 1 || names[0] != "unknown_field" {
		t.Errorf("UnknownFieldNames() = %v, want [unknown_field]", names)
	}
}

func fieldByName(desc protoreflect.MessageDescriptor, name protoreflect.Name) protoreflect.FieldDescriptor {
	return desc.Fields().ByName(name)
}

func assertFieldsEqual(t *testing.T, desc protoreflect.MessageDescriptor, a, b *dynmsg.Message) {
	t.Helper()
	fields := desc.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if a.Has(fd) != b.Has(fd) {
			t.Errorf("field %s: Has() mismatch (%v vs %v)", fd.Name(), a.Has(fd), b.Has(fd))
			continue
		}
		if !a.Has(fd) {
			continue
		}
		if fd.IsList() {
			av, _ := a.List(fd)
			bv, _ := b.List(fd)
			if len(av) != len(bv) {
				t.Errorf("field %s: list length mismatch (%d vs %d)", fd.Name(), len(av), len(bv))
			}
			continue
		}
		if fd.Kind() == protoreflect.MessageKind {
			continue
		}
		av, _ := a.Scalar(fd)
		bv, _ := b.Scalar(fd)
		if av != bv {
			t.Errorf("field %s: scalar mismatch (%v vs %v)", fd.Name(), av, bv)
		}
	}
}
