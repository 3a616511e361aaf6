// Package wellknown holds the static table of built-in file descriptors
// (descriptor.proto plus the seven google.protobuf well-known-type files)
// that the descriptor source falls back to when an external source —
// a protoset or a reflecting server — omits a transitive dependency.
package wellknown

import (
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// seedMessages is one instance per well-known file, used only to walk back
// to its ProtoReflect().Descriptor().ParentFile(). The table is built once,
// lazily, on first lookup and is read-only thereafter — the only
// process-wide static state this module keeps, per spec's design note
// favoring explicit tables over incidental global registries.
var seedMessages = []proto.Message{
	&descriptorpb.FileDescriptorProto{},
	&anypb.Any{},
	&durationpb.Duration{},
	&emptypb.Empty{},
	&fieldmaskpb.FieldMask{},
	&structpb.Struct{},
	&structpb.Value{},
	&structpb.ListValue{},
	&timestamppb.Timestamp{},
	&wrapperspb.DoubleValue{},
	&wrapperspb.FloatValue{},
	&wrapperspb.Int64Value{},
	&wrapperspb.UInt64Value{},
	&wrapperspb.Int32Value{},
	&wrapperspb.UInt32Value{},
	&wrapperspb.BoolValue{},
	&wrapperspb.StringValue{},
	&wrapperspb.BytesValue{},
}

var (
	once  sync.Once
	table map[string]protoreflect.FileDescriptor
)

func build() {
	table = make(map[string]protoreflect.FileDescriptor, len(seedMessages))
	for _, m := range seedMessages {
		fd := m.ProtoReflect().Descriptor().ParentFile()
		table[fd.Path()] = fd
	}
}

// Lookup returns the well-known file descriptor registered under the given
// proto file name (e.g. "google/protobuf/timestamp.proto"), or false if the
// registry has nothing by that name. Only consulted by the descriptor
// source when a transitive dependency is absent from the externally
// supplied set.
func Lookup(fileName string) (protoreflect.FileDescriptor, bool) {
	once.Do(build)
	fd, ok := table[fileName]
	return fd, ok
}

// FullNames used by component C to special-case JSON encoding/decoding for
// the ten well-known types with bespoke JSON conventions. Kept here, next
// to the registry, because both are static facts about the same file set.
const (
	TimestampFullName   protoreflect.FullName = "google.protobuf.Timestamp"
	DurationFullName    protoreflect.FullName = "google.protobuf.Duration"
	EmptyFullName       protoreflect.FullName = "google.protobuf.Empty"
	FieldMaskFullName   protoreflect.FullName = "google.protobuf.FieldMask"
	StructFullName      protoreflect.FullName = "google.protobuf.Struct"
	ValueFullName       protoreflect.FullName = "google.protobuf.Value"
	ListValueFullName   protoreflect.FullName = "google.protobuf.ListValue"
	AnyFullName         protoreflect.FullName = "google.protobuf.Any"
	DoubleValueFullName protoreflect.FullName = "google.protobuf.DoubleValue"
	FloatValueFullName  protoreflect.FullName = "google.protobuf.FloatValue"
	Int64ValueFullName  protoreflect.FullName = "google.protobuf.Int64Value"
	UInt64ValueFullName protoreflect.FullName = "google.protobuf.UInt64Value"
	Int32ValueFullName  protoreflect.FullName = "google.protobuf.Int32Value"
	UInt32ValueFullName protoreflect.FullName = "google.protobuf.UInt32Value"
	BoolValueFullName   protoreflect.FullName = "google.protobuf.BoolValue"
	StringValueFullName protoreflect.FullName = "google.protobuf.StringValue"
	BytesValueFullName  protoreflect.FullName = "google.protobuf.BytesValue"
)

// IsWrapperType reports whether name is one of the nine wrapper types
// (Int32Value, ..., BytesValue) whose JSON shape is the bare scalar value.
func IsWrapperType(name protoreflect.FullName) bool {
	switch name {
	case DoubleValueFullName, FloatValueFullName, Int64ValueFullName,
		UInt64ValueFullName, Int32ValueFullName, UInt32ValueFullName,
		BoolValueFullName, StringValueFullName, BytesValueFullName:
		return true
	default:
		return false
	}
}
