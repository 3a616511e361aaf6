// Package descsource resolves fully-qualified protobuf symbol names to
// descriptors at runtime, backed by either a precompiled FileDescriptorSet
// or a live gRPC server reflection stream. Both variants share one
// dependency resolver (resolver.go) and populate one append-only symbol
// cache (symtab.go).
package descsource

import (
	"context"
	"errors"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ErrReflectionNotSupported is returned when the server's reflection
// service itself answers Unimplemented — a dedicated error so callers can
// present it as a hint to switch to protoset mode, per spec.md §4.2.
var ErrReflectionNotSupported = errors.New("descsource: server does not support the reflection API")

// NotFoundError reports that a symbol or file could not be resolved.
type NotFoundError struct {
	Kind string // "symbol" or "file"
	Name string
}

func (e *NotFoundError) Error() string {
	return "descsource: " + e.Kind + " not found: " + e.Name
}

// CycleError reports a dependency cycle discovered while resolving a file,
// naming the full cycle for diagnostics.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	msg := "descsource: cyclic dependency: "
	for i, name := range e.Cycle {
		if i > 0 {
			msg += " -> "
		}
		msg += name
	}
	return msg
}

// Source is the public contract shared by the file-set and reflection
// variants (spec.md §4.2).
type Source interface {
	// ListServices returns every fully-qualified service name known to
	// this source, in a stable order.
	ListServices(ctx context.Context) ([]string, error)

	// FindSymbol resolves a fully-qualified symbol name to its descriptor.
	// Returns a *NotFoundError (wrapped) when the symbol is unknown.
	FindSymbol(ctx context.Context, fullyQualifiedName string) (protoreflect.Descriptor, error)

	// ExportDescriptorSet serializes the transitive closure of files
	// needed to describe the given symbols (or every known file, if none
	// are given) as a FileDescriptorSet, dependencies before dependents,
	// deduplicated.
	ExportDescriptorSet(ctx context.Context, symbols ...string) (*descriptorpb.FileDescriptorSet, error)

	// Close releases any held resources (network streams, file handles).
	Close() error
}
