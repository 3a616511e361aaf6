package descsource

import (
	"fmt"

	"github.com/aalobaidi/protodyn/internal/wellknown"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// resolver implements the dependency resolver shared by both descsource
// variants (spec.md §4.2, steps 1-6). It threads the in-progress
// resolution path explicitly through each recursive call rather than
// relying on a stack-walk or thread-local, per spec.md §9's design note.
type resolver struct {
	table *symbolTable
}

func newResolver(table *symbolTable) *resolver {
	return &resolver{table: table}
}

// resolveFile resolves fileName against pool (unresolved FileDescriptorProtos
// keyed by name), falling back to already-cached files and, failing that,
// the well-known-type registry. path is the chain of file names currently
// being resolved, used purely for cycle detection.
func (r *resolver) resolveFile(fileName string, pool map[string]*descriptorpb.FileDescriptorProto, path []string) (protoreflect.FileDescriptor, error) {
	// Step 1: already resolved.
	if fd, err := r.table.files.FindFileByPath(fileName); err == nil {
		return fd, nil
	}

	// Step 2: cycle check against the active resolution path.
	for _, seen := range path {
		if seen == fileName {
			return nil, &CycleError{Cycle: append(append([]string{}, path...), fileName)}
		}
	}

	fdProto, inPool := pool[fileName]
	if !inPool {
		// Step 3: consult the well-known-type registry as a fallback.
		if wkFD, ok := wellknown.Lookup(fileName); ok {
			r.table.registerFile(wkFD)
			return wkFD, nil
		}
		return nil, &NotFoundError{Kind: "file", Name: fileName}
	}

	// Step 5: resolve dependencies first (depth-first), then reconstruct
	// this file using the shared registry — which by now holds every
	// dependency — as the resolver for protodesc.NewFile. That registry
	// is exactly the "transitive closure of serialized file bytes in
	// topological order" the spec describes, built incrementally rather
	// than re-flattened on every call.
	nextPath := append(append([]string{}, path...), fileName)
	for _, dep := range fdProto.GetDependency() {
		if _, err := r.resolveFile(dep, pool, nextPath); err != nil {
			return nil, err
		}
	}

	fd, err := protodesc.NewFile(fdProto, r.table.files)
	if err != nil {
		return nil, fmt.Errorf("descsource: failed to construct descriptor for %q: %w", fileName, err)
	}

	// Step 6: on success, mark cached. A construction failure here leaves
	// the cache as it was (dependencies already resolved stay resolved;
	// this file itself is simply never registered).
	r.table.registerFile(fd)
	return fd, nil
}
