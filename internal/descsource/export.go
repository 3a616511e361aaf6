package descsource

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// exportDescriptorSet implements ExportDescriptorSet for both variants:
// resolve symbols to their owning files (or take every known file if none
// given), then expand to the transitive closure in topological order
// (dependencies strictly before dependents), deduplicated. Grounded on
// other_examples' grpcurl WriteProtoset/addFilesToSet.
func exportDescriptorSet(table *symbolTable, symbols []string) (*descriptorpb.FileDescriptorSet, error) {
	var roots []protoreflect.FileDescriptor

	if len(symbols) == 0 {
		roots = table.allFiles()
	} else {
		seen := make(map[string]bool)
		for _, sym := range symbols {
			d, ok := table.find(protoreflect.FullName(sym))
			if !ok {
				return nil, fmt.Errorf("descsource: failed to find descriptor for %q: %w", sym, &NotFoundError{Kind: "symbol", Name: sym})
			}
			fd := d.ParentFile()
			if !seen[fd.Path()] {
				seen[fd.Path()] = true
				roots = append(roots, fd)
			}
		}
	}

	expanded := make(map[string]struct{}, len(roots))
	var ordered []*descriptorpb.FileDescriptorProto
	for _, fd := range roots {
		ordered = addTransitive(ordered, expanded, fd)
	}

	return &descriptorpb.FileDescriptorSet{File: ordered}, nil
}

func addTransitive(out []*descriptorpb.FileDescriptorProto, expanded map[string]struct{}, fd protoreflect.FileDescriptor) []*descriptorpb.FileDescriptorProto {
	if _, ok := expanded[fd.Path()]; ok {
		return out
	}
	expanded[fd.Path()] = struct{}{}
	for i := 0; i < fd.Imports().Len(); i++ {
		out = addTransitive(out, expanded, fd.Imports().Get(i).FileDescriptor)
	}
	return append(out, protodesc.ToFileDescriptorProto(fd))
}
