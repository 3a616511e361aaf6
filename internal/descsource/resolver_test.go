package descsource

import (
	"testing"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/descriptorpb"
)

func strp(s string) *string { return &s }

func TestResolveFileDetectsCycle(t *testing.T) {
	table := newSymbolTable(zap.NewNop())
	r := newResolver(table)

	pool := map[string]*descriptorpb.FileDescriptorProto{
		"a.proto": {Name: strp("a.proto"), Dependency: []string{"b.proto"}, Syntax: strp("proto3")},
		"b.proto": {Name: strp("b.proto"), Dependency: []string{"a.proto"}, Syntax: strp("proto3")},
	}

	_, err := r.resolveFile("a.proto", pool, nil)
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
	var cycleErr *CycleError
	if ce, ok := err.(*CycleError); !ok {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	} else {
		cycleErr = ce
	}
	if len(cycleErr.Cycle) == 0 {
		t.Error("CycleError.Cycle should not be empty")
	}
}

func TestResolveFileTopologicalOrder(t *testing.T) {
	table := newSymbolTable(zap.NewNop())
	r := newResolver(table)

	pool := map[string]*descriptorpb.FileDescriptorProto{
		"leaf.proto": {Name: strp("leaf.proto"), Syntax: strp("proto3")},
		"mid.proto":  {Name: strp("mid.proto"), Dependency: []string{"leaf.proto"}, Syntax: strp("proto3")},
		"top.proto":  {Name: strp("top.proto"), Dependency: []string{"mid.proto"}, Syntax: strp("proto3")},
	}

	fd, err := r.resolveFile("top.proto", pool, nil)
	if err != nil {
		t.Fatalf("resolveFile: %v", err)
	}
	if fd.Path() != "top.proto" {
		t.Errorf("fd.Path() = %q, want top.proto", fd.Path())
	}
	if _, err := table.files.FindFileByPath("leaf.proto"); err != nil {
		t.Errorf("expected leaf.proto to be registered as a resolved dependency: %v", err)
	}
	if _, err := table.files.FindFileByPath("mid.proto"); err != nil {
		t.Errorf("expected mid.proto to be registered as a resolved dependency: %v", err)
	}
}

func TestResolveFileNotFound(t *testing.T) {
	table := newSymbolTable(zap.NewNop())
	r := newResolver(table)

	_, err := r.resolveFile("missing.proto", map[string]*descriptorpb.FileDescriptorProto{}, nil)
	if err == nil {
		t.Fatal("expected a not-found error")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected *NotFoundError, got %T: %v", err, err)
	}
}
