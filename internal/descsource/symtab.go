package descsource

import (
	"sync"

	"go.uber.org/zap"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// symbolTable is the append-only symbol graph shared by both descsource
// variants (spec.md §3). Files are frozen once resolved; file-name
// collisions keep the first binding, symbol-name collisions let the later
// one win (warning only for service/method collisions), per spec.md §3.
//
// Safe for concurrent reads once populated; writes (registerFile) must be
// serialized by the caller — the reflection variant does this with its own
// mutex around a whole resolve-then-register sequence, the file-set variant
// never mutates after construction.
type symbolTable struct {
	mu      sync.RWMutex
	files   *protoregistry.Files
	symbols map[protoreflect.FullName]protoreflect.Descriptor
	logger  *zap.Logger
}

func newSymbolTable(logger *zap.Logger) *symbolTable {
	return &symbolTable{
		files:   &protoregistry.Files{},
		symbols: make(map[protoreflect.FullName]protoreflect.Descriptor),
		logger:  logger,
	}
}

// registerFile freezes fd into the graph, walking its declared symbols into
// the flat symbol map. Returns true if fd was newly added (false if a file
// of the same path already existed, in which case fd is discarded and the
// first binding wins).
func (t *symbolTable) registerFile(fd protoreflect.FileDescriptor) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, err := t.files.FindFileByPath(fd.Path()); err == nil && existing != nil {
		t.logger.Warn("duplicate file load, keeping first binding", zap.String("file", fd.Path()))
		return false
	}
	if err := t.files.RegisterFile(fd); err != nil {
		t.logger.Warn("duplicate file load, keeping first binding", zap.String("file", fd.Path()), zap.Error(err))
		return false
	}

	t.indexFile(fd)
	return true
}

func (t *symbolTable) indexFile(fd protoreflect.FileDescriptor) {
	for i := 0; i < fd.Services().Len(); i++ {
		svc := fd.Services().Get(i)
		t.put(svc, true)
		for j := 0; j < svc.Methods().Len(); j++ {
			t.put(svc.Methods().Get(j), true)
		}
	}
	for i := 0; i < fd.Enums().Len(); i++ {
		t.indexEnum(fd.Enums().Get(i))
	}
	for i := 0; i < fd.Messages().Len(); i++ {
		t.indexMessage(fd.Messages().Get(i))
	}
}

func (t *symbolTable) indexMessage(md protoreflect.MessageDescriptor) {
	t.put(md, false)
	for i := 0; i < md.Fields().Len(); i++ {
		t.put(md.Fields().Get(i), false)
	}
	for i := 0; i < md.Oneofs().Len(); i++ {
		t.put(md.Oneofs().Get(i), false)
	}
	for i := 0; i < md.Enums().Len(); i++ {
		t.indexEnum(md.Enums().Get(i))
	}
	for i := 0; i < md.Messages().Len(); i++ {
		t.indexMessage(md.Messages().Get(i))
	}
}

func (t *symbolTable) indexEnum(ed protoreflect.EnumDescriptor) {
	t.put(ed, false)
	for i := 0; i < ed.Values().Len(); i++ {
		t.put(ed.Values().Get(i), false)
	}
}

// put inserts desc under its full name. The later registration always wins
// (spec.md §3); warnServiceMethod restricts the collision warning to
// service/method descriptors, since those are the only collisions spec.md
// wants surfaced.
func (t *symbolTable) put(desc protoreflect.Descriptor, warnServiceMethod bool) {
	name := desc.FullName()
	if _, exists := t.symbols[name]; exists && warnServiceMethod {
		t.logger.Warn("duplicate service/method symbol, later binding wins", zap.String("symbol", string(name)))
	}
	t.symbols[name] = desc
}

func (t *symbolTable) find(name protoreflect.FullName) (protoreflect.Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.symbols[name]
	return d, ok
}

func (t *symbolTable) listServices() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for name, d := range t.symbols {
		if _, ok := d.(protoreflect.ServiceDescriptor); ok {
			out = append(out, string(name))
		}
	}
	return out
}

// allFiles returns every resolved file, for ExportDescriptorSet's
// no-symbols-given case.
func (t *symbolTable) allFiles() []protoreflect.FileDescriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []protoreflect.FileDescriptor
	t.files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		out = append(out, fd)
		return true
	})
	return out
}
