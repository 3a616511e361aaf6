package descsource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// reflectionSource is the server-reflection-backed descriptor source.
// Grounded on the teacher's pkg/grpc/reflection.go reflectionClient. Each
// reflection request opens and closes its own stream: ListServices sends
// its list query on one stream, and each per-service FileContainingSymbol
// query during listing opens a further stream; the listing stream is not
// reused for those queries. Every stream gets the pre-flight cancellation
// check and drain-before-close ordering spec.md §4.2/§9 describe — the
// teacher's CloseSend-only shutdown skips the drain, which spec.md §9
// calls out explicitly as a bug to avoid (server-side cancellation errors
// get logged when the drain is skipped).
type reflectionSource struct {
	logger *zap.Logger
	client grpc_reflection_v1alpha.ServerReflectionClient
	header metadata.MD

	table *symbolTable
	res   *resolver

	mu             sync.Mutex // serializes resolve+register across concurrent FindSymbol calls
	servicesLoaded bool
}

// NewReflectionSource wraps conn with the v1alpha server-reflection
// protocol. header carries reflection-only metadata (spec.md §6's
// --reflect-header scope); it is merged onto every reflection stream this
// source opens, separate from the RPC-only headers the invoker attaches.
func NewReflectionSource(logger *zap.Logger, conn grpc.ClientConnInterface, header metadata.MD) Source {
	logger = logger.Named("descsource.reflection")
	table := newSymbolTable(logger)
	return &reflectionSource{
		logger: logger,
		client: grpc_reflection_v1alpha.NewServerReflectionClient(conn),
		header: header,
		table:  table,
		res:    newResolver(table),
	}
}

func (s *reflectionSource) outgoingContext(ctx context.Context) context.Context {
	if len(s.header) == 0 {
		return ctx
	}
	return metadata.NewOutgoingContext(ctx, metadata.Join(s.header, metadataFromContext(ctx)))
}

func metadataFromContext(ctx context.Context) metadata.MD {
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		return md
	}
	return nil
}

// openStream performs the pre-flight cancellation check required by
// spec.md §4.4/§9 before opening any stream, so a caller that already
// cancelled gets the idiomatic context.Canceled rather than a mid-stream
// RPC error.
func (s *reflectionSource) openStream(ctx context.Context) (grpc_reflection_v1alpha.ServerReflection_ServerReflectionInfoClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := s.client.ServerReflectionInfo(s.outgoingContext(ctx))
	if err != nil {
		return nil, reflectionErr(err)
	}
	return stream, nil
}

// closeStream half-closes the send side, drains any remaining responses
// (per spec.md §9, skipping the drain causes server-side cancellation
// errors to be logged), then lets the stream's context teardown close it.
func (s *reflectionSource) closeStream(stream grpc_reflection_v1alpha.ServerReflection_ServerReflectionInfoClient) {
	if err := stream.CloseSend(); err != nil {
		s.logger.Warn("failed to half-close reflection stream", zap.Error(err))
		return
	}
	for {
		if _, err := stream.Recv(); err != nil {
			return
		}
	}
}

func reflectionErr(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.Unimplemented {
		return ErrReflectionNotSupported
	}
	return err
}

func (s *reflectionSource) ListServices(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.servicesLoaded {
		names := s.table.listServices()
		sort.Strings(names)
		return names, nil
	}

	stream, err := s.openStream(ctx)
	if err != nil {
		return nil, err
	}
	defer s.closeStream(stream)

	req := &grpc_reflection_v1alpha.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1alpha.ServerReflectionRequest_ListServices{ListServices: ""},
	}
	if err := stream.Send(req); err != nil {
		return nil, fmt.Errorf("descsource: failed to send ListServices: %w", reflectionErr(err))
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, fmt.Errorf("descsource: failed to receive ListServices response: %w", reflectionErr(err))
	}
	listResp := resp.GetListServicesResponse()
	if listResp == nil {
		return nil, fmt.Errorf("descsource: unexpected reflection response type for ListServices")
	}

	for _, svc := range listResp.GetService() {
		if err := s.resolveSymbolLocked(ctx, svc.GetName()); err != nil {
			// Individual service-resolution failures do not abort the
			// listing, per spec.md §4.2; they are reported and omitted.
			s.logger.Warn("failed to resolve service during listing", zap.String("service", svc.GetName()), zap.Error(err))
		}
	}

	s.servicesLoaded = true
	names := s.table.listServices()
	sort.Strings(names)
	return names, nil
}

func (s *reflectionSource) FindSymbol(ctx context.Context, fullyQualifiedName string) (protoreflect.Descriptor, error) {
	if d, ok := s.table.find(protoreflect.FullName(fullyQualifiedName)); ok {
		return d, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock: another caller may have just resolved it.
	if d, ok := s.table.find(protoreflect.FullName(fullyQualifiedName)); ok {
		return d, nil
	}

	if err := s.resolveSymbolLocked(ctx, fullyQualifiedName); err != nil {
		if nf, ok := err.(*NotFoundError); ok {
			return nil, nf
		}
		return nil, err
	}

	d, ok := s.table.find(protoreflect.FullName(fullyQualifiedName))
	if !ok {
		return nil, &NotFoundError{Kind: "symbol", Name: fullyQualifiedName}
	}
	return d, nil
}

// resolveSymbolLocked issues one FileContainingSymbol query and resolves
// every file it returns (the symbol's own file plus, per the v1alpha
// reflection protocol, its transitive dependencies). Caller must hold s.mu.
func (s *reflectionSource) resolveSymbolLocked(ctx context.Context, symbol string) error {
	stream, err := s.openStream(ctx)
	if err != nil {
		return err
	}
	defer s.closeStream(stream)

	req := &grpc_reflection_v1alpha.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1alpha.ServerReflectionRequest_FileContainingSymbol{
			FileContainingSymbol: symbol,
		},
	}
	if err := stream.Send(req); err != nil {
		return fmt.Errorf("descsource: failed to send FileContainingSymbol(%s): %w", symbol, reflectionErr(err))
	}
	resp, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("descsource: failed to receive FileContainingSymbol(%s) response: %w", symbol, reflectionErr(err))
	}

	if errResp := resp.GetErrorResponse(); errResp != nil {
		return &NotFoundError{Kind: "symbol", Name: symbol}
	}

	fdResp := resp.GetFileDescriptorResponse()
	if fdResp == nil {
		return fmt.Errorf("descsource: unexpected reflection response type for symbol %q", symbol)
	}

	pool := make(map[string]*descriptorpb.FileDescriptorProto, len(fdResp.GetFileDescriptorProto()))
	var order []string
	for _, raw := range fdResp.GetFileDescriptorProto() {
		var fdProto descriptorpb.FileDescriptorProto
		if err := proto.Unmarshal(raw, &fdProto); err != nil {
			return fmt.Errorf("descsource: failed to unmarshal file descriptor for symbol %q: %w", symbol, err)
		}
		name := fdProto.GetName()
		if _, exists := pool[name]; !exists {
			pool[name] = &fdProto
			order = append(order, name)
		}
	}

	for _, name := range order {
		if _, err := s.res.resolveFile(name, pool, nil); err != nil {
			return fmt.Errorf("descsource: failed to resolve file %q for symbol %q: %w", name, symbol, err)
		}
	}
	return nil
}

func (s *reflectionSource) ExportDescriptorSet(_ context.Context, symbols ...string) (*descriptorpb.FileDescriptorSet, error) {
	return exportDescriptorSet(s.table, symbols)
}

func (s *reflectionSource) Close() error { return nil }
