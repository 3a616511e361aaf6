// Package invoke implements the dynamic RPC dispatcher (component D):
// four entry points, one per streaming shape, over a descriptor-bound
// codec that never relies on generated stub types. Grounded on the
// teacher's pkg/grpc/reflection.go InvokeMethod for the unary path and on
// other_examples' grpcurl invoke.go for the streaming shapes and the
// handler-callback style of surfacing headers/trailers.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/aalobaidi/protodyn/internal/dynmsg"
)

// writerJoinTimeout bounds how long a streaming call waits for its
// request-writing goroutine after the response side ends, per spec.md
// §4.4/§9 — distinct from, and unrelated to, any caller-supplied deadline.
const writerJoinTimeout = 30 * time.Second

// RequestSource supplies the lazy sequence of request messages for
// client-streaming and bidi calls. Next returns io.EOF once exhausted.
type RequestSource interface {
	Next() (*dynmsg.Message, error)
}

// CallOptions carries the per-call header/deadline pair every entry point
// accepts (spec.md §4.4).
type CallOptions struct {
	Header   metadata.MD
	Deadline time.Time
}

// Invoker dispatches RPCs against method descriptors resolved by a
// descriptor source, over one shared channel.
type Invoker struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

func NewInvoker(conn *grpc.ClientConn, logger *zap.Logger) *Invoker {
	return &Invoker{conn: conn, logger: logger.Named("invoke")}
}

func (inv *Invoker) callContext(ctx context.Context, opts CallOptions) (context.Context, context.CancelFunc) {
	if len(opts.Header) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, opts.Header)
	}
	if !opts.Deadline.IsZero() {
		return context.WithDeadline(ctx, opts.Deadline)
	}
	return ctx, func() {}
}

// openStream performs the pre-flight cancellation check spec.md §4.4/§9
// requires of every streaming entry point, then opens a generic stream
// shaped by the method's client/server-streaming flags.
func (inv *Invoker) openStream(ctx context.Context, method protoreflect.MethodDescriptor) (grpc.ClientStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	desc := &grpc.StreamDesc{
		StreamName:    string(method.Name()),
		ServerStreams: method.IsStreamingServer(),
		ClientStreams: method.IsStreamingClient(),
	}
	return inv.conn.NewStream(ctx, desc, fullMethodName(method), grpc.ForceCodec(dynCodec{}))
}

func fullMethodName(method protoreflect.MethodDescriptor) string {
	svc := method.Parent().(protoreflect.ServiceDescriptor)
	return fmt.Sprintf("/%s/%s", svc.FullName(), method.Name())
}

// Unary invokes a non-streaming method with a single request and response.
func (inv *Invoker) Unary(ctx context.Context, method protoreflect.MethodDescriptor, req *dynmsg.Message, opts CallOptions) (*dynmsg.Message, metadata.MD, error) {
	ctx, cancel := inv.callContext(ctx, opts)
	defer cancel()

	stream, err := inv.openStream(ctx, method)
	if err != nil {
		return nil, nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, nil, fmt.Errorf("invoke: failed to send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, fmt.Errorf("invoke: failed to close send: %w", err)
	}
	resp := dynmsg.NewMessage(method.Output())
	if err := stream.RecvMsg(resp); err != nil {
		return nil, nil, fmt.Errorf("invoke: failed to receive response: %w", err)
	}
	header, _ := stream.Header()
	return resp, header, nil
}

// ResponseStream is the lazy sequence of responses produced by
// server-streaming and bidi calls.
type ResponseStream struct {
	stream grpc.ClientStream
	method protoreflect.MethodDescriptor
	cancel context.CancelFunc
	closed bool

	// waitWrites is non-nil only for bidi streams, where a concurrent
	// writer needs joining once the response side ends.
	waitWrites func() error
}

// Next returns the next response, or io.EOF once the server half-closes.
func (s *ResponseStream) Next() (*dynmsg.Message, error) {
	resp := dynmsg.NewMessage(s.method.Output())
	err := s.stream.RecvMsg(resp)
	if err != nil {
		if s.waitWrites != nil {
			if writeErr := s.waitWrites(); writeErr != nil && errors.Is(err, io.EOF) {
				return nil, writeErr
			}
		}
		return nil, err
	}
	return resp, nil
}

func (s *ResponseStream) Header() (metadata.MD, error) { return s.stream.Header() }

func (s *ResponseStream) Close() error {
	if !s.closed {
		s.closed = true
		s.cancel()
	}
	return nil
}

// ServerStream invokes a server-streaming method with one request,
// returning the lazy response sequence.
func (inv *Invoker) ServerStream(ctx context.Context, method protoreflect.MethodDescriptor, req *dynmsg.Message, opts CallOptions) (*ResponseStream, error) {
	ctx, cancel := inv.callContext(ctx, opts)
	stream, err := inv.openStream(ctx, method)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, fmt.Errorf("invoke: failed to send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("invoke: failed to close send: %w", err)
	}
	return &ResponseStream{stream: stream, method: method, cancel: cancel}, nil
}

// ClientStream invokes a client-streaming method, sending every request
// reqs yields before awaiting the single response.
func (inv *Invoker) ClientStream(ctx context.Context, method protoreflect.MethodDescriptor, reqs RequestSource, opts CallOptions) (*dynmsg.Message, error) {
	ctx, cancel := inv.callContext(ctx, opts)
	defer cancel()

	stream, err := inv.openStream(ctx, method)
	if err != nil {
		return nil, err
	}

	var sent int64
	for {
		req, err := reqs.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invoke: failed to read next request after %d sent: %w", sent, err)
		}
		if err := stream.SendMsg(req); err != nil {
			return nil, fmt.Errorf("invoke: failed to send request %d: %w", sent+1, err)
		}
		sent++
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("invoke: failed to close send after %d sent: %w", sent, err)
	}

	resp := dynmsg.NewMessage(method.Output())
	if err := stream.RecvMsg(resp); err != nil {
		return nil, fmt.Errorf("invoke: failed to receive response: %w", err)
	}
	return resp, nil
}

// Bidi invokes a bidi-streaming method. Request writes run on a background
// goroutine pair managed by errgroup, joined against the response loop
// with writerJoinTimeout once the response stream ends (spec.md §4.4/§9).
func (inv *Invoker) Bidi(ctx context.Context, method protoreflect.MethodDescriptor, reqs RequestSource, opts CallOptions) (*ResponseStream, error) {
	ctx, cancel := inv.callContext(ctx, opts)
	stream, err := inv.openStream(ctx, method)
	if err != nil {
		cancel()
		return nil, err
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var sent int64
		for {
			req, err := reqs.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("invoke: failed to read next request after %d sent: %w", sent, err)
			}
			if err := stream.SendMsg(req); err != nil {
				return fmt.Errorf("invoke: failed to send request %d: %w", sent+1, err)
			}
			sent++
		}
		if err := stream.CloseSend(); err != nil {
			return fmt.Errorf("invoke: failed to close send after %d sent: %w", sent, err)
		}
		return nil
	})

	waitDone := make(chan error, 1)
	go func() { waitDone <- g.Wait() }()

	waitWrites := func() error {
		select {
		case err := <-waitDone:
			return err
		case <-time.After(writerJoinTimeout):
			return fmt.Errorf("invoke: timed out after %s waiting for request writer to finish", writerJoinTimeout)
		}
	}

	return &ResponseStream{stream: stream, method: method, cancel: cancel, waitWrites: waitWrites}, nil
}
