// Package grpcerr classifies failures into the taxonomy consumed by the
// CLI for exit-code selection and --format-error rendering (spec.md §7).
package grpcerr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is one bucket of spec.md §7's error taxonomy.
type Kind int

const (
	Configuration Kind = iota
	Descriptor
	Transport
	RPCStatus
	Encoding
	Cancellation
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Descriptor:
		return "descriptor"
	case Transport:
		return "transport"
	case RPCStatus:
		return "rpc_status"
	case Encoding:
		return "encoding"
	case Cancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with the classification the CLI needs to
// pick an exit code without re-deriving it from the error string.
type Error struct {
	Kind Kind
	Err  error

	// Code is the gRPC status code, meaningful for RPCStatus and for a
	// Cancellation caused by a deadline rather than a user Ctrl-C.
	Code codes.Code
	// Deadline distinguishes a deadline-triggered cancellation (exit
	// 64+DEADLINE_EXCEEDED) from a user-triggered one (exit 130).
	Deadline bool
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// ExitCode implements spec.md §6's exit-code table.
func (e *Error) ExitCode() int {
	switch e.Kind {
	case Configuration, Descriptor, Transport, Encoding:
		return 1
	case RPCStatus:
		return 64 + int(e.Code)
	case Cancellation:
		if e.Deadline {
			return 64 + int(codes.DeadlineExceeded)
		}
		return 130
	default:
		return 1
	}
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Configurationf(format string, args ...any) *Error {
	return newError(Configuration, fmt.Errorf(format, args...))
}

func Descriptorf(format string, args ...any) *Error {
	return newError(Descriptor, fmt.Errorf(format, args...))
}

func Transportf(format string, args ...any) *Error {
	return newError(Transport, fmt.Errorf(format, args...))
}

func Encodingf(format string, args ...any) *Error {
	return newError(Encoding, fmt.Errorf(format, args...))
}

// FromRPC classifies an error returned by an invoker call. A context
// cancellation or deadline is reported as Cancellation; a non-OK gRPC
// status is reported as RPCStatus; anything else (dial failures, name
// resolution) is reported as Transport.
func FromRPC(err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: Cancellation, Err: err, Deadline: false}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Cancellation, Err: err, Code: codes.DeadlineExceeded, Deadline: true}
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		switch st.Code() {
		case codes.Canceled:
			return &Error{Kind: Cancellation, Err: err, Code: st.Code(), Deadline: false}
		case codes.DeadlineExceeded:
			return &Error{Kind: Cancellation, Err: err, Code: st.Code(), Deadline: true}
		default:
			return &Error{Kind: RPCStatus, Err: err, Code: st.Code()}
		}
	}
	return &Error{Kind: Transport, Err: err}
}

// Envelope is the --format-error JSON shape: {"error":{"code","message","status"}}.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// FormatJSON renders e as the --format-error envelope. Only meaningful for
// RPCStatus errors; callers should not call this for other kinds.
func (e *Error) FormatJSON() ([]byte, error) {
	st, _ := status.FromError(e.Err)
	env := Envelope{Error: EnvelopeBody{
		Code:    int32(e.Code),
		Message: st.Message(),
		Status:  e.Code.String(),
	}}
	return json.Marshal(env)
}
