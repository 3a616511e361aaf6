package grpcerr

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestExitCodeTable(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want int
	}{
		{"configuration", Configurationf("bad flag"), 1},
		{"descriptor", Descriptorf("bad symbol"), 1},
		{"transport", Transportf("dial failed"), 1},
		{"encoding", Encodingf("bad json"), 1},
		{"rpc status InvalidArgument", FromRPC(status.Error(codes.InvalidArgument, "nope")), 64 + 3},
		{"rpc status NotFound", FromRPC(status.Error(codes.NotFound, "nope")), 64 + 5},
		{"user cancel", FromRPC(context.Canceled), 130},
		{"deadline", FromRPC(context.DeadlineExceeded), 64 + int(codes.DeadlineExceeded)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.err.ExitCode(); got != c.want {
				t.Errorf("ExitCode() = %d, want %d", got, c.want)
			}
		})
	}
}

func TestFormatJSONEnvelope(t *testing.T) {
	e := FromRPC(status.Error(codes.InvalidArgument, "forced failure"))
	body, err := e.FormatJSON()
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	want := `{"error":{"code":3,"message":"forced failure","status":"InvalidArgument"}}`
	if string(body) != want {
		t.Errorf("FormatJSON() = %s, want %s", body, want)
	}
}
