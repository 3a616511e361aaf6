// Command protodyn invokes gRPC methods without any compiled stub code,
// resolving message types at runtime via server reflection or a
// precompiled descriptor-set file. Adapted from the teacher's service
// discovery/invocation flow (pkg/grpc/discovery.go, pkg/grpc/reflection.go)
// and other_examples' grpcurl main.go for the three-verb CLI shape and
// flag surface.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/aalobaidi/protodyn/internal/cliflags"
	"github.com/aalobaidi/protodyn/internal/describe"
	"github.com/aalobaidi/protodyn/internal/descsource"
	"github.com/aalobaidi/protodyn/internal/dynmsg"
	"github.com/aalobaidi/protodyn/internal/grpcchannel"
	"github.com/aalobaidi/protodyn/internal/grpcerr"
	"github.com/aalobaidi/protodyn/internal/invoke"
)

var (
	plaintext = flag.Bool("plaintext", false, "Use plain-text HTTP/2 (no TLS).")
	insecure  = flag.Bool("insecure", false, "Skip server certificate verification. Not valid with -plaintext.")
	cacert    = flag.String("cacert", "", "File containing trusted root certificates for verifying the server.")
	cert      = flag.String("cert", "", "File containing a client certificate, for mutual TLS. Requires -key.")
	key       = flag.String("key", "", "File containing the client private key, for mutual TLS. Requires -cert.")
	authority = flag.String("authority", "", "Override the :authority header and TLS server name.")

	userAgent = flag.String("user-agent", "", "Additional prefix for the User-Agent header.")

	connectTimeout = flag.String("connect-timeout", "10s", "Maximum time to wait for the connection to be established.")
	maxTime        = flag.String("max-time", "", "Maximum total time the call (including all stream messages) may take.")
	maxMsgSz       = flag.String("max-msg-sz", "4MB", "Maximum size of an individual gRPC message, send or receive.")

	emitDefaults        = flag.Bool("emit-defaults", false, "Emit default-valued fields in JSON output.")
	allowUnknownFields  = flag.Bool("allow-unknown-fields", false, "Do not fail when request JSON has fields absent from the message descriptor.")
	formatError         = flag.Bool("format-error", false, "Emit a non-OK RPC status as a JSON object on stdout instead of plain text on stderr.")
	msgTemplate         = flag.Bool("msg-template", false, "For the describe verb, print an example request JSON document instead of the symbol's declaration.")
	verbose             = flag.Bool("v", false, "Enable verbose logging.")
	veryVerbose         = flag.Bool("vv", false, "Enable very verbose (debug-level) logging.")
	data                = flag.String("d", "", `Request JSON. The value '@' reads the request from stdin instead.`)

	headers        cliflags.StringList
	reflectHeaders cliflags.StringList
	rpcHeaders     cliflags.StringList
	protoset       cliflags.StringList
)

func init() {
	flag.Var(&headers, "H", "Header 'name: value', sent with both reflection and RPC calls. Repeatable.")
	flag.Var(&headers, "header", "Alias for -H.")
	flag.Var(&reflectHeaders, "reflect-header", "Header 'name: value', sent only with reflection calls. Repeatable.")
	flag.Var(&rpcHeaders, "rpc-header", "Header 'name: value', sent only with RPC calls. Repeatable.")
	flag.Var(&protoset, "protoset", "Path to a file containing an encoded FileDescriptorSet. Repeatable. When given, bypasses reflection.")
}

func main() {
	flag.Usage = usage
	flag.Parse()
	os.Exit(run())
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  %s [flags] target list [service]
  %s [flags] target describe [symbol]
  %s [flags] target invoke method

target is host:port. list and describe may omit it when -protoset is given;
when it is given, it is dialed even if -protoset supplies the descriptors.
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

// run executes the CLI and returns the process exit code, per spec.md §6's
// exit-code table: 0 success, 1 generic failure, 64+N for RPC status N,
// 130 for user cancellation.
func run() int {
	cfgErr := validateFlags()
	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, cfgErr)
		return 1
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "missing arguments")
		return 1
	}
	// Like grpcurl, target is omitted only when the first argument is
	// itself a verb — meaning the caller intends a protoset-only list or
	// describe with no live connection.
	var target string
	if args[0] != "list" && args[0] != "describe" {
		target = args[0]
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "missing verb: list, describe, or invoke")
		return 1
	}
	verb := args[0]
	args = args[1:]
	var symbolArg string
	if len(args) > 0 {
		symbolArg = args[0]
		args = args[1:]
	}
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "too many arguments")
		return 1
	}
	if verb == "invoke" && target == "" {
		fmt.Fprintln(os.Stderr, "invoke requires a target (host:port)")
		return 1
	}
	if len(protoset) == 0 && target == "" {
		fmt.Fprintln(os.Stderr, "no target specified and no -protoset given")
		return 1
	}

	logger := buildLogger()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	sharedHeaders, err := cliflags.ParseHeaders(headers)
	if err != nil {
		fmt.Fprintln(os.Stderr, grpcerr.Configurationf("%v", err))
		return 1
	}
	reflectOnly, err := cliflags.ParseHeaders(reflectHeaders)
	if err != nil {
		fmt.Fprintln(os.Stderr, grpcerr.Configurationf("%v", err))
		return 1
	}
	rpcOnly, err := cliflags.ParseHeaders(rpcHeaders)
	if err != nil {
		fmt.Fprintln(os.Stderr, grpcerr.Configurationf("%v", err))
		return 1
	}

	if maxTimeStr := *maxTime; maxTimeStr != "" {
		d, err := cliflags.ParseDuration(maxTimeStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, grpcerr.Configurationf("invalid -max-time: %v", err))
			return 1
		}
		var deadlineCancel context.CancelFunc
		ctx, deadlineCancel = context.WithTimeout(ctx, d)
		defer deadlineCancel()
	}

	src, conn, err := openSource(ctx, target, logger, mergeHeaders(sharedHeaders, reflectOnly))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	defer src.Close()
	if conn != nil {
		defer conn.Close()
	}

	var runErr error
	switch verb {
	case "list":
		runErr = runList(ctx, src, symbolArg)
	case "describe":
		runErr = runDescribe(ctx, src, symbolArg)
	case "invoke":
		if symbolArg == "" {
			runErr = grpcerr.Configurationf("invoke requires a method name")
			break
		}
		if conn == nil {
			runErr = grpcerr.Configurationf("invoke requires a live connection to %s; -protoset alone cannot dispatch calls", target)
			break
		}
		runErr = runInvoke(ctx, src, conn, symbolArg, mergeHeaders(sharedHeaders, rpcOnly), logger)
	default:
		runErr = grpcerr.Configurationf("unknown verb %q: expected list, describe, or invoke", verb)
	}

	if runErr == nil {
		return 0
	}
	return reportAndExit(runErr, ctx)
}

func mergeHeaders(a, b metadata.MD) metadata.MD {
	out := metadata.MD{}
	for k, v := range a {
		out[k] = append(out[k], v...)
	}
	for k, v := range b {
		out[k] = append(out[k], v...)
	}
	return out
}

func validateFlags() error {
	if *plaintext && *insecure {
		return grpcerr.Configurationf("-plaintext and -insecure are mutually exclusive")
	}
	if *plaintext && (*cert != "" || *key != "") {
		return grpcerr.Configurationf("-plaintext is not valid with -cert/-key")
	}
	if (*cert == "") != (*key == "") {
		return grpcerr.Configurationf("-cert and -key must be given together")
	}
	return nil
}

func buildLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	switch {
	case *veryVerbose:
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case *verbose:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// openSource builds the descriptor source: protoset files if given,
// otherwise a live reflection connection to target. When a live call is
// also needed (invoke), the returned *grpc.ClientConn is reused for the
// RPC itself rather than dialing twice.
func openSource(ctx context.Context, target string, logger *zap.Logger, reflectHeaders metadata.MD) (descsource.Source, *grpc.ClientConn, error) {
	if len(protoset) > 0 {
		src, err := descsource.NewFileSetSource(logger, protoset...)
		if err != nil {
			return nil, nil, grpcerr.Descriptorf("failed to load protoset: %v", err)
		}
		if target == "" {
			return src, nil, nil
		}
		conn, err := dial(ctx, target, logger)
		if err != nil {
			return src, nil, err
		}
		return src, conn, nil
	}

	conn, err := dial(ctx, target, logger)
	if err != nil {
		return nil, nil, err
	}
	src := descsource.NewReflectionSource(logger, conn, reflectHeaders)
	return src, conn, nil
}

func dial(ctx context.Context, target string, logger *zap.Logger) (*grpc.ClientConn, error) {
	mode := grpcchannel.ModePlaintext
	switch {
	case *plaintext:
		mode = grpcchannel.ModePlaintext
	case *insecure:
		mode = grpcchannel.ModeInsecure
	default:
		mode = grpcchannel.ModeTLS
	}

	connectTO, err := cliflags.ParseDuration(*connectTimeout)
	if err != nil {
		return nil, grpcerr.Configurationf("invalid -connect-timeout: %v", err)
	}
	maxSz, err := cliflags.ParseSize(*maxMsgSz)
	if err != nil {
		return nil, grpcerr.Configurationf("invalid -max-msg-sz: %v", err)
	}

	cfg := grpcchannel.Config{
		Target:         target,
		Mode:           mode,
		CAFile:         *cacert,
		ClientCertFile: *cert,
		ClientKeyFile:  *key,
		Authority:      *authority,
		UserAgent:      *userAgent,
		ConnectTimeout: connectTO,
		MaxMessageSize: maxSz,
		Keepalive:      keepalive.ClientParameters{Time: 30 * time.Second, Timeout: 10 * time.Second},
	}
	cc, err := grpcchannel.Dial(ctx, cfg, logger)
	if err != nil {
		return nil, grpcerr.Transportf("failed to connect to %s: %v", target, err)
	}
	return cc, nil
}

// runList implements the `list [service]` verb.
func runList(ctx context.Context, src descsource.Source, service string) error {
	if service != "" {
		d, err := src.FindSymbol(ctx, service)
		if err != nil {
			return grpcerr.Descriptorf("%v", err)
		}
		svc, ok := d.(protoreflect.ServiceDescriptor)
		if !ok {
			return grpcerr.Descriptorf("%s is not a service", service)
		}
		methods := svc.Methods()
		for i := 0; i < methods.Len(); i++ {
			fmt.Println(methods.Get(i).FullName())
		}
		return nil
	}
	services, err := src.ListServices(ctx)
	if err != nil {
		return grpcerr.Descriptorf("%v", err)
	}
	for _, s := range services {
		fmt.Println(s)
	}
	return nil
}

// runDescribe implements the `describe [symbol] [--msg-template]` verb.
func runDescribe(ctx context.Context, src descsource.Source, symbol string) error {
	if symbol == "" {
		services, err := src.ListServices(ctx)
		if err != nil {
			return grpcerr.Descriptorf("%v", err)
		}
		for _, s := range services {
			d, err := src.FindSymbol(ctx, s)
			if err != nil {
				return grpcerr.Descriptorf("%v", err)
			}
			text, err := describe.Symbol(d)
			if err != nil {
				return grpcerr.Descriptorf("%v", err)
			}
			fmt.Println(text)
		}
		return nil
	}

	d, err := src.FindSymbol(ctx, normalizeSymbol(symbol))
	if err != nil {
		return grpcerr.Descriptorf("%v", err)
	}
	if *msgTemplate {
		msg, ok := d.(protoreflect.MessageDescriptor)
		if !ok {
			return grpcerr.Configurationf("-msg-template requires a message symbol, got %T", d)
		}
		tmpl, err := describe.MessageTemplate(msg)
		if err != nil {
			return grpcerr.Descriptorf("%v", err)
		}
		fmt.Println(string(tmpl))
		return nil
	}
	text, err := describe.Symbol(d)
	if err != nil {
		return grpcerr.Descriptorf("%v", err)
	}
	fmt.Println(text)
	return nil
}

// normalizeSymbol accepts both "pkg.Service.Method" and "pkg.Service/Method"
// spellings, matching the slash notation spec.md §8's scenarios use for
// method references while the symbol table indexes methods by dotted name.
func normalizeSymbol(symbol string) string {
	return strings.Replace(symbol, "/", ".", 1)
}

// runInvoke implements the `invoke method` verb: resolves the method
// descriptor, builds the request source for its streaming shape, dispatches
// through the one matching invoker entry point, and prints responses as
// JSON lines.
func runInvoke(ctx context.Context, src descsource.Source, conn *grpc.ClientConn, methodName string, rpcHeaders metadata.MD, logger *zap.Logger) error {
	d, err := src.FindSymbol(ctx, normalizeSymbol(methodName))
	if err != nil {
		return grpcerr.Descriptorf("%v", err)
	}
	method, ok := d.(protoreflect.MethodDescriptor)
	if !ok {
		return grpcerr.Configurationf("%s is not a method", methodName)
	}

	reqReader, err := newRequestReader(method.IsStreamingClient())
	if err != nil {
		return grpcerr.Configurationf("%v", err)
	}

	inv := invoke.NewInvoker(conn, logger)
	opts := invoke.CallOptions{Header: rpcHeaders}

	switch {
	case !method.IsStreamingClient() && !method.IsStreamingServer():
		req, err := reqReader.single(method.Input(), *allowUnknownFields)
		if err != nil {
			return grpcerr.Encodingf("%v", err)
		}
		resp, _, err := inv.Unary(ctx, method, req, opts)
		if err != nil {
			return grpcerr.FromRPC(err)
		}
		return printResponse(resp)

	case !method.IsStreamingClient() && method.IsStreamingServer():
		req, err := reqReader.single(method.Input(), *allowUnknownFields)
		if err != nil {
			return grpcerr.Encodingf("%v", err)
		}
		stream, err := inv.ServerStream(ctx, method, req, opts)
		if err != nil {
			return grpcerr.FromRPC(err)
		}
		defer stream.Close()
		return drainResponses(stream)

	case method.IsStreamingClient() && !method.IsStreamingServer():
		source := &dynMessageSource{reader: reqReader, desc: method.Input(), allowUnknown: *allowUnknownFields}
		resp, err := inv.ClientStream(ctx, method, source, opts)
		if err != nil {
			return grpcerr.FromRPC(err)
		}
		return printResponse(resp)

	default:
		source := &dynMessageSource{reader: reqReader, desc: method.Input(), allowUnknown: *allowUnknownFields}
		stream, err := inv.Bidi(ctx, method, source, opts)
		if err != nil {
			return grpcerr.FromRPC(err)
		}
		defer stream.Close()
		return drainResponses(stream)
	}
}

type responseStreamLike interface {
	Next() (*dynmsg.Message, error)
}

func drainResponses(stream responseStreamLike) error {
	for {
		resp, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return grpcerr.FromRPC(err)
		}
		if err := printResponse(resp); err != nil {
			return err
		}
	}
}

func printResponse(resp *dynmsg.Message) error {
	out, err := dynmsg.EncodeJSON(resp, *emitDefaults)
	if err != nil {
		return grpcerr.Encodingf("%v", err)
	}
	fmt.Println(string(out))
	return nil
}

// requestReader supplies request JSON documents per spec.md §6's -d
// grammar: inline JSON (single message or, for streaming calls, a JSON
// array of messages), "@" for stdin, and for client-streaming/bidi with
// "@" specifically, stdin is read line by line (one JSON object per line,
// a blank line terminating the stream).
type requestReader struct {
	streaming bool

	// one of the following is populated, depending on the -d form used
	inlineMessages [][]byte
	stdinLines     *bufio.Scanner
	consumedInline bool
}

func newRequestReader(streaming bool) (*requestReader, error) {
	r := &requestReader{streaming: streaming}
	switch {
	case *data == "@":
		if streaming {
			r.stdinLines = bufio.NewScanner(os.Stdin)
			r.stdinLines.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		} else {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return nil, fmt.Errorf("failed to read stdin: %w", err)
			}
			r.inlineMessages = [][]byte{bytes.TrimSpace(raw)}
		}
	case *data != "":
		msgs, err := splitRequestDocuments([]byte(*data), streaming)
		if err != nil {
			return nil, err
		}
		r.inlineMessages = msgs
	default:
		r.inlineMessages = [][]byte{[]byte("{}")}
	}
	return r, nil
}

// splitRequestDocuments recognizes a top-level JSON array as one message
// per element for streaming calls; anything else is treated as a single
// document (a single non-streaming request, or the sole message of a
// streaming call sent as one array-less object).
func splitRequestDocuments(raw []byte, streaming bool) ([][]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if streaming && len(trimmed) > 0 && trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("invalid JSON request array: %w", err)
		}
		out := make([][]byte, len(elems))
		for i, e := range elems {
			out[i] = []byte(e)
		}
		return out, nil
	}
	return [][]byte{trimmed}, nil
}

// single returns the one request document for a non-streaming call.
func (r *requestReader) single(desc protoreflect.MessageDescriptor, allowUnknown bool) (*dynmsg.Message, error) {
	raw, err := r.nextRaw()
	if err != nil {
		return nil, err
	}
	return dynmsg.DecodeJSON(desc, raw, allowUnknown)
}

// nextRaw returns the next raw JSON document, or io.EOF once exhausted.
func (r *requestReader) nextRaw() ([]byte, error) {
	if r.stdinLines != nil {
		for r.stdinLines.Scan() {
			line := strings.TrimSpace(r.stdinLines.Text())
			if line == "" {
				return nil, io.EOF
			}
			return []byte(line), nil
		}
		if err := r.stdinLines.Err(); err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return nil, io.EOF
	}
	if r.consumedInline || len(r.inlineMessages) == 0 {
		return nil, io.EOF
	}
	next := r.inlineMessages[0]
	r.inlineMessages = r.inlineMessages[1:]
	if len(r.inlineMessages) == 0 {
		r.consumedInline = true
	}
	return next, nil
}

// dynMessageSource adapts requestReader to invoke.RequestSource for
// client-streaming and bidi calls.
type dynMessageSource struct {
	reader       *requestReader
	desc         protoreflect.MessageDescriptor
	allowUnknown bool
}

func (s *dynMessageSource) Next() (*dynmsg.Message, error) {
	raw, err := s.reader.nextRaw()
	if err != nil {
		return nil, err
	}
	return dynmsg.DecodeJSON(s.desc, raw, s.allowUnknown)
}

// reportAndExit prints runErr appropriately (plain text on stderr, or the
// --format-error JSON envelope on stdout for RPC-status errors) and returns
// the matching exit code.
func reportAndExit(runErr error, ctx context.Context) int {
	var ce *grpcerr.Error
	if !errors.As(runErr, &ce) {
		ce = grpcerr.FromRPC(runErr)
	}
	if ce.Kind == grpcerr.Cancellation && ctx.Err() != nil && !ce.Deadline {
		fmt.Fprintln(os.Stderr, "canceled")
		return ce.ExitCode()
	}
	if ce.Kind == grpcerr.RPCStatus && *formatError {
		if body, err := ce.FormatJSON(); err == nil {
			fmt.Println(string(body))
			return ce.ExitCode()
		}
	}
	fmt.Fprintln(os.Stderr, ce.Error())
	return ce.ExitCode()
}

func exitCodeFor(err error) int {
	var ce *grpcerr.Error
	if errors.As(err, &ce) {
		return ce.ExitCode()
	}
	return 1
}
