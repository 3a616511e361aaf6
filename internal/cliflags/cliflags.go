// Package cliflags implements the small parsing helpers the protodyn
// command line needs beyond what the standard flag package gives for
// free: repeatable string flags, the header "name: value" syntax with
// ${ENV} substitution, and the duration/size grammars spec.md §6
// describes. Grounded on other_examples' grpcurl multiString flag.Value
// implementation and the -H header convention it establishes.
package cliflags

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"
)

// StringList is a repeatable flag.Value: each -H (or -protoset, etc.)
// occurrence appends rather than overwrites.
type StringList []string

func (s *StringList) String() string { return strings.Join(*s, ",") }

func (s *StringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${NAME} references with os.Getenv(NAME), failing
// fast if a referenced variable is unset (spec.md §6: "missing env vars
// fail fast"). Plain $NAME (without braces) is left untouched.
func expandEnv(value string) (string, error) {
	var firstErr error
	out := envRef.ReplaceAllStringFunc(value, func(ref string) string {
		if firstErr != nil {
			return ref
		}
		name := ref[2 : len(ref)-1]
		v, ok := os.LookupEnv(name)
		if !ok {
			firstErr = fmt.Errorf("header references undefined environment variable %q", name)
			return ref
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ParseHeader parses one "name: value" header entry, expanding ${ENV}
// references in the value.
func ParseHeader(entry string) (name, value string, err error) {
	idx := strings.Index(entry, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("header %q must be in 'name: value' format", entry)
	}
	name = strings.TrimSpace(entry[:idx])
	if name == "" {
		return "", "", fmt.Errorf("header %q has an empty name", entry)
	}
	rawValue := strings.TrimSpace(entry[idx+1:])
	value, err = expandEnv(rawValue)
	if err != nil {
		return "", "", fmt.Errorf("header %q: %w", entry, err)
	}
	return name, value, nil
}

// ParseHeaders parses a batch of "name: value" entries into metadata,
// merging repeated names (gRPC metadata is multi-valued).
func ParseHeaders(entries []string) (metadata.MD, error) {
	md := metadata.MD{}
	for _, entry := range entries {
		name, value, err := ParseHeader(entry)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(name)
		md[key] = append(md[key], value)
	}
	return md, nil
}

// ParseDuration parses the <number><unit> grammar spec.md §6 uses for
// --connect-timeout/--max-time: a non-negative decimal number immediately
// followed by one of ms, s, m, h. A bare number (no unit) is treated as
// seconds, matching grpcurl's --max-time convention.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}
	unit := time.Second
	numPart := value
	for _, suffix := range []struct {
		s string
		u time.Duration
	}{
		{"ms", time.Millisecond},
		{"s", time.Second},
		{"m", time.Minute},
		{"h", time.Hour},
	} {
		if strings.HasSuffix(value, suffix.s) {
			unit = suffix.u
			numPart = strings.TrimSuffix(value, suffix.s)
			break
		}
	}
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid duration %q: must not be negative", value)
	}
	return time.Duration(n * float64(unit)), nil
}

// ParseSize parses the <number>[B|KB|MB|GB] grammar spec.md §6 uses for
// --max-msg-sz, with 1024-based unit multipliers. A bare number is bytes.
func ParseSize(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	numPart := value
	for _, suffix := range []struct {
		s string
		m int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	} {
		if strings.HasSuffix(strings.ToUpper(value), suffix.s) {
			mult = suffix.m
			numPart = value[:len(value)-len(suffix.s)]
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(numPart), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must not be negative", value)
	}
	total := n * mult
	if total > int64(^uint32(0)>>1) {
		return 0, fmt.Errorf("invalid size %q: exceeds maximum supported value", value)
	}
	return int(total), nil
}

// Verbosity is the -v/-vv output level (spec.md §6).
type Verbosity int

const (
	VerbosityOff Verbosity = iota
	VerbosityVerbose
	VerbosityVeryVerbose
)
