package dynmsg

import "fmt"

// FieldError wraps a decoding/encoding failure with the dotted field path
// that produced it, so CLI-level error formatting can point at exactly
// which property went wrong (spec.md §7's "Encoding" failure kind: "fail
// with field/path context").
type FieldError struct {
	Path string
	Err  error
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("dynmsg: field %q: %v", e.Path, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func wrapField(path string, err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*FieldError); ok && path == "" {
		return fe
	}
	return &FieldError{Path: path, Err: err}
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}
