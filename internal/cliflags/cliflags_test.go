package cliflags

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"10", 10 * time.Second, false},
		{"10s", 10 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"2m", 2 * time.Minute, false},
		{"1.5h", 90 * time.Minute, false},
		{"-1s", 0, true},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseDuration(%q): expected error, got %v", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDuration(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"1024", 1024, false},
		{"1KB", 1024, false},
		{"4MB", 4 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"512B", 512, false},
		{"-1", 0, true},
		{"", 0, true},
		{"nope", 0, true},
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseSize(%q): expected error, got %v", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSize(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseSize(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseHeaderEnvSubstitution(t *testing.T) {
	t.Setenv("PROTODYN_TEST_TOKEN", "abc123")

	name, value, err := ParseHeader("authorization: Bearer ${PROTODYN_TEST_TOKEN}")
	if err != nil {
		t.Fatalf("ParseHeader: unexpected error: %v", err)
	}
	if name != "authorization" {
		t.Errorf("name = %q, want authorization", name)
	}
	if value != "Bearer abc123" {
		t.Errorf("value = %q, want %q", value, "Bearer abc123")
	}
}

func TestParseHeaderMissingEnvFailsFast(t *testing.T) {
	if _, _, err := ParseHeader("x: ${PROTODYN_DEFINITELY_UNSET}"); err == nil {
		t.Fatal("expected error for undefined environment variable")
	}
}

func TestParseHeaderRequiresColon(t *testing.T) {
	if _, _, err := ParseHeader("no-colon-here"); err == nil {
		t.Fatal("expected error for header without a colon")
	}
}

func TestParseHeadersMergesRepeatedNames(t *testing.T) {
	md, err := ParseHeaders([]string{"x-trace: a", "x-trace: b"})
	if err != nil {
		t.Fatalf("ParseHeaders: unexpected error: %v", err)
	}
	got := md.Get("x-trace")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("md[x-trace] = %v, want [a b]", got)
	}
}
