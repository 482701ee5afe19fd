package errors

import (
	"strings"
	"testing"
)

func TestErrorRendering(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"full location",
			New(SyntaxError, Location{File: "a.st", Line: 3, Column: 7}, "expected ')'"),
			"SyntaxError: expected ')' at a.st:3:7",
		},
		{
			"line only",
			New(CompileError, Location{File: "a.st", Line: 3}, "bad node"),
			"CompileError: bad node at a.st:3",
		},
		{
			"no location",
			New(NotSupported, Location{}, "with statement"),
			"NotSupportedError: with statement",
		},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("%s: %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestPrettyMarksColumn(t *testing.T) {
	err := New(SyntaxError, Location{File: "a.st", Line: 1, Column: 5}, "unexpected token '='").
		WithSource("var = 5;")
	got := err.Pretty()
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("pretty = %q", got)
	}
	if lines[1] != "    var = 5;" {
		t.Fatalf("source line = %q", lines[1])
	}
	if lines[2] != "        ^" {
		t.Fatalf("marker line = %q", lines[2])
	}
}

func TestPrettyWithoutSource(t *testing.T) {
	err := New(SyntaxError, Location{File: "a.st", Line: 1}, "boom")
	if got := err.Pretty(); got != err.Error() {
		t.Fatalf("pretty = %q, want plain error", got)
	}
}

func TestKindPredicates(t *testing.T) {
	ns := New(NotSupported, Location{}, "for-in")
	if !IsNotSupported(ns) || IsStackOverflow(ns) {
		t.Fatal("NotSupported predicate mismatch")
	}
	so := New(StackOverflow, Location{}, "too deep")
	if !IsStackOverflow(so) || IsNotSupported(so) {
		t.Fatal("StackOverflow predicate mismatch")
	}
	if IsNotSupported(nil) {
		t.Fatal("nil is not NotSupported")
	}
}
