// Package errors defines the error values produced while compiling
// Stratus source. Runtime errors raised by generated code are language
// values, not Go errors, and live in internal/runtime.
package errors

import (
	"fmt"
	"strings"
)

type Kind string

const (
	SyntaxError   Kind = "SyntaxError"
	CompileError  Kind = "CompileError"
	NotSupported  Kind = "NotSupportedError"
	StackOverflow Kind = "StackOverflowError" // compile-time recursion budget, not the runtime guard
)

// Location points at the source position an error was raised for.
// Line and Column are 1-based; zero means unknown.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.Line == 0 {
		return l.File
	}
	if l.Column == 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Error is the compiler's error value. Source, when set, holds the
// offending source line for pretty rendering.
type Error struct {
	Kind     Kind
	Message  string
	Location Location
	Source   string
}

func New(kind Kind, loc Location, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Location: loc,
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Location.File != "" || e.Location.Line > 0 {
		b.WriteString(" at ")
		b.WriteString(e.Location.String())
	}
	return b.String()
}

// Pretty renders the error with its source line and a column marker,
// the way the CLI reports it.
func (e *Error) Pretty() string {
	var b strings.Builder
	b.WriteString(e.Error())
	if e.Source != "" {
		b.WriteString("\n    ")
		b.WriteString(e.Source)
		if e.Location.Column > 0 && e.Location.Column <= len(e.Source)+1 {
			b.WriteString("\n    ")
			b.WriteString(strings.Repeat(" ", e.Location.Column-1))
			b.WriteString("^")
		}
	}
	return b.String()
}

// WithSource attaches the offending source line.
func (e *Error) WithSource(line string) *Error {
	e.Source = line
	return e
}

func kindOf(err error) Kind {
	if ce, ok := err.(*Error); ok {
		return ce.Kind
	}
	return ""
}

// IsNotSupported reports whether err is the compiler's explicit refusal
// to handle a node/operator combination.
func IsNotSupported(err error) bool { return kindOf(err) == NotSupported }

// IsStackOverflow reports whether err is a compile-time recursion abort.
// Such errors poison only the function being compiled.
func IsStackOverflow(err error) bool { return kindOf(err) == StackOverflow }
