package source

import (
	"errors"
	"fmt"
)

var (
	// ErrIO marks failures to read the input at all.
	ErrIO = errors.New("input unreadable")
	// ErrFormat marks structural problems in the input.
	ErrFormat = errors.New("malformed input")
)

// IOError reports an unreadable input. It is always fatal.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// FormatError reports a structural problem. A missing or unrecognized
// header is fatal; a bad data row (Line > 1) is skipped and counted.
type FormatError struct {
	Path string
	Line int
	Msg  string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func (e *FormatError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrFormat, e.Err}
	}
	return []error{ErrFormat}
}
