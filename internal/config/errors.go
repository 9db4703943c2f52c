package config

import (
	"fmt"
	"strings"
)

// Error is a fatal configuration error. Path is a dotted locator into the
// config document (e.g. "models.gpt-4.routing") so an operator can find the
// offending field without guessing.
type Error struct {
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return e.Path + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(path, format string, args ...any) *Error {
	return &Error{Path: path, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(path string, err error) *Error {
	return &Error{Path: path, Msg: err.Error(), Err: err}
}

// FallbackCycleError reports a cycle in the fallback-model graph. Cycle is
// the ordered list of model names along the cycle, closed on the repeated
// node (first element == last element).
type FallbackCycleError struct {
	Cycle []string
}

func (e *FallbackCycleError) Error() string {
	return "circular fallback chain: " + strings.Join(e.Cycle, " -> ")
}
