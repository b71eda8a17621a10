// Package warehouse provides read-only access to the DuckDB column store.
// This file classifies execution failures so the pipeline's self-correction
// loop can decide whether a retry is worthwhile.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an execution failure.
type ErrorKind string

const (
	// KindSyntax marks SQL the engine could not parse. Retryable.
	KindSyntax ErrorKind = "syntax"
	// KindUnknownIdentifier marks references to missing tables or columns.
	// Retryable.
	KindUnknownIdentifier ErrorKind = "unknown_identifier"
	// KindTimeout marks executions cut off by the wall-clock limit or by
	// cancellation of the caller's context. Terminal.
	KindTimeout ErrorKind = "timeout"
	// KindOutOfMemory marks executions over the memory ceiling. Terminal.
	KindOutOfMemory ErrorKind = "oom"
	// KindInternal marks everything else. Terminal.
	KindInternal ErrorKind = "internal"
)

// ExecError is a classified execution failure.
type ExecError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("warehouse: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *ExecError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the self-correction loop may re-attempt.
func (e *ExecError) Retryable() bool {
	return e.Kind == KindSyntax || e.Kind == KindUnknownIdentifier
}

// KindOf extracts the kind from an error chain, defaulting to internal.
func KindOf(err error) ErrorKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindInternal
}

// classify maps a raw driver error onto an ExecError.
func classify(err error) *ExecError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ExecError{Kind: KindTimeout, Message: "query exceeded the execution time limit", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ExecError{Kind: KindTimeout, Message: "query was cancelled", Err: err}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "parser error"), strings.Contains(lower, "syntax error"):
		return &ExecError{Kind: KindSyntax, Message: msg, Err: err}
	case strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "not found in from clause"),
		strings.Contains(lower, "referenced column"),
		strings.Contains(lower, "binder error"),
		strings.Contains(lower, "catalog error"):
		return &ExecError{Kind: KindUnknownIdentifier, Message: msg, Err: err}
	case strings.Contains(lower, "out of memory"), strings.Contains(lower, "memory limit"):
		return &ExecError{Kind: KindOutOfMemory, Message: msg, Err: err}
	default:
		return &ExecError{Kind: KindInternal, Message: msg, Err: err}
	}
}
