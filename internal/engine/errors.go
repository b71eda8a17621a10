// Package engine implements the SAGE inference pipeline.
// This file defines the typed error values the pipeline routes on. The
// self-correction loop inspects the Kind tag and the Retryable flag rather
// than matching on error strings.
package engine

import (
	"errors"
	"fmt"
)

// ErrorKind tags a pipeline failure with its taxonomy entry.
type ErrorKind string

// Failure taxonomy.
const (
	KindSanitization    ErrorKind = "sanitization_failure"
	KindClassification  ErrorKind = "classification_failure"
	KindEntities        ErrorKind = "entity_extraction_failure"
	KindResolution      ErrorKind = "table_resolution_failure"
	KindPromptBuild     ErrorKind = "prompt_build_failure"
	KindLLMTimeout      ErrorKind = "llm_timeout"
	KindLLMConnection   ErrorKind = "llm_connection"
	KindLLMModel        ErrorKind = "llm_model"
	KindSQLValidation   ErrorKind = "sql_validation_failure"
	KindSQLExecution    ErrorKind = "sql_execution_failure"
	KindCancellation    ErrorKind = "cancellation"
	KindInternal        ErrorKind = "internal"
)

// StageError is a pipeline failure carrying its taxonomy tag, the stage it
// occurred in, and whether the self-correction loop may retry it.
type StageError struct {
	// Kind is the taxonomy tag.
	Kind ErrorKind

	// Stage is the pipeline stage name where the failure occurred.
	Stage string

	// Message is the raw failure text, fed back into the correction prompt
	// for retryable failures. Never shown to users directly.
	Message string

	// Retryable marks failures the self-correction loop may re-attempt.
	Retryable bool

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: %s at %s: %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("engine: %s at %s: %s", e.Kind, e.Stage, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a non-retryable StageError.
func NewStageError(kind ErrorKind, stage, message string) *StageError {
	return &StageError{Kind: kind, Stage: stage, Message: message}
}

// NewRetryableError builds a StageError the correction loop may retry.
func NewRetryableError(kind ErrorKind, stage, message string) *StageError {
	return &StageError{Kind: kind, Stage: stage, Message: message, Retryable: true}
}

// WrapStageError wraps a cause into a StageError.
func WrapStageError(kind ErrorKind, stage string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Message: err.Error(), Err: err}
}

// AsStageError extracts a StageError from an error chain, or wraps the error
// as an internal failure attributed to the given stage.
func AsStageError(err error, stage string) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Kind: KindInternal, Stage: stage, Message: err.Error(), Err: err}
}

// IsRetryable reports whether the correction loop may re-attempt after err.
func IsRetryable(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
