package resource

import (
	"fmt"
	"strings"
)

// notFoundError signals a missing source file or path. Fatal: retrying
// cannot make the file appear.
type notFoundError struct{ source string }

func (e notFoundError) Error() string { return "source not found: " + e.source }

// ErrNotFound constructs a notFoundError for the given source.
func ErrNotFound(source string) error { return notFoundError{source: source} }

// IsNotFound reports whether err indicates a missing source.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// formatMismatchError signals a wrong extension or incompatible
// architecture. Fatal for the same reason as notFoundError.
type formatMismatchError struct {
	source string
	detail string
}

func (e formatMismatchError) Error() string {
	return "format mismatch for " + e.source + ": " + e.detail
}

// ErrFormatMismatch constructs a formatMismatchError.
func ErrFormatMismatch(source, detail string) error {
	return formatMismatchError{source: source, detail: detail}
}

// IsFormatMismatch reports whether err indicates an incompatible source format.
func IsFormatMismatch(err error) bool {
	_, ok := err.(formatMismatchError)
	return ok
}

// exhaustionError marks a failure as accelerator resource exhaustion,
// the only retryable class.
type exhaustionError struct{ cause error }

func (e exhaustionError) Error() string { return "resource exhaustion: " + e.cause.Error() }
func (e exhaustionError) Unwrap() error { return e.cause }

// IsResourceExhaustion reports whether err is classified as retryable
// accelerator exhaustion.
func IsResourceExhaustion(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(exhaustionError); ok {
		return true
	}
	return matchesExhaustion(err.Error())
}

// exhaustionSignatures is the fixed set of substrings associated with
// accelerator memory or context-creation failure. Anything not matching
// is fatal: retrying a deterministic configuration error wastes time
// and hides the real cause.
var exhaustionSignatures = []string{
	"out of memory",
	"cuda error: out of memory",
	"failed to allocate",
	"allocation failed",
	"ggml_new_buffer",
	"failed to create context",
	"cublas error",
	"not enough vram",
}

func matchesExhaustion(msg string) bool {
	lower := strings.ToLower(msg)
	for _, sig := range exhaustionSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// Classify wraps retryable failures in exhaustionError and returns
// everything else unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsFormatMismatch(err) || IsValidation(err) {
		return err
	}
	if IsResourceExhaustion(err) {
		if _, ok := err.(exhaustionError); ok {
			return err
		}
		return exhaustionError{cause: err}
	}
	return err
}

// validationError reports a caller-supplied parameter outside its
// contract. Rejected pre-flight; never reaches the resource layer.
type validationError struct {
	field string
	msg   string
}

func (e validationError) Error() string { return "invalid " + e.field + ": " + e.msg }

// ErrValidation constructs a validationError for the named field.
func ErrValidation(field, msg string) error { return validationError{field: field, msg: msg} }

// IsValidation reports whether err is a pre-flight validation failure.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// AttemptError records one failed construction source inside a chain or
// retry history.
type AttemptError struct {
	Source string
	Err    error
}

// chainExhaustedError aggregates every attempted source after the whole
// fallback chain failed.
type chainExhaustedError struct{ attempts []AttemptError }

func (e chainExhaustedError) Error() string {
	parts := make([]string, 0, len(e.attempts))
	for _, a := range e.attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Source, a.Err))
	}
	return "all load strategies failed: " + strings.Join(parts, "; ")
}

// Attempts exposes the per-source failures for reporting.
func (e chainExhaustedError) Attempts() []AttemptError { return e.attempts }

// IsChainExhausted reports whether err aggregates a fully failed
// fallback chain, and returns the attempt list when it does.
func IsChainExhausted(err error) ([]AttemptError, bool) {
	ce, ok := err.(chainExhaustedError)
	if !ok {
		return nil, false
	}
	return ce.attempts, true
}

// retryExhaustedError carries the final error after the retry ceiling,
// annotated with the full attempt history.
type retryExhaustedError struct {
	last    error
	history []Attempt
}

func (e retryExhaustedError) Error() string {
	return fmt.Sprintf("load failed after %d attempts: %v", len(e.history), e.last)
}

func (e retryExhaustedError) Unwrap() error { return e.last }

// History exposes the recorded attempts.
func (e retryExhaustedError) History() []Attempt { return e.history }

// IsRetryExhausted reports whether err is a post-ceiling retry failure,
// and returns the attempt history when it is.
func IsRetryExhausted(err error) ([]Attempt, bool) {
	re, ok := err.(retryExhaustedError)
	if !ok {
		return nil, false
	}
	return re.history, true
}
