// LOCATION: internal/errors/errors.go
// VERSION: 2.0 - Consolidated error definitions for the entire project
//
// This file provides:
// - Exit codes for CLI-level reporting
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
// - Contextual error constructors carrying digest/element identity

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Exit codes - used by cmd/featstore to report failures verbatim
// ============================================================================

const (
	CodeUnknown             int = 1
	CodeShapeMismatch       int = 2
	CodeDuplicateRecord     int = 3
	CodeAmbiguousName       int = 4
	CodeMissingFeature      int = 5
	CodeFingerprintMismatch int = 6
	CodeBackendIO           int = 7
	CodeUncanonicalizable   int = 8
	CodeInvalidRequest      int = 9
)

// CodeName returns a human-readable name for an exit code.
func CodeName(code int) string {
	switch code {
	case CodeShapeMismatch:
		return "ShapeMismatch"
	case CodeDuplicateRecord:
		return "DuplicateRecord"
	case CodeAmbiguousName:
		return "AmbiguousName"
	case CodeMissingFeature:
		return "MissingFeature"
	case CodeFingerprintMismatch:
		return "FingerprintMismatch"
	case CodeBackendIO:
		return "BackendIO"
	case CodeUncanonicalizable:
		return "Uncanonicalizable"
	case CodeInvalidRequest:
		return "InvalidRequest"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Validation errors
	ErrShapeMismatch   = errors.New("payload shape does not match declared kind")
	ErrInvalidKind     = errors.New("invalid storage kind")
	ErrInvalidPolicy   = errors.New("invalid upsert policy")
	ErrInvalidElement  = errors.New("invalid element")
	ErrInvalidMetadata = errors.New("invalid metadata")
	ErrMissingField    = errors.New("missing required field")

	// Identity errors
	ErrUncanonicalizable   = errors.New("metadata cannot be canonicalized")
	ErrFingerprintMismatch = errors.New("stored metadata does not reproduce its fingerprint")
	ErrCorruptPayload      = errors.New("stored payload failed its checksum")

	// Lookup errors
	ErrMissingFeature = errors.New("feature not found")
	ErrAmbiguousName  = errors.New("feature name is not unique")

	// Record errors
	ErrDuplicateRecord = errors.New("record already exists for fingerprint and element")

	// Backend errors
	ErrBackendIO = errors.New("backend I/O error")
	ErrClosed    = errors.New("backend is closed")

	// Collect errors
	ErrSourceFailed = errors.New("collect source failed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrInvalidElement) ||
		errors.Is(err, ErrInvalidMetadata) ||
		errors.Is(err, ErrMissingField)
}

// IsRecoverable returns true if the caller can correct the call and retry.
// Recoverable errors never leave partial state behind.
func IsRecoverable(err error) bool {
	return IsValidation(err) ||
		errors.Is(err, ErrDuplicateRecord) ||
		errors.Is(err, ErrAmbiguousName) ||
		errors.Is(err, ErrMissingFeature)
}

// IsCorruption returns true if err signals a damaged store file or a
// canonicalization bug. These are fatal for the current call.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrFingerprintMismatch) || errors.Is(err, ErrCorruptPayload)
}

// IsFatal returns true if the current call must abort without partial writes.
func IsFatal(err error) bool {
	return IsCorruption(err) ||
		errors.Is(err, ErrBackendIO) ||
		errors.Is(err, ErrClosed)
}

// ============================================================================
// Error to exit code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its CLI exit code.
func ErrorToCode(err error) int {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case Is(err, ErrShapeMismatch):
		return CodeShapeMismatch
	case Is(err, ErrDuplicateRecord):
		return CodeDuplicateRecord
	case Is(err, ErrAmbiguousName):
		return CodeAmbiguousName
	case Is(err, ErrMissingFeature):
		return CodeMissingFeature
	case Is(err, ErrFingerprintMismatch), Is(err, ErrCorruptPayload):
		return CodeFingerprintMismatch
	case Is(err, ErrBackendIO), Is(err, ErrClosed):
		return CodeBackendIO
	case Is(err, ErrUncanonicalizable):
		return CodeUncanonicalizable
	case IsValidation(err):
		return CodeInvalidRequest
	default:
		return CodeUnknown
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewShapeMismatch creates a shape mismatch error naming the declared kind
// and the offending dimension.
func NewShapeMismatch(kind, detail string) error {
	return fmt.Errorf("%s: %s: %w", kind, detail, ErrShapeMismatch)
}

// NewDuplicateRecord creates a duplicate record error carrying the
// fingerprint and element identity so a failed run can be re-queued.
func NewDuplicateRecord(digest, element string) error {
	return fmt.Errorf("digest %s element %q: %w", digest, element, ErrDuplicateRecord)
}

// NewMissingFeature creates a not-found error for a selector.
func NewMissingFeature(selector string) error {
	return fmt.Errorf("selector %q: %w", selector, ErrMissingFeature)
}

// NewAmbiguousName creates an ambiguous name error with the match count.
func NewAmbiguousName(name string, matches int) error {
	return fmt.Errorf("name %q matches %d features: %w", name, matches, ErrAmbiguousName)
}

// NewFingerprintMismatch creates a verification error naming both digests.
func NewFingerprintMismatch(stored, computed string) error {
	return fmt.Errorf("stored %s, recomputed %s: %w", stored, computed, ErrFingerprintMismatch)
}

// NewSourceFailed creates a collect error naming the failing source by
// index and path. Sources before index are already durably committed.
func NewSourceFailed(index int, path string, cause error) error {
	return fmt.Errorf("source %d (%s): %w: %w", index, path, cause, ErrSourceFailed)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
