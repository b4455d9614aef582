// Package errors defines the structured error taxonomy for a build pass.
//
// Every failure surfaced by the engine is a *BuildError tagged with an
// ErrorType. Resolution, transform and constraint errors are fatal and abort
// the pass; cache corruption is recovered locally and only reported.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeResolution ErrorType = "resolution"
	ErrorTypeTransform  ErrorType = "transform"
	ErrorTypeConstraint ErrorType = "constraint"
	ErrorTypeCache      ErrorType = "cache"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeUnresolvable      = "ERR_UNRESOLVABLE"
	ErrCodeTransformFailed   = "ERR_TRANSFORM_FAILED"
	ErrCodeTransformTimeout  = "ERR_TRANSFORM_TIMEOUT"
	ErrCodeConstraint        = "ERR_CONSTRAINT_VIOLATION"
	ErrCodeCacheCorruption   = "ERR_CACHE_CORRUPTION"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound      = "ERR_FILE_NOT_FOUND"
	ErrCodeWriteFailed       = "ERR_WRITE_FAILED"
	ErrCodeInternalError     = "ERR_INTERNAL"
	ErrCodeSafelistUnmatched = "WARN_SAFELIST_UNMATCHED"
)

// BuildError is a structured error type with context.
type BuildError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	FilePath    string
	Stage       string
	Chain       []string
	Recoverable bool
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	if e.Stage != "" {
		parts = append(parts, "stage:"+e.Stage)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if len(e.Chain) > 0 {
		result += " (imported via " + strings.Join(e.Chain, " -> ") + ")"
	}

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *BuildError) Is(target error) bool {
	var t *BuildError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *BuildError) WithContext(key string, value interface{}) *BuildError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithChain attaches the import chain that led to the failing module.
func (e *BuildError) WithChain(chain []string) *BuildError {
	e.Chain = append([]string(nil), chain...)

	return e
}

// ResolutionError reports a specifier that matched no file.
type ResolutionError struct {
	*BuildError
	Specifier string
	Searched  []string
}

// NewResolutionError creates a resolution error listing every searched path.
func NewResolutionError(specifier, origin string, searched []string) *ResolutionError {
	return &ResolutionError{
		BuildError: &BuildError{
			Type:     ErrorTypeResolution,
			Code:     ErrCodeUnresolvable,
			Message:  fmt.Sprintf("cannot resolve %q (searched %d paths)", specifier, len(searched)),
			FilePath: origin,
		},
		Specifier: specifier,
		Searched:  searched,
	}
}

// Unwrap exposes the embedded BuildError to errors.As.
func (e *ResolutionError) Unwrap() error {
	return e.BuildError
}

// TransformError reports an external tool failure or timeout.
type TransformError struct {
	*BuildError
	Timeout bool
}

// NewTransformError creates a transform error for a file and stage.
func NewTransformError(file, stage string, cause error) *TransformError {
	return &TransformError{
		BuildError: &BuildError{
			Type:     ErrorTypeTransform,
			Code:     ErrCodeTransformFailed,
			Message:  "transform failed",
			Cause:    cause,
			FilePath: file,
			Stage:    stage,
		},
	}
}

// NewTransformTimeout creates a transform error for a stage that overran its budget.
func NewTransformTimeout(file, stage string, cause error) *TransformError {
	te := NewTransformError(file, stage, cause)
	te.Code = ErrCodeTransformTimeout
	te.Message = "transform timed out"
	te.Timeout = true

	return te
}

// Unwrap exposes the embedded BuildError to errors.As.
func (e *TransformError) Unwrap() error {
	return e.BuildError
}

// ConstraintViolation reports configuration that cannot produce a valid partition.
type ConstraintViolation struct {
	*BuildError
	Field string
}

// NewConstraintViolation creates a constraint violation for a config field.
func NewConstraintViolation(field, message string) *ConstraintViolation {
	return &ConstraintViolation{
		BuildError: &BuildError{
			Type:    ErrorTypeConstraint,
			Code:    ErrCodeConstraint,
			Message: fmt.Sprintf("%s: %s", field, message),
		},
		Field: field,
	}
}

// Unwrap exposes the embedded BuildError to errors.As.
func (e *ConstraintViolation) Unwrap() error {
	return e.BuildError
}

// NewCacheCorruption creates the recoverable error raised when a stored entry
// does not match its recomputed hash.
func NewCacheCorruption(key, message string) *BuildError {
	return &BuildError{
		Type:        ErrorTypeCache,
		Code:        ErrCodeCacheCorruption,
		Message:     message,
		Recoverable: true,
		Context:     map[string]interface{}{"key": key},
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *BuildError {
	return &BuildError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Recoverable
	}

	return false
}

// IsFatal reports whether err must abort the build pass.
func IsFatal(err error) bool {
	return err != nil && !IsRecoverable(err)
}

// IsResolutionError checks if an error came from the resolver.
func IsResolutionError(err error) bool {
	var re *ResolutionError

	return errors.As(err, &re)
}

// IsTransformError checks if an error came from a transform stage.
func IsTransformError(err error) bool {
	var te *TransformError

	return errors.As(err, &te)
}

// IsConstraintViolation checks if an error came from constraint validation.
func IsConstraintViolation(err error) bool {
	var cv *ConstraintViolation

	return errors.As(err, &cv)
}
