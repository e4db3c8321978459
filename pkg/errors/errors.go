// Package errors provides structured error handling for Relay
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents a missing integration or mapping
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeCapability represents an adapter that does not offer the capability it declares
	ErrorTypeCapability ErrorType = "capability"
	// ErrorTypeInvalidDefinition represents a malformed transformation registration
	ErrorTypeInvalidDefinition ErrorType = "invalid_definition"
	// ErrorTypeExtraction represents a failure reading from the source
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeTransformation represents a failure inside a field transform
	ErrorTypeTransformation ErrorType = "transformation"
	// ErrorTypeRequiredField represents a required source field absent from the extracted data
	ErrorTypeRequiredField ErrorType = "required_field"
	// ErrorTypeLoad represents a failure writing to the destination
	ErrorTypeLoad ErrorType = "load"
	// ErrorTypeCronValidation represents an invalid cron expression
	ErrorTypeCronValidation ErrorType = "cron_validation"
	// ErrorTypePoolExhaustion represents a checkout that timed out on a saturated pool
	ErrorTypePoolExhaustion ErrorType = "pool_exhaustion"
	// ErrorTypeConnectionTimeout represents a checkout that timed out
	ErrorTypeConnectionTimeout ErrorType = "connection_timeout"
)

// parents records error families: an error of the key type also satisfies
// IsType for the value type.
var parents = map[ErrorType]ErrorType{
	ErrorTypeRequiredField:  ErrorTypeTransformation,
	ErrorTypePoolExhaustion: ErrorTypeConnectionTimeout,
}

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeConnection, ErrorTypeConnectionTimeout, ErrorTypePoolExhaustion:
		return true
	default:
		return false
	}
}

// IsType checks if the error, or any error it wraps, is of the given type or
// belongs to that type's family.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		for t := e.Type; t != ""; t = parents[t] {
			if t == errType {
				return true
			}
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the type of the outermost structured error, or ErrorTypeInternal
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// Is and As are re-exported so callers need a single errors import.
var (
	Is = errors.Is
	As = errors.As
)

// NotFound reports a missing integration or mapping
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Type: ErrorTypeNotFound, Message: fmt.Sprintf(format, args...), Stack: captureStack(2)}
}

// Extraction wraps a source read failure
func Extraction(err error, message string) *Error {
	if err == nil {
		return &Error{Type: ErrorTypeExtraction, Message: message, Stack: captureStack(2)}
	}
	return Wrap(err, ErrorTypeExtraction, message)
}

// RequiredFieldMissing reports a required mapping whose source field was not extracted
func RequiredFieldMissing(field string) *Error {
	e := &Error{
		Type:    ErrorTypeRequiredField,
		Message: fmt.Sprintf("required field %q missing from source data", field),
		Stack:   captureStack(2),
	}
	return e.WithDetail("field", field)
}

// Transformation wraps a failure raised by a transform function
func Transformation(err error, transform string) *Error {
	return wrapOrNew(err, ErrorTypeTransformation, fmt.Sprintf("transform %q failed", transform)).
		WithDetail("transform", transform)
}

// Load wraps a destination write failure
func Load(err error, message string) *Error {
	if err == nil {
		return &Error{Type: ErrorTypeLoad, Message: message, Stack: captureStack(2)}
	}
	return Wrap(err, ErrorTypeLoad, message)
}

// CronValidation reports an invalid cron expression
func CronValidation(expr, reason string) *Error {
	e := &Error{
		Type:    ErrorTypeCronValidation,
		Message: fmt.Sprintf("invalid cron expression %q: %s", expr, reason),
		Stack:   captureStack(2),
	}
	return e.WithDetail("expression", expr)
}

// PoolExhaustion reports a checkout timeout while every connection was in use
func PoolExhaustion(err error, tenant string, limit int) *Error {
	return wrapOrNew(err, ErrorTypePoolExhaustion, fmt.Sprintf("connection pool for tenant %q exhausted", tenant)).
		WithDetail("tenant", tenant).
		WithDetail("limit", limit)
}

// ConnectionTimeout reports a checkout that did not complete in time
func ConnectionTimeout(err error, tenant string) *Error {
	return wrapOrNew(err, ErrorTypeConnectionTimeout, fmt.Sprintf("timed out acquiring connection for tenant %q", tenant)).
		WithDetail("tenant", tenant)
}

// InvalidDefinition reports a transformation that cannot be registered
func InvalidDefinition(format string, args ...interface{}) *Error {
	return &Error{Type: ErrorTypeInvalidDefinition, Message: fmt.Sprintf(format, args...), Stack: captureStack(2)}
}

// wrapOrNew wraps err, or builds a fresh error when there is no cause
func wrapOrNew(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return &Error{Type: errType, Message: message, Stack: captureStack(3)}
	}
	return Wrap(err, errType, message)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
