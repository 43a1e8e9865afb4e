// Package errors provides structured error handling for redtap.
//
// Every error carries an ErrorType that decides its blast radius: fatal
// types abort the whole run, every other type is scoped to the stream that
// raised it.
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
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents warehouse or object store connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents credential resolution and login errors
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeQuery represents query execution errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeData represents row decoding and value coercion errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeFile represents local file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeTimeout represents generic timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeTypeConversion represents a column type with no schema mapping
	ErrorTypeTypeConversion ErrorType = "type_conversion"
	// ErrorTypeExportTimeout represents a bulk export that did not complete in time
	ErrorTypeExportTimeout ErrorType = "export_timeout"
	// ErrorTypePartialDownload represents a failed fetch of an export shard
	ErrorTypePartialDownload ErrorType = "partial_download"
	// ErrorTypeStateCorruption represents an unparseable persisted state
	ErrorTypeStateCorruption ErrorType = "state_corruption"
)

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

// TypeOf returns the outermost ErrorType in the chain, or ErrorTypeInternal
// for errors that never passed through this package.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks whether any error in the chain has the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsFatal reports whether err must abort the run rather than a single stream.
// Only the outermost type counts: a stream-scoped error keeps its scope even
// when its cause was classified as fatal lower down.
func IsFatal(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeConnection, ErrorTypeAuthentication, ErrorTypeStateCorruption, ErrorTypeConfig:
		return true
	default:
		return false
	}
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
