package errors

import (
	stderrors "errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryLifecycle Category = "lifecycle"
	CategoryConfig    Category = "config"
	CategoryProtocol  Category = "protocol"
	CategoryScenario  Category = "scenario"
	CategoryCLI       Category = "cli"
)

// Location represents a position in a config or scenario file.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// ScopeError is a structured error with a code, location and hint.
type ScopeError struct {
	// Code is a unique error identifier (e.g., "E001").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of this occurrence.
	Detail string

	// Location is the file position where the error occurred, if any.
	Location *Location

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Example shows the correct approach.
	Example string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *ScopeError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *ScopeError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds a file position to the error.
func (e *ScopeError) WithLocation(file string, line, column int) *ScopeError {
	e.Location = &Location{File: file, Line: line, Column: column}
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *ScopeError) WithSuggestion(s string) *ScopeError {
	e.Suggestion = s
	return e
}

// WithExample adds an example to the error.
func (e *ScopeError) WithExample(ex string) *ScopeError {
	e.Example = ex
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *ScopeError) WithDetail(d string) *ScopeError {
	e.Detail = d
	return e
}

// WithDetailf adds a formatted detailed explanation to the error.
func (e *ScopeError) WithDetailf(format string, args ...any) *ScopeError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *ScopeError) Wrap(err error) *ScopeError {
	e.Wrapped = err
	return e
}

// New creates a ScopeError from a registered error code.
func New(code string) *ScopeError {
	template, ok := registry[code]
	if !ok {
		return &ScopeError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &ScopeError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new ScopeError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *ScopeError {
	return &ScopeError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a ScopeError. A ScopeError anywhere
// in err's chain is returned as is.
func FromError(err error, code string) *ScopeError {
	if err == nil {
		return nil
	}
	var se *ScopeError
	if stderrors.As(err, &se) {
		return se
	}
	return New(code).Wrap(err)
}

// Code returns the code of the first ScopeError in err's chain, or "".
func Code(err error) string {
	var se *ScopeError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}
