package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrorCategory represents the failure classes the gate distinguishes
type ErrorCategory string

const (
	// Infrastructure failures, always fail-closed
	ErrorCategoryStateUnavailable ErrorCategory = "STATE_UNAVAILABLE"
	ErrorCategoryTimeout          ErrorCategory = "TIMEOUT"

	// Expected business rejections
	ErrorCategoryLimitExceeded ErrorCategory = "LIMIT_EXCEEDED"

	// Input and operator errors
	ErrorCategoryIDGeneration  ErrorCategory = "ID_GENERATION"
	ErrorCategoryValidation    ErrorCategory = "VALIDATION"
	ErrorCategoryConfirmation  ErrorCategory = "CONFIRMATION"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
)

// Sentinels for errors.Is; they match any GateError of the same category.
var (
	ErrStateUnavailable = &GateError{Category: ErrorCategoryStateUnavailable}
	ErrTimeout          = &GateError{Category: ErrorCategoryTimeout}
	ErrLimitExceeded    = &GateError{Category: ErrorCategoryLimitExceeded}
	ErrIDGeneration     = &GateError{Category: ErrorCategoryIDGeneration}
	ErrValidation       = &GateError{Category: ErrorCategoryValidation}
	ErrConfirmation     = &GateError{Category: ErrorCategoryConfirmation}
	ErrConfiguration    = &GateError{Category: ErrorCategoryConfiguration}
)

// GateError represents a categorized error with context
type GateError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *GateError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(string(e.Category))
	}
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, msg, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, msg)
}

// Unwrap returns the underlying error for error unwrapping
func (e *GateError) Unwrap() error {
	return e.Underlying
}

// Is matches sentinels by category.
func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	if !ok {
		return false
	}
	return t.Component == "" && t.Operation == "" && t.Category == e.Category
}

// IsFailClosed reports whether the error must halt the decision as an
// infrastructure failure rather than a business rejection.
func (e *GateError) IsFailClosed() bool {
	return e.Category == ErrorCategoryStateUnavailable || e.Category == ErrorCategoryTimeout
}

// WithContext adds context information to the error
func (e *GateError) WithContext(key string, value interface{}) *GateError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new categorized gate error
func New(category ErrorCategory, component, operation, message string) *GateError {
	return &GateError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
	}
}

// Wrap wraps an existing error with gate error context
func Wrap(err error, category ErrorCategory, component, operation string) *GateError {
	if err == nil {
		return nil
	}
	return &GateError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
	}
}

// Classify attempts to categorize an error returned by the coordination store
// or a collaborator. Anything unrecognised is treated as state unavailable.
func Classify(err error, component, operation string) *GateError {
	if err == nil {
		return nil
	}

	var gateErr *GateError
	if stderrors.As(err, &gateErr) {
		return gateErr
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return Wrap(err, ErrorCategoryTimeout, component, operation)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(err, ErrorCategoryTimeout, component, operation)
	}

	if stderrors.Is(err, redis.Nil) {
		return New(ErrorCategoryStateUnavailable, component, operation, "record missing")
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "i/o timeout") {
		return Wrap(err, ErrorCategoryTimeout, component, operation)
	}

	return Wrap(err, ErrorCategoryStateUnavailable, component, operation)
}

// CategoryOf returns the category of a gate error, or "" for foreign errors.
func CategoryOf(err error) ErrorCategory {
	var gateErr *GateError
	if stderrors.As(err, &gateErr) {
		return gateErr.Category
	}
	return ""
}

// Common error constructors
func NewStateUnavailable(component, operation string, err error) *GateError {
	if err == nil {
		return New(ErrorCategoryStateUnavailable, component, operation, "record missing")
	}
	return Wrap(err, ErrorCategoryStateUnavailable, component, operation)
}

func NewTimeoutError(component, operation string, err error) *GateError {
	return Wrap(err, ErrorCategoryTimeout, component, operation)
}

func NewLimitExceeded(component, operation, message string) *GateError {
	return New(ErrorCategoryLimitExceeded, component, operation, message)
}

func NewIDGenerationError(component, operation, message string) *GateError {
	return New(ErrorCategoryIDGeneration, component, operation, message)
}

func NewValidationError(component, operation, message string) *GateError {
	return New(ErrorCategoryValidation, component, operation, message)
}

func NewConfirmationError(component, operation, message string) *GateError {
	return New(ErrorCategoryConfirmation, component, operation, message)
}

func NewConfigurationError(component, operation, message string) *GateError {
	return New(ErrorCategoryConfiguration, component, operation, message)
}
