package bybit

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// APIError is a non-zero retCode returned by Bybit.
type APIError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Operation string `json:"operation,omitempty"`
}

func (e *APIError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("bybit %s: error %d: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("bybit error %d: %s", e.Code, e.Message)
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey     = 10003
	ErrCodeInvalidSignature  = 10004
	ErrCodeInvalidTimestamp  = 10005
	ErrCodeRateLimitExceeded = 10006
	ErrCodeSymbolNotFound    = 110009
)

// IsRetryableError reports whether a later attempt may succeed.
func IsRetryableError(err error) bool {
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case ErrCodeRateLimitExceeded,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
		return true
	}
	return false
}

// ParseAPIError returns nil for retCode 0.
func ParseAPIError(operation string, retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	return &APIError{Code: retCode, Message: retMsg, Operation: operation}
}
