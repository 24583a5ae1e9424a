// Package ai provides common types and utilities for provider implementations.
// It defines standard error types, retry configurations, and helper functions
// used across the chat, speech synthesis and recognition providers.
package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types used across providers
var (
	// ErrRecoverable indicates a temporary failure that may succeed if retried.
	// Examples: network timeout, rate limiting, temporary service unavailability.
	ErrRecoverable = errors.New("recoverable AI provider error")

	// ErrFatal indicates a permanent failure that will not succeed if retried.
	// Examples: invalid API key, unknown voice, malformed request.
	ErrFatal = errors.New("fatal AI provider error")
)

// IsRecoverable checks if an error is recoverable and should be retried
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal checks if an error is fatal and should not be retried
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// RetryableError wraps an underlying error with retry classification
type RetryableError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *RetryableError) Error() string {
	if e.Message != "" {
		if e.Underlying != nil {
			return e.Message + ": " + e.Underlying.Error()
		}
		return e.Message
	}
	if e.Underlying == nil {
		return "ai provider error"
	}
	return e.Underlying.Error()
}

// Unwrap exposes both the class sentinel and the underlying cause.
func (e *RetryableError) Unwrap() []error {
	class := ErrFatal
	if e.Retryable {
		class = ErrRecoverable
	}
	if e.Underlying == nil {
		return []error{class}
	}
	return []error{class, e.Underlying}
}

// NewRecoverableError creates a recoverable error with context
func NewRecoverableError(underlying error, message string) error {
	return &RetryableError{
		Underlying: underlying,
		Retryable:  true,
		Message:    message,
	}
}

// NewFatalError creates a fatal error with context
func NewFatalError(underlying error, message string) error {
	return &RetryableError{
		Underlying: underlying,
		Retryable:  false,
		Message:    message,
	}
}

// ClassifyStatus turns an HTTP status into a classified provider error.
// 408, 429 and 5xx are recoverable; every other non-2xx status is fatal.
func ClassifyStatus(status int, body string) error {
	err := fmt.Errorf("status=%d body=%s", status, body)
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return NewRecoverableError(err, "provider request failed")
	default:
		return NewFatalError(err, "provider rejected request")
	}
}
