// ABOUTME: Error hierarchy for the text-generation client with per-error retryability.
// ABOUTME: Provider errors carry status codes and optional retry-after hints.
package llm

import (
	"fmt"
)

// ClientError is the base error type for this package. Subtypes override
// IsRetryable.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error { return e.Cause }

// IsRetryable returns false for the base type.
func (e *ClientError) IsRetryable() bool { return false }

// ConfigurationError indicates the client is miswired (missing API key,
// bad base URL). Never retryable.
type ConfigurationError struct {
	ClientError
}

// NewConfigurationError creates a ConfigurationError with the given message.
func NewConfigurationError(msg string) *ConfigurationError {
	return &ConfigurationError{ClientError{Message: msg}}
}

// ProviderError is an error returned by the provider's API. Retryability is
// decided from the HTTP status: 408, 429, and 5xx are transient.
type ProviderError struct {
	ClientError
	StatusCode int
	RetryAfter float64 // seconds; 0 = no hint
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.ClientError.Error())
}

// IsRetryable reports transience based on the status code.
func (e *ProviderError) IsRetryable() bool {
	switch {
	case e.StatusCode == 408, e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// NetworkError wraps transport-level failures (DNS, connection reset).
// Always retryable.
type NetworkError struct {
	ClientError
}

// IsRetryable returns true; transport failures are worth another attempt.
func (e *NetworkError) IsRetryable() bool { return true }

// retryAfterHint extracts the RetryAfter value when err is a ProviderError.
func retryAfterHint(err error) float64 {
	if pe, ok := err.(*ProviderError); ok {
		return pe.RetryAfter
	}
	return 0
}
