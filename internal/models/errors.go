package models

import (
	"errors"
	"fmt"
)

// BrokerErrorKind classifies broker client failures for retry policy.
type BrokerErrorKind string

const (
	ErrKindAuth        BrokerErrorKind = "Auth"
	ErrKindRateLimited BrokerErrorKind = "RateLimited"
	ErrKindTransient   BrokerErrorKind = "Transient"
	ErrKindPermanent   BrokerErrorKind = "Permanent"
	ErrKindMalformed   BrokerErrorKind = "Malformed"
)

// BrokerError is a classified failure from the upstream brokerage API.
type BrokerError struct {
	Kind       BrokerErrorKind
	HTTPStatus int
	Payload    string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error: %s (status: %d): %s", e.Kind, e.HTTPStatus, e.Payload)
}

// Retryable reports whether the error should be retried with backoff.
func (e *BrokerError) Retryable() bool {
	return e.Kind == ErrKindRateLimited || e.Kind == ErrKindTransient
}

// IsAuthError reports whether err is a broker auth failure.
func IsAuthError(err error) bool {
	var be *BrokerError
	return errors.As(err, &be) && be.Kind == ErrKindAuth
}

// IsRateLimitError reports whether err is a broker rate-limit failure.
func IsRateLimitError(err error) bool {
	var be *BrokerError
	return errors.As(err, &be) && be.Kind == ErrKindRateLimited
}

// WindowTooWideError is returned when a date-windowed broker call exceeds the
// broker's cap. The activity crawler converts it into slicing; it never
// escapes to callers of the crawler.
type WindowTooWideError struct {
	RequestedDays int
	MaxDays       int
}

func (e *WindowTooWideError) Error() string {
	return fmt.Sprintf("requested window of %d days exceeds broker cap of %d days", e.RequestedDays, e.MaxDays)
}

// TokenRefreshError is a failed OAuth refresh-token exchange.
type TokenRefreshError struct {
	HTTPStatus int
	Body       string
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed (status: %d): %s", e.HTTPStatus, e.Body)
}

// ConfigErrorCode is the machine-readable code returned on 4xx responses.
type ConfigErrorCode string

const (
	CodeInvalidProportions ConfigErrorCode = "INVALID_PROPORTIONS"
	CodeInvalidAccount     ConfigErrorCode = "INVALID_ACCOUNT"
	CodeInvalidSymbol      ConfigErrorCode = "INVALID_SYMBOL"
	CodeNotFound           ConfigErrorCode = "NOT_FOUND"
	CodeParseError         ConfigErrorCode = "PARSE_ERROR"
)

// ConfigError is a user-correctable configuration or request error.
type ConfigError struct {
	Code    ConfigErrorCode
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewConfigError builds a ConfigError with a formatted message.
func NewConfigError(code ConfigErrorCode, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: fmt.Sprintf(format, args...)}
}
