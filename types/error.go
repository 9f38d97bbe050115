package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Provider error codes
const (
	ErrConfig      ErrorCode = "CONFIG_ERROR"
	ErrHTTP        ErrorCode = "HTTP_ERROR"
	ErrAuth        ErrorCode = "AUTHENTICATION"
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	ErrParse       ErrorCode = "PARSE_ERROR"
	ErrExtraction  ErrorCode = "EXTRACTION_ERROR"
	ErrDownload    ErrorCode = "DOWNLOAD_ERROR"
	ErrNetwork     ErrorCode = "NETWORK_ERROR"
)

// Service error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrStorage        ErrorCode = "STORAGE_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithDetail attaches a diagnostic snippet (response body, accumulated text).
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// UserMessage renders the error for end users, with a hint on how to fix it.
func (e *Error) UserMessage() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.HTTPStatus > 0 && e.Code == ErrHTTP {
		fmt.Fprintf(&b, " (status %d)", e.HTTPStatus)
	}
	if hint := hints[e.Code]; hint != "" {
		b.WriteString("\n")
		b.WriteString(hint)
	}
	if e.Detail != "" {
		b.WriteString("\nresponse: ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

var hints = map[ErrorCode]string{
	ErrConfig:      "check the image provider settings: api key, base url and active provider",
	ErrAuth:        "the provider rejected the api key; verify it is valid and has image access",
	ErrRateLimited: "the provider is throttling requests; wait a moment and retry the failed pages",
	ErrHTTP:        "the provider returned an error; retry later or switch provider",
	ErrParse:       "the provider response was not valid JSON; check the endpoint type",
	ErrExtraction:  "the provider answered without an image; try another model or endpoint type",
	ErrDownload:    "the image url returned by the provider could not be downloaded",
	ErrNetwork:     "the provider could not be reached; check the network or base url",
}

// AsError unwraps err into *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewConfigError is returned when provider configuration is incomplete. It is task fatal.
func NewConfigError(format string, args ...any) *Error {
	return NewError(ErrConfig, fmt.Sprintf(format, args...)).WithHTTPStatus(400)
}

// NewHTTPError classifies a non-2xx provider response.
func NewHTTPError(provider string, status int, snippet string) *Error {
	return NewError(ErrHTTP, fmt.Sprintf("provider request failed with status %d", status)).
		WithHTTPStatus(status).
		WithProvider(provider).
		WithDetail(snippet).
		WithRetryable(status >= 500)
}

// NewAuthError is returned for HTTP 401.
func NewAuthError(provider, snippet string) *Error {
	return NewError(ErrAuth, "provider authentication failed").
		WithHTTPStatus(401).
		WithProvider(provider).
		WithDetail(snippet)
}

// NewRateLimitError is returned for HTTP 429.
func NewRateLimitError(provider, snippet string) *Error {
	return NewError(ErrRateLimited, "provider rate limit exceeded").
		WithHTTPStatus(429).
		WithProvider(provider).
		WithDetail(snippet).
		WithRetryable(true)
}

// NewParseError is returned when a provider body cannot be decoded.
func NewParseError(provider, snippet string, cause error) *Error {
	return NewError(ErrParse, "failed to parse provider response").
		WithProvider(provider).
		WithDetail(snippet).
		WithCause(cause)
}

// NewExtractionError is returned when no image can be recovered from a response.
func NewExtractionError(provider, message, snippet string) *Error {
	return NewError(ErrExtraction, message).
		WithProvider(provider).
		WithDetail(snippet)
}

// NewDownloadError is returned when an extracted image URL cannot be fetched.
func NewDownloadError(provider, url string, cause error) *Error {
	return NewError(ErrDownload, "failed to download image "+url).
		WithProvider(provider).
		WithCause(cause).
		WithRetryable(true)
}

// NewNetworkError wraps transport failures (timeouts, refused connections).
func NewNetworkError(provider string, cause error) *Error {
	return NewError(ErrNetwork, "provider request failed").
		WithProvider(provider).
		WithCause(cause).
		WithRetryable(true)
}
