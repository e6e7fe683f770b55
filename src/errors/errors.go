// Package errors defines the error taxonomy surfaced by the IntelliRouter client.
//
// Every error produced by this module satisfies errors.Is(err, ErrIntelliRouter).
// API errors returned for specific status codes (401, 429, >=500) unwrap to
// their *APIError so callers can match either the specific or the generic form.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lspecian/intellirouter-go/src/json"
)

// ErrIntelliRouter is the root of the taxonomy.
var ErrIntelliRouter = stderrors.New("intellirouter")

const unknownErrorMessage = "Unknown error"

// APIError is returned for a non-2xx response or a failed round trip.
// StatusCode is zero when no response was received.
type APIError struct {
	StatusCode int
	Message    string
	// Body is the raw response body, when one was read.
	Body      []byte
	RequestID string
	Cause     error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.StatusCode == 0 {
		return e.Message
	}
	var b strings.Builder
	b.WriteString(e.Message)
	b.WriteString(" (status ")
	b.WriteString(strconv.Itoa(e.StatusCode))
	b.WriteString(")")
	if e.RequestID != "" {
		b.WriteString(" request_id=")
		b.WriteString(e.RequestID)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Cause }

func (e *APIError) Is(target error) bool { return target == ErrIntelliRouter }

// AuthenticationError is returned for HTTP 401.
type AuthenticationError struct {
	*APIError
}

func (e *AuthenticationError) Unwrap() error { return e.APIError }

// RateLimitError is returned for HTTP 429.
type RateLimitError struct {
	*APIError
	// RetryAfter is parsed from the Retry-After header; zero when absent.
	RetryAfter time.Duration
}

func (e *RateLimitError) Unwrap() error { return e.APIError }

// ServerError is returned for HTTP status >= 500.
type ServerError struct {
	*APIError
}

func (e *ServerError) Unwrap() error { return e.APIError }

// ValidationError reports malformed request input or a malformed response or
// stream frame.
type ValidationError struct {
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func (e *ValidationError) Is(target error) bool { return target == ErrIntelliRouter }

// Validationf builds a ValidationError wrapping cause.
func Validationf(cause error, format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ConfigurationError reports missing or invalid client configuration.
type ConfigurationError struct {
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

func (e *ConfigurationError) Is(target error) bool { return target == ErrIntelliRouter }

// NetworkError wraps a failed round trip as an *APIError with no status.
func NetworkError(cause error) *APIError {
	return &APIError{Message: "Request failed: " + cause.Error(), Cause: cause}
}

// FromStatus classifies a non-2xx response. body is the raw response body and
// header may be nil.
func FromStatus(status int, body []byte, header http.Header) error {
	msg := ErrorMessage(body)
	base := &APIError{StatusCode: status, Body: body}
	if header != nil {
		base.RequestID = header.Get("X-Request-Id")
	}
	switch {
	case status == http.StatusUnauthorized:
		base.Message = "Authentication failed: " + msg
		return &AuthenticationError{APIError: base}
	case status == http.StatusTooManyRequests:
		base.Message = "Rate limit exceeded: " + msg
		rl := &RateLimitError{APIError: base}
		if header != nil {
			rl.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
		}
		return rl
	case status >= http.StatusInternalServerError:
		base.Message = "Server error: " + msg
		return &ServerError{APIError: base}
	default:
		base.Message = "API error: " + msg
		return base
	}
}

// ErrorMessage extracts a human readable message from an error body shaped
// like {"error": {"message": "..."}}, falling back to the plain text body.
func ErrorMessage(body []byte) string {
	if obj, err := json.DecodeObject(body); err == nil {
		if env, ok := obj["error"].(map[string]any); ok {
			if msg, ok := env["message"].(string); ok && msg != "" {
				return msg
			}
		}
		return unknownErrorMessage
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return unknownErrorMessage
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// AsAPIError reports whether err carries an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func IsAuth(err error) bool {
	var e *AuthenticationError
	return stderrors.As(err, &e)
}

func IsRateLimit(err error) bool {
	var e *RateLimitError
	return stderrors.As(err, &e)
}

func IsServer(err error) bool {
	var e *ServerError
	return stderrors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return stderrors.As(err, &e)
}

func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return stderrors.As(err, &e)
}

// Retryable reports whether a transport may retry after err: network failures,
// 408, 429 and 5xx.
func Retryable(err error) bool {
	ae, ok := AsAPIError(err)
	if !ok {
		return false
	}
	switch {
	case ae.StatusCode == 0:
		return ae.Cause != nil
	case ae.StatusCode == http.StatusRequestTimeout, ae.StatusCode == http.StatusTooManyRequests:
		return true
	case ae.StatusCode >= http.StatusInternalServerError:
		return true
	}
	return false
}
