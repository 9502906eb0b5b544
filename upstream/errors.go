package upstream

import (
	"errors"
	"fmt"
)

// Sentinel errors - use with errors.Is()
var (
	// Gate errors
	ErrConfiguration = errors.New("upguard: configuration error")
	ErrRateLimited   = errors.New("upguard: rate limit exceeded")
	ErrCircuitOpen   = errors.New("upguard: circuit breaker open")
	ErrUnhealthy     = errors.New("upguard: upstream unhealthy")

	// Transport errors
	ErrUpstreamHTTP     = errors.New("upguard: upstream returned error status")
	ErrNetwork          = errors.New("upguard: network error")
	ErrTimeout          = errors.New("upguard: request timed out")
	ErrResponseTooLarge = errors.New("upguard: response too large")

	// Registry errors
	ErrNotRegistered     = errors.New("upguard: upstream not registered")
	ErrAlreadyRegistered = errors.New("upguard: upstream already registered")
	ErrStreamUnsupported = errors.New("upguard: upstream has no stream")
	ErrAlreadyRunning    = errors.New("upguard: already running")
	ErrShutdown          = errors.New("upguard: orchestrator shut down")

	// ErrInternal marks a recovered panic inside a request path.
	ErrInternal = errors.New("upguard: internal error")
)

// Code classifies an Error.
type Code string

const (
	CodeConfiguration Code = "configuration"
	CodeRateLimited   Code = "rate_limited"
	CodeCircuitOpen   Code = "circuit_open"
	CodeUnhealthy     Code = "unhealthy"
	CodeUpstreamHTTP  Code = "upstream_http"
	CodeNetwork       Code = "network"
	CodeTimeout       Code = "timeout"
	CodeNotRegistered Code = "not_registered"
	CodeShutdown      Code = "shutdown"
	CodeCanceled      Code = "canceled"
	CodeInternal      Code = "internal"
)

func (c Code) sentinel() error {
	switch c {
	case CodeConfiguration:
		return ErrConfiguration
	case CodeRateLimited:
		return ErrRateLimited
	case CodeCircuitOpen:
		return ErrCircuitOpen
	case CodeUnhealthy:
		return ErrUnhealthy
	case CodeUpstreamHTTP:
		return ErrUpstreamHTTP
	case CodeNetwork:
		return ErrNetwork
	case CodeTimeout:
		return ErrTimeout
	case CodeNotRegistered:
		return ErrNotRegistered
	case CodeShutdown:
		return ErrShutdown
	case CodeInternal:
		return ErrInternal
	}
	return nil
}

// Error is returned by every request path. It always names the upstream.
// Use errors.As() to extract details, errors.Is() to match sentinels.
type Error struct {
	API      string
	Code     Code
	Status   int    // HTTP status for CodeUpstreamHTTP
	Body     string // Response body for CodeUpstreamHTTP, truncated
	Attempts int    // Transport attempts made, 0 when rejected before transport
	Err      error  // Underlying cause
}

func (e *Error) Error() string {
	switch {
	case e.Code == CodeUpstreamHTTP:
		return fmt.Sprintf("upguard: %s: %s (status=%d)", e.API, e.Code, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("upguard: %s: %s: %v", e.API, e.Code, e.Err)
	default:
		return fmt.Sprintf("upguard: %s: %s", e.API, e.Code)
	}
}

// Unwrap exposes both the code sentinel and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Code.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsRetryable reports whether the executor may retry the attempt.
// 4xx responses are never retried.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeNetwork, CodeTimeout:
		return true
	case CodeUpstreamHTTP:
		return e.Status >= 500
	}
	return false
}

// NewError creates an Error for the given upstream.
func NewError(api string, code Code, cause error) *Error {
	return &Error{API: api, Code: code, Err: cause}
}

// NewHTTPError creates an Error for a non-2xx upstream response.
func NewHTTPError(api string, status int, body []byte) *Error {
	const maxBody = 2048
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &Error{API: api, Code: CodeUpstreamHTTP, Status: status, Body: string(body)}
}

// CodeOf returns the Code carried by err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Code
	}
	return ""
}

// ConfigError represents an invalid or incomplete upstream configuration.
type ConfigError struct {
	API     string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.API == "" {
		return fmt.Sprintf("upguard: config: %s - %s", e.Field, e.Message)
	}
	return fmt.Sprintf("upguard: config: %s: %s - %s", e.API, e.Field, e.Message)
}

// Unwrap returns ErrConfiguration so errors.Is matches every config failure.
func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// NewConfigError creates a new ConfigError.
func NewConfigError(api, field, message string) *ConfigError {
	return &ConfigError{API: api, Field: field, Message: message}
}
