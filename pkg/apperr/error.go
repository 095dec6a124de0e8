// Package apperr defines the tagged error kinds shared by every layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error kinds. Errors are matched by kind, never by message string.
const (
	KindInvalidInput     = "INVALID_INPUT"
	KindRateLimited      = "RATE_LIMITED"
	KindCircuitOpen      = "CIRCUIT_OPEN"
	KindLLMTransient     = "LLM_TRANSIENT"
	KindLLMSchemaInvalid = "LLM_SCHEMA_INVALID"
	KindLLMTimeout       = "LLM_TIMEOUT"
	KindLLMRefused       = "LLM_REFUSED"
	KindStorage          = "STORAGE_UNAVAILABLE"
	KindContract         = "CONTRACT_VIOLATION"
	KindTenancy          = "TENANCY_VIOLATION"
	KindUnauthorized     = "UNAUTHORIZED"
	KindForbidden        = "FORBIDDEN"
	KindNotFound         = "NOT_FOUND"
	KindInternal         = "INTERNAL_ERROR"
)

// AppError is a structured application error.
type AppError struct {
	Kind    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is lets errors.Is match two AppErrors by kind.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code.
func (e *AppError) HTTPStatus() int { return e.Status }

func New(kind, message string, status int) *AppError {
	return &AppError{Kind: kind, Message: message, Status: status}
}

// InvalidInput reports a rejected request field. No side effects occurred.
func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Kind:    KindInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// RateLimited carries the retry-after hint and the limit that was breached.
func RateLimited(retryAfter time.Duration, limit string) *AppError {
	return &AppError{
		Kind:    KindRateLimited,
		Message: "too many requests",
		Status:  http.StatusTooManyRequests,
		Details: map[string]any{
			"retry_after": int(retryAfter.Seconds()),
			"limit":       limit,
		},
	}
}

// CircuitOpen means the LLM admission breaker rejected the call.
func CircuitOpen(reason string) *AppError {
	return &AppError{
		Kind:    KindCircuitOpen,
		Message: "llm circuit open",
		Status:  http.StatusServiceUnavailable,
		Details: map[string]any{"reason": reason},
	}
}

func LLMTransient(err error) *AppError {
	return &AppError{Kind: KindLLMTransient, Message: "llm transient failure", Status: http.StatusBadGateway, Err: err}
}

func LLMSchemaInvalid(err error) *AppError {
	return &AppError{Kind: KindLLMSchemaInvalid, Message: "llm output failed schema validation", Status: http.StatusBadGateway, Err: err}
}

func LLMTimeout(err error) *AppError {
	return &AppError{Kind: KindLLMTimeout, Message: "llm call timed out", Status: http.StatusGatewayTimeout, Err: err}
}

func LLMRefused(err error) *AppError {
	return &AppError{Kind: KindLLMRefused, Message: "llm refused the request", Status: http.StatusBadGateway, Err: err}
}

func Storage(operation string, err error) *AppError {
	return &AppError{
		Kind:    KindStorage,
		Message: fmt.Sprintf("storage unavailable: %s", operation),
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// Contract reports a pipeline stage reading or writing outside its
// declaration. The digest run aborts and falls back.
func Contract(stage, violation string) *AppError {
	return &AppError{
		Kind:    KindContract,
		Message: fmt.Sprintf("contract violation in stage '%s': %s", stage, violation),
		Status:  http.StatusInternalServerError,
		Details: map[string]any{"stage": stage},
	}
}

// Tenancy aborts unconditionally; the caller logs it as a security event.
func Tenancy(message string) *AppError {
	return &AppError{Kind: KindTenancy, Message: message, Status: http.StatusForbidden}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{Kind: KindUnauthorized, Message: message, Status: http.StatusUnauthorized}
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{Kind: KindForbidden, Message: message, Status: http.StatusForbidden}
}

func NotFound(resource string) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", resource), Status: http.StatusNotFound}
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{Kind: KindInternal, Message: message, Status: http.StatusInternalServerError}
}

func InternalWithError(err error) *AppError {
	return &AppError{Kind: KindInternal, Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func IsKind(err error, kind string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
