// Package middleware holds the fiber middleware: error mapping, request
// identity, admission control, and request logging.
package middleware

import (
	"errors"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailsense/pkg/apperr"
)

// ErrorResponse is the JSON envelope every error leaves the server in.
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler maps errors to the envelope. Internal error text never
// reaches the client; the wrapped cause goes to the log only.
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("request_id").(string)
		response := ErrorResponse{
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		var status int
		var appErr *apperr.AppError
		var fiberErr *fiber.Error

		switch {
		case errors.As(err, &appErr):
			status = appErr.Status
			response.Error = ErrorDetail{
				Code:    appErr.Kind,
				Message: appErr.Message,
				Details: appErr.Details,
			}
			if appErr.Kind == apperr.KindRateLimited {
				if retry, ok := appErr.Details["retry_after"].(int); ok {
					c.Set("Retry-After", strconv.Itoa(retry))
				}
			}

			event := logger.Warn()
			if status >= 500 {
				event = logger.Error()
			}
			// Cross-tenant access is a security event, not a client mistake.
			if appErr.Kind == apperr.KindTenancy {
				event = logger.Error().Bool("security_event", true)
			}
			event.
				Str("request_id", requestID).
				Str("code", appErr.Kind).
				Str("path", c.Path()).
				Err(appErr.Err).
				Msg(appErr.Message)

		case errors.As(err, &fiberErr):
			status = fiberErr.Code
			response.Error = ErrorDetail{
				Code:    codeForStatus(fiberErr.Code),
				Message: fiberErr.Message,
			}

		default:
			status = fiber.StatusInternalServerError
			response.Error = ErrorDetail{
				Code:    apperr.KindInternal,
				Message: "an unexpected error occurred",
			}
			logger.Error().
				Str("request_id", requestID).
				Str("path", c.Path()).
				Err(err).
				Msg("unexpected error")
		}

		return c.Status(status).JSON(response)
	}
}

// RequestID assigns or propagates X-Request-ID.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// RequestLogger logs one line per request. The caller identity is logged but
// never any email content.
func RequestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		requestID, _ := c.Locals("request_id").(string)
		userID, _ := c.Locals("user_id").(string)
		status := c.Response().StatusCode()

		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0).
			Str("user_id", userID).
			Msg("request")

		return err
	}
}

// Recover converts panics into 500 responses instead of dropped connections.
func Recover(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals("request_id").(string)
				logger.Error().
					Str("request_id", requestID).
					Str("path", c.Path()).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")
				err = c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
					RequestID: requestID,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
					Error: ErrorDetail{
						Code:    apperr.KindInternal,
						Message: "an unexpected error occurred",
					},
				})
			}
		}()
		return c.Next()
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return apperr.KindInvalidInput
	case fiber.StatusUnauthorized:
		return apperr.KindUnauthorized
	case fiber.StatusForbidden:
		return apperr.KindForbidden
	case fiber.StatusNotFound:
		return apperr.KindNotFound
	case fiber.StatusTooManyRequests:
		return apperr.KindRateLimited
	default:
		return apperr.KindInternal
	}
}
