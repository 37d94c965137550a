package middleware

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kamiwaza-drew/tool-email-mcp/pkg/apperr"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/logger"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/response"
)

// ErrorHandler is the centralized error handler for Fiber. Handler
// errors become the standard envelope; apperr codes carry their own
// HTTP status, everything else is a 500.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("request_id").(string)

		switch e := err.(type) {
		case *apperr.AppError:
			log := logger.WithField("request_id", requestID).
				WithField("error_code", e.Code).
				WithError(e.Err)
			if e.Status >= 500 {
				log.Error("request failed: %s", e.Message)
			} else {
				log.Warn("request rejected: %s", e.Message)
			}
			return response.FromError(c, e)

		case *fiber.Error:
			return response.Error(c, e.Code, mapHTTPStatusToCode(e.Code), e.Message)

		default:
			logger.WithField("request_id", requestID).
				WithError(err).
				WithField("stack", string(debug.Stack())).
				Error("unexpected error: %s", err.Error())
			return response.Error(c, fiber.StatusInternalServerError,
				apperr.CodeInternalError, "an unexpected error occurred")
		}
	}
}

// RequestID attaches a unique request ID to each request, honoring one
// supplied by the caller.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// RequestLogger logs each request with its outcome and duration.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID, _ := c.Locals("request_id").(string)

		err := c.Next()

		duration := time.Since(start)
		status := c.Response().StatusCode()

		log := logger.WithFields(map[string]any{
			"request_id":  requestID,
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": float64(duration.Microseconds()) / 1000.0,
			"ip":          c.IP(),
		})
		if sessionID, ok := c.Locals("session_id").(string); ok && sessionID != "" {
			log = log.WithField("session_id", sessionID)
		}

		switch {
		case status >= 500:
			log.Error("request failed: %s %s -> %d", c.Method(), c.Path(), status)
		case status >= 400:
			log.Warn("request error: %s %s -> %d", c.Method(), c.Path(), status)
		default:
			log.Info("request completed: %s %s -> %d", c.Method(), c.Path(), status)
		}

		return err
	}
}

// Recover converts panics into 500 responses instead of dropping the
// connection.
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals("request_id").(string)

				logger.WithFields(map[string]any{
					"request_id": requestID,
					"panic":      fmt.Sprintf("%v", r),
					"path":       c.Path(),
					"method":     c.Method(),
					"stack":      string(debug.Stack()),
				}).Error("panic recovered")

				c.Status(fiber.StatusInternalServerError)
				_ = response.Error(c, fiber.StatusInternalServerError,
					apperr.CodeInternalError, "an unexpected error occurred")
			}
		}()
		return c.Next()
	}
}

func mapHTTPStatusToCode(status int) string {
	switch status {
	case 400:
		return apperr.CodeBadRequest
	case 401:
		return apperr.CodeUnauthorized
	case 404:
		return apperr.CodeUnknownTool
	case 429:
		return apperr.CodeRateLimited
	case 502, 503, 504:
		return apperr.CodeDependencyUnavailable
	default:
		return apperr.CodeInternalError
	}
}
