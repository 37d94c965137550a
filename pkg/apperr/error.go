package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Input errors
	CodeValidationError = "validation_error"
	CodeBadRequest      = "bad_request"
	CodeUnknownTool     = "unknown_tool"

	// Provider lifecycle errors
	CodeProviderNotConfigured = "provider_not_configured"
	CodeUnknownProvider       = "unknown_provider"
	CodeMissingCredentials    = "missing_credentials"
	CodeDependencyUnavailable = "dependency_unavailable"

	// Provider runtime errors
	CodeTransportError    = "transport_error"
	CodeAuthExpired       = "auth_expired"
	CodeInsufficientScope = "insufficient_scope"
	CodeProviderError     = "provider_error"

	// Auth errors
	CodeUnauthorized = "unauthorized"
	CodeInvalidToken = "invalid_token"
	CodeTokenExpired = "token_expired"

	// Internal errors
	CodeInternalError = "internal_error"
	CodeConfigError   = "config_error"
	CodeTimeout       = "timeout"
	CodeRateLimited   = "rate_limited"
)

// AppError represents a structured application error
type AppError struct {
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	Status       int            `json:"-"`
	AuthRequired bool           `json:"auth_required,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Err          error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
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

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Input errors
func ValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidationError,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func UnknownTool(name string) *AppError {
	return &AppError{
		Code:    CodeUnknownTool,
		Message: fmt.Sprintf("unknown tool: %s", name),
		Status:  http.StatusNotFound,
		Details: map[string]any{"tool": name},
	}
}

// Provider lifecycle errors
func ProviderNotConfigured() *AppError {
	return &AppError{
		Code:    CodeProviderNotConfigured,
		Message: "no email provider configured, call connect first",
		Status:  http.StatusConflict,
	}
}

func UnknownProvider(name string) *AppError {
	return &AppError{
		Code:    CodeUnknownProvider,
		Message: fmt.Sprintf("unknown provider type: %s", name),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"provider": name},
	}
}

func MissingCredentials(provider, field string) *AppError {
	return &AppError{
		Code:    CodeMissingCredentials,
		Message: fmt.Sprintf("%s provider requires %s", provider, field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"provider": provider, "field": field},
	}
}

func DependencyUnavailable(dependency string, err error) *AppError {
	return &AppError{
		Code:    CodeDependencyUnavailable,
		Message: fmt.Sprintf("required dependency unavailable: %s", dependency),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"dependency": dependency},
		Err:     err,
	}
}

// Provider runtime errors
func TransportError(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeTransportError,
		Message: fmt.Sprintf("%s provider connection failed", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

func AuthExpired(provider string) *AppError {
	return &AppError{
		Code:         CodeAuthExpired,
		Message:      fmt.Sprintf("%s authentication expired, re-authentication required", provider),
		Status:       http.StatusUnauthorized,
		AuthRequired: true,
		Details:      map[string]any{"provider": provider},
	}
}

func InsufficientScope(provider, operation string) *AppError {
	return &AppError{
		Code:         CodeInsufficientScope,
		Message:      fmt.Sprintf("%s token lacks the scope required for %s", provider, operation),
		Status:       http.StatusForbidden,
		AuthRequired: true,
		Details:      map[string]any{"provider": provider, "operation": operation},
	}
}

func ProviderFailure(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderError,
		Message: fmt.Sprintf("%s provider operation failed", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

// Auth errors
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func InvalidToken(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidToken,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Common error instances
var (
	ErrUnauthorized  = Unauthorized("")
	ErrBadRequest    = BadRequest("bad request")
	ErrInternal      = Internal("")
	ErrNotConfigured = ProviderNotConfigured()
	ErrRateLimited   = New(CodeRateLimited, "too many requests", http.StatusTooManyRequests)
)

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

func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
