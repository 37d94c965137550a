// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"
	"fmt"

	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
)

// =============================================================================
// Email Provider Port
// =============================================================================

// EmailProvider is the capability contract every backend variant
// implements: gmail, outlook, imap, pop3, and the oauth broker proxy.
// Implementations return *ProviderError for expected backend failures
// and never let transport faults escape as panics.
type EmailProvider interface {
	ProviderType() domain.ProviderType

	ListEmails(ctx context.Context, folder string, limit int, pageToken string) (*domain.EmailPage, error)
	ReadEmail(ctx context.Context, messageID string) (*domain.EmailMessage, error)
	SendEmail(ctx context.Context, msg *domain.OutgoingEmail) (*domain.SendResult, error)
	ReplyEmail(ctx context.Context, messageID, body string, replyAll, html bool) (*domain.SendResult, error)
	ForwardEmail(ctx context.Context, messageID string, to []string, comment string) (*domain.SendResult, error)
	DeleteEmail(ctx context.Context, messageID string) (*domain.ModifyResult, error)
	SearchEmails(ctx context.Context, query string, limit int) (*domain.EmailPage, error)
	MarkRead(ctx context.Context, messageID string, read bool) (*domain.ModifyResult, error)
	Folders(ctx context.Context) ([]string, error)
}

// =============================================================================
// Provider Errors
// =============================================================================

// Provider error codes.
const (
	ErrCodeAuthExpired       = "auth_expired"
	ErrCodeInsufficientScope = "insufficient_scope"
	ErrCodeNotFound          = "not_found"
	ErrCodeRateLimit         = "rate_limit"
	ErrCodeTransport         = "transport_error"
	ErrCodeUnsupported       = "unsupported"
	ErrCodeServer            = "server_error"
)

// ProviderError is a typed failure from a backend variant.
type ProviderError struct {
	Provider  domain.ProviderType
	Code      string
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewAuthExpired reports rejected or expired credentials.
func NewAuthExpired(p domain.ProviderType, err error) *ProviderError {
	return &ProviderError{
		Provider: p,
		Code:     ErrCodeAuthExpired,
		Message:  "authentication expired, reconnect the account",
		Err:      err,
	}
}

// NewInsufficientScope reports a token that lacks a required scope.
func NewInsufficientScope(p domain.ProviderType, operation string) *ProviderError {
	return &ProviderError{
		Provider: p,
		Code:     ErrCodeInsufficientScope,
		Message:  fmt.Sprintf("token lacks the scope required for %s", operation),
	}
}

// NewNotFound reports a missing message.
func NewNotFound(p domain.ProviderType, messageID string) *ProviderError {
	return &ProviderError{
		Provider: p,
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("message %s not found", messageID),
	}
}

// NewRateLimit reports backend throttling.
func NewRateLimit(p domain.ProviderType, err error) *ProviderError {
	return &ProviderError{
		Provider:  p,
		Code:      ErrCodeRateLimit,
		Message:   "rate limit exceeded, retry later",
		Err:       err,
		Retryable: true,
	}
}

// NewTransport reports a network-level failure (dial, TLS, timeout).
func NewTransport(p domain.ProviderType, err error) *ProviderError {
	return &ProviderError{
		Provider:  p,
		Code:      ErrCodeTransport,
		Message:   "connection to provider failed",
		Err:       err,
		Retryable: true,
	}
}

// NewUnsupported reports an operation the protocol cannot perform.
func NewUnsupported(p domain.ProviderType, operation string) *ProviderError {
	return &ProviderError{
		Provider: p,
		Code:     ErrCodeUnsupported,
		Message:  fmt.Sprintf("%s does not support %s", p, operation),
	}
}

// NewServerError reports an uncategorized backend failure.
func NewServerError(p domain.ProviderType, err error) *ProviderError {
	return &ProviderError{
		Provider: p,
		Code:     ErrCodeServer,
		Message:  "provider returned an error",
		Err:      err,
	}
}

// AsProviderError extracts a *ProviderError from err, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
