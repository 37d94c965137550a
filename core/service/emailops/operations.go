// Package emailops orchestrates tool calls against the active email
// provider. Every operation follows the same three-phase contract:
// check a provider is configured, validate all arguments, then
// delegate to the provider with validated values only.
package emailops

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
	"github.com/kamiwaza-drew/tool-email-mcp/core/service/security"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/apperr"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/logger"
)

// Defaults applied when the caller omits optional arguments.
const (
	DefaultFolder   = "INBOX"
	DefaultLimit    = 50
	DefaultTimeout  = 30 * time.Second
	DefaultMaxRecip = 100
)

// Config tunes orchestrator policy.
type Config struct {
	MaxRecipients int           // combined to+cc+bcc ceiling
	MaxPageSize   int           // pagination upper bound
	CallTimeout   time.Duration // per provider call
}

func (c Config) withDefaults() Config {
	if c.MaxRecipients <= 0 {
		c.MaxRecipients = DefaultMaxRecip
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = security.MaxPageSize
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultTimeout
	}
	return c
}

// Operations holds the currently configured provider and applies
// validation in front of every delegation. The provider handle is the
// only mutable state; it is guarded so a handle swap can never be
// observed half-written.
type Operations struct {
	mu       sync.RWMutex
	provider out.EmailProvider

	factory  out.ProviderFactory
	security *security.Manager
	cfg      Config
	log      *logger.Logger
}

// New creates an orchestrator in the unconfigured state.
func New(factory out.ProviderFactory, sec *security.Manager, cfg Config, log *logger.Logger) *Operations {
	if log == nil {
		log = logger.Default()
	}
	return &Operations{
		factory:  factory,
		security: sec,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// ConfigureResult is the payload of a successful configure call.
type ConfigureResult struct {
	Provider string `json:"provider"`
	Message  string `json:"message"`
}

// ConfigureProvider builds the variant matching providerType and
// installs it as the active handle. Configuration is atomic: on any
// failure the previously configured provider stays active.
func (o *Operations) ConfigureProvider(ctx context.Context, providerType string, creds domain.Credentials) (*ConfigureResult, error) {
	tag := domain.ProviderType(strings.ToLower(strings.TrimSpace(providerType)))

	known := false
	for _, p := range domain.KnownProviders {
		if tag == p {
			known = true
			break
		}
	}
	if !known {
		return nil, apperr.UnknownProvider(providerType)
	}

	provider, err := o.factory.Build(ctx, tag, creds)
	if err != nil {
		o.log.WithError(err).Warn("provider configuration failed: %s", tag)
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, o.translateProviderErr(tag, err)
	}

	o.mu.Lock()
	o.provider = provider
	o.mu.Unlock()

	o.log.WithField("provider", string(tag)).Info("email provider configured")
	return &ConfigureResult{
		Provider: string(tag),
		Message:  "provider configured: " + string(tag),
	}, nil
}

// current returns the active provider, or provider_not_configured.
// This check runs before validation so callers get a consistent error
// regardless of input quality.
func (o *Operations) current() (out.EmailProvider, error) {
	o.mu.RLock()
	p := o.provider
	o.mu.RUnlock()
	if p == nil {
		return nil, apperr.ProviderNotConfigured()
	}
	return p, nil
}

// Configured reports whether a provider is active.
func (o *Operations) Configured() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.provider != nil
}

// ActiveProvider returns the active provider's tag, or "".
func (o *Operations) ActiveProvider() domain.ProviderType {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.provider == nil {
		return ""
	}
	return o.provider.ProviderType()
}

// ListEmails lists messages from a folder.
func (o *Operations) ListEmails(ctx context.Context, folder string, limit int, pageToken string) (*domain.EmailPage, error) {
	p, err := o.current()
	if err != nil {
		return nil, err
	}

	if folder == "" {
		folder = DefaultFolder
	}
	if limit == 0 {
		limit = DefaultLimit
	}

	folder, err = o.security.ValidateLabel(folder)
	if err != nil {
		return nil, validationFailure(err)
	}
	limit, err = o.security.ValidatePagination(limit, o.cfg.MaxPageSize)
	if err != nil {
		return nil, validationFailure(err)
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	page, err := p.ListEmails(ctx, folder, limit, pageToken)
	if err != nil {
		return nil, o.translateProviderErr(p.ProviderType(), err)
	}
	return page, nil
}

// ReadEmail reads a single message in full.
func (o *Operations) ReadEmail(ctx context.Context, messageID string) (*domain.EmailMessage, error) {
	p, err := o.current()
	if err != nil {
		return nil, err
	}

	messageID, err = o.security.ValidateMessageID(messageID)
	if err != nil {
		return nil, validationFailure(err)
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	msg, err := p.ReadEmail(ctx, messageID)
	if err != nil {
		return nil, o.translateProviderErr(p.ProviderType(), err)
	}
	return msg, nil
}

// SendEmail validates every recipient list, the subject, and the body,
// enforces the combined-recipient ceiling, then delegates. The ceiling
// runs after per-list validation because three separately valid lists
// can still add up to a mass-mail pattern.
func (o *Operations) SendEmail(ctx context.Context, to []string, subject, body string, cc, bcc []string, html bool) (*domain.SendResult, error) {
	p, err := o.current()
	if err != nil {
		return nil, err
	}

	msg := &domain.OutgoingEmail{HTML: html}

	msg.To, err = o.security.ValidateAddressList(to, security.MaxAddressCount)
	if err != nil {
		return nil, validationFailure(err)
	}
	if len(cc) > 0 {
		msg.CC, err = o.security.ValidateAddressList(cc, security.MaxCCCount)
		if err != nil {
			return nil, validationFailure(err)
		}
	}
	if len(bcc) > 0 {
		msg.BCC, err = o.security.ValidateAddressList(bcc, security.MaxBCCCount)
		if err != nil {
			return nil, validationFailure(err)
		}
	}
	if msg.Recipients() > o.cfg.MaxRecipients {
		return nil, apperr.ValidationError(
			"combined recipient count exceeds maximum").
			WithDetail("category", security.CategoryLimitExceeded).
			WithDetail("count", msg.Recipients()).
			WithDetail("max", o.cfg.MaxRecipients)
	}

	msg.Subject, err = o.security.ValidateSubject(subject)
	if err != nil {
		return nil, validationFailure(err)
	}
	msg.Body, err = o.security.ValidateBody(body, html)
	if err != nil {
		return nil, validationFailure(err)
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	result, err := p.SendEmail(ctx, msg)
	if err != nil {
		return nil, o.translateProviderErr(p.ProviderType(), err)
	}
	o.log.WithField("provider", string(p.ProviderType())).
		WithField("recipients", msg.Recipients()).
		Info("email sent")
	return result, nil
}

// ReplyEmail replies to a message.
func (o *Operations) ReplyEmail(ctx context.Context, messageID, body string, replyAll, html bool) (*domain.SendResult, error) {
	p, err := o.current()
	if err != nil {
		return nil, err
	}

	messageID, err = o.security.ValidateMessageID(messageID)
	if err != nil {
		return nil, validationFailure(err)
	}
	body, err = o.security.ValidateBody(body, html)
	if err != nil {
		return nil, validationFailure(err)
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	result, err := p.ReplyEmail(ctx, messageID, body, replyAll, html)
	if err != nil {
		return nil, o.translateProviderErr(p.ProviderType(), err)
	}
	return result, nil
}

// ForwardEmail forwards a message to new recipients.
func (o *Operations) ForwardEmail(ctx context.Context, messageID string, to []string, comment string) (*domain.SendResult, error) {
	p, err := o.current()
	if err != nil {
		return nil, err
	}

	messageID, err = o.security.ValidateMessageID(messageID)
	if err != nil {
		return nil, validationFailure(err)
	}
	to, err = o.security.ValidateAddressList(to, security.MaxAddressCount)
	if err != nil {
		return nil, validationFailure(err)
	}
	if comment != "" {
		comment, err = o.security.ValidateBody(comment, false)
		if err != nil {
			return nil, validationFailure(err)
		}
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	result, err := p.ForwardEmail(ctx, messageID, to, comment)
	if err != nil {
		return nil, o.translateProviderErr(p.ProviderType(), err)
	}
	return result, nil
}

// DeleteEmail moves a message to trash (or deletes where the protocol
// has no trash).
func (o *Operations) DeleteEmail(ctx context.Context, messageID string) (*domain.ModifyResult, error) {
	p, err := o.current()
	if err != nil {
		return nil, err
	}

	messageID, err = o.security.ValidateMessageID(messageID)
	if err != nil {
		return nil, validationFailure(err)
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	result, err := p.DeleteEmail(ctx, messageID)
	if err != nil {
		return nil, o.translateProviderErr(p.ProviderType(), err)
	}
	return result, nil
}

// SearchEmails runs a backend-native search query.
func (o *Operations) SearchEmails(ctx context.Context, query string, limit int) (*domain.EmailPage, error) {
	p, err := o.current()
	if err != nil {
		return nil, err
	}

	if limit == 0 {
		limit = DefaultLimit
	}

	query, err = o.security.ValidateSearchQuery(query)
	if err != nil {
		return nil, validationFailure(err)
	}
	limit, err = o.security.ValidatePagination(limit, o.cfg.MaxPageSize)
	if err != nil {
		return nil, validationFailure(err)
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	page, err := p.SearchEmails(ctx, query, limit)
	if err != nil {
		return nil, o.translateProviderErr(p.ProviderType(), err)
	}
	return page, nil
}

// MarkRead sets or clears the read flag on a message.
func (o *Operations) MarkRead(ctx context.Context, messageID string, read bool) (*domain.ModifyResult, error) {
	p, err := o.current()
	if err != nil {
		return nil, err
	}

	messageID, err = o.security.ValidateMessageID(messageID)
	if err != nil {
		return nil, validationFailure(err)
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	result, err := p.MarkRead(ctx, messageID, read)
	if err != nil {
		return nil, o.translateProviderErr(p.ProviderType(), err)
	}
	return result, nil
}

// Folders lists the provider's folders.
func (o *Operations) Folders(ctx context.Context) ([]string, error) {
	p, err := o.current()
	if err != nil {
		return nil, err
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	folders, err := p.Folders(ctx)
	if err != nil {
		return nil, o.translateProviderErr(p.ProviderType(), err)
	}
	return folders, nil
}

func (o *Operations) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.CallTimeout)
}

// validationFailure wraps a security.ValidationError as validation_error.
func validationFailure(err error) error {
	if ve, ok := security.IsValidationError(err); ok {
		return apperr.ValidationError(ve.Message).WithDetail("category", ve.Category)
	}
	return apperr.ValidationError(err.Error())
}

// translateProviderErr converts provider-level failures into the
// uniform error taxonomy. Timeouts surface as transport_error.
func (o *Operations) translateProviderErr(provider domain.ProviderType, err error) error {
	if apperr.IsAppError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.TransportError(string(provider), err).WithDetail("reason", "timeout")
	}
	if pe, ok := out.AsProviderError(err); ok {
		switch pe.Code {
		case out.ErrCodeAuthExpired:
			return apperr.AuthExpired(string(pe.Provider)).WithError(pe)
		case out.ErrCodeInsufficientScope:
			e := apperr.New(apperr.CodeInsufficientScope, pe.Message, 403).WithError(pe)
			e.AuthRequired = true
			return e
		case out.ErrCodeTransport:
			return apperr.TransportError(string(pe.Provider), pe)
		default:
			return apperr.ProviderFailure(string(pe.Provider), pe).
				WithDetail("code", pe.Code).
				WithDetail("retryable", pe.Retryable)
		}
	}
	return apperr.ProviderFailure(string(provider), err)
}
