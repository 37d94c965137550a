// Package security validates untrusted tool input before it reaches
// any provider backend. All validators are pure and perform no I/O.
package security

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Validation failure categories. Calling code branches on the
// category, not the message text.
const (
	CategoryEmpty            = "empty"
	CategoryTooLong          = "too_long"
	CategoryInvalidFormat    = "invalid_format"
	CategoryDangerousContent = "dangerous_content"
	CategoryLimitExceeded    = "limit_exceeded"
)

// Policy limits.
const (
	MaxEmailLength     = 320
	MaxSubjectLength   = 998
	MaxBodyLength      = 10_000_000
	MaxMessageIDLength = 1024
	MaxLabelLength     = 255
	MaxQueryLength     = 1000
	MaxAddressCount    = 100
	MaxCCCount         = 50
	MaxBCCCount        = 50
	MaxPageSize        = 100
	MaxAttachmentSize  = 25_000_000
)

// ValidationError carries a stable category plus a human-readable reason.
type ValidationError struct {
	Category string
	Message  string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newError(category, format string, args ...any) *ValidationError {
	return &ValidationError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

var (
	emailPattern     = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	messageIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-.=@]+$`)
	displayNameAddr  = regexp.MustCompile(`<([^<>]+)>\s*$`)

	// Markup that must never reach a backend, matched case-insensitively.
	dangerousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?i)<iframe[^>]*>`),
		regexp.MustCompile(`(?i)<embed[^>]*>`),
		regexp.MustCompile(`(?i)<object[^>]*>`),
	}

	queryDenylist = []string{"<script", "javascript:", "<iframe"}

	// Default-deny MIME allow-list. Executable and script types are
	// blocked by construction.
	allowedMimeTypes = map[string]struct{}{
		"application/pdf":    {},
		"application/msword": {},
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
		"application/vnd.ms-excel": {},
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
		"application/vnd.ms-powerpoint":                                     {},
		"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
		"text/plain":      {},
		"text/csv":        {},
		"image/jpeg":      {},
		"image/png":       {},
		"image/gif":       {},
		"application/zip": {},
	}
)

// Manager applies the validation policy. It is stateless and safe for
// concurrent use.
type Manager struct{}

// NewManager creates a security manager.
func NewManager() *Manager {
	return &Manager{}
}

// ValidateAddress normalizes and validates a single email address.
// Display-name forms like "John Doe <john@example.com>" are reduced to
// the bare address. The result is trimmed and lowercased.
func (m *Manager) ValidateAddress(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if match := displayNameAddr.FindStringSubmatch(addr); match != nil {
		addr = strings.TrimSpace(match[1])
	}
	addr = strings.ToLower(addr)

	if addr == "" {
		return "", newError(CategoryEmpty, "email address is empty")
	}
	if len(addr) > MaxEmailLength {
		return "", newError(CategoryTooLong, "email address exceeds %d characters", MaxEmailLength)
	}
	if !emailPattern.MatchString(addr) {
		return "", newError(CategoryInvalidFormat, "invalid email address: %s", addr)
	}
	return addr, nil
}

// ValidateAddressList validates every address in raws. Any single
// invalid element fails the whole call.
func (m *Manager) ValidateAddressList(raws []string, maxCount int) ([]string, error) {
	if maxCount <= 0 {
		maxCount = MaxAddressCount
	}
	if len(raws) == 0 {
		return nil, newError(CategoryEmpty, "recipient list is empty")
	}
	if len(raws) > maxCount {
		return nil, newError(CategoryLimitExceeded, "recipient list exceeds %d addresses", maxCount)
	}

	validated := make([]string, 0, len(raws))
	for _, raw := range raws {
		addr, err := m.ValidateAddress(raw)
		if err != nil {
			return nil, err
		}
		validated = append(validated, addr)
	}
	return validated, nil
}

// ValidateSubject validates a subject line. CR and LF are rejected to
// block header injection into the transport.
func (m *Manager) ValidateSubject(raw string) (string, error) {
	subject := strings.TrimSpace(raw)
	if subject == "" {
		return "", newError(CategoryEmpty, "subject is empty")
	}
	if len(subject) > MaxSubjectLength {
		return "", newError(CategoryTooLong, "subject exceeds %d characters", MaxSubjectLength)
	}
	if strings.ContainsAny(subject, "\r\n") {
		return "", newError(CategoryInvalidFormat, "subject must not contain line breaks")
	}
	return subject, nil
}

// ValidateBody validates a message body. The dangerous-pattern check
// always runs first; only after it passes is a non-HTML body
// entity-escaped.
func (m *Manager) ValidateBody(raw string, allowHTML bool) (string, error) {
	if raw == "" {
		return "", newError(CategoryEmpty, "body is empty")
	}
	if len(raw) > MaxBodyLength {
		return "", newError(CategoryTooLong, "body exceeds %d characters", MaxBodyLength)
	}
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(raw) {
			return "", newError(CategoryDangerousContent, "body contains potentially dangerous content")
		}
	}
	if !allowHTML && strings.ContainsAny(raw, "<>") {
		return html.EscapeString(raw), nil
	}
	return raw, nil
}

// ValidateMessageID validates a provider message identifier. The
// character set excludes anything a backend could misinterpret as a
// path or command argument.
func (m *Manager) ValidateMessageID(raw string) (string, error) {
	if raw == "" {
		return "", newError(CategoryEmpty, "message id is empty")
	}
	if len(raw) > MaxMessageIDLength {
		return "", newError(CategoryTooLong, "message id exceeds %d characters", MaxMessageIDLength)
	}
	if !messageIDPattern.MatchString(raw) {
		return "", newError(CategoryInvalidFormat, "message id contains invalid characters")
	}
	return raw, nil
}

// ValidateLabel validates a folder or label name.
func (m *Manager) ValidateLabel(raw string) (string, error) {
	label := strings.TrimSpace(raw)
	if label == "" {
		return "", newError(CategoryEmpty, "label is empty")
	}
	if len(label) > MaxLabelLength {
		return "", newError(CategoryTooLong, "label exceeds %d characters", MaxLabelLength)
	}
	if strings.Contains(label, "..") || strings.ContainsAny(label, `/\`) {
		return "", newError(CategoryInvalidFormat, "label contains path characters")
	}
	return label, nil
}

// ValidateSearchQuery validates a backend search query.
func (m *Manager) ValidateSearchQuery(raw string) (string, error) {
	query := strings.TrimSpace(raw)
	if query == "" {
		return "", newError(CategoryEmpty, "search query is empty")
	}
	if len(query) > MaxQueryLength {
		return "", newError(CategoryTooLong, "search query exceeds %d characters", MaxQueryLength)
	}
	lower := strings.ToLower(query)
	for _, marker := range queryDenylist {
		if strings.Contains(lower, marker) {
			return "", newError(CategoryDangerousContent, "search query contains potentially dangerous content")
		}
	}
	return query, nil
}

// ValidatePagination validates a page size against max (default 100).
func (m *Manager) ValidatePagination(n, max int) (int, error) {
	if max <= 0 {
		max = MaxPageSize
	}
	if n < 1 {
		return 0, newError(CategoryLimitExceeded, "page size must be at least 1")
	}
	if n > max {
		return 0, newError(CategoryLimitExceeded, "page size exceeds maximum of %d", max)
	}
	return n, nil
}

// ValidateAttachmentMime validates an attachment content type against
// the allow-list. Any ";parameter" suffix is stripped before matching.
func (m *Manager) ValidateAttachmentMime(raw string) (string, error) {
	mime := strings.TrimSpace(raw)
	if mime == "" {
		return "", newError(CategoryEmpty, "attachment content type is empty")
	}
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	mime = strings.ToLower(mime)
	if _, ok := allowedMimeTypes[mime]; !ok {
		return "", newError(CategoryInvalidFormat, "attachment content type %s is not allowed", mime)
	}
	return mime, nil
}

// ValidateAttachmentSize validates an attachment size in bytes.
func (m *Manager) ValidateAttachmentSize(size int64) error {
	if size <= 0 {
		return newError(CategoryEmpty, "attachment is empty")
	}
	if size > MaxAttachmentSize {
		return newError(CategoryLimitExceeded, "attachment exceeds %d bytes", MaxAttachmentSize)
	}
	return nil
}

// IsValidationError extracts a *ValidationError from err, if any.
func IsValidationError(err error) (*ValidationError, bool) {
	ve, ok := err.(*ValidationError)
	return ve, ok
}
