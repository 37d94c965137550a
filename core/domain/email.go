package domain

import "time"

// ProviderType identifies a concrete email backend.
type ProviderType string

const (
	ProviderGmail   ProviderType = "gmail"
	ProviderOutlook ProviderType = "outlook"
	ProviderIMAP    ProviderType = "imap"
	ProviderPOP3    ProviderType = "pop3"
	ProviderBroker  ProviderType = "oauth-broker"
)

// KnownProviders lists every provider tag configure accepts.
var KnownProviders = []ProviderType{
	ProviderGmail,
	ProviderOutlook,
	ProviderIMAP,
	ProviderPOP3,
	ProviderBroker,
}

// Credentials is the raw credential bundle supplied at configure time.
// Required keys vary per provider type.
type Credentials map[string]string

// Get returns the value for key, or "" when absent.
func (c Credentials) Get(key string) string {
	return c[key]
}

// GetBool interprets the value for key as a boolean, defaulting to def.
func (c Credentials) GetBool(key string, def bool) bool {
	switch c[key] {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

// EmailSummary is the listing/search row shape.
type EmailSummary struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// EmailMessage is the full message shape returned by read.
type EmailMessage struct {
	ID      string   `json:"id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Date    string   `json:"date"`
	Body    string   `json:"body"`
	Labels  []string `json:"labels,omitempty"`
}

// OutgoingEmail is a fully validated message ready to send.
type OutgoingEmail struct {
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Body    string
	HTML    bool
}

// Recipients returns the combined recipient count across to/cc/bcc.
func (o *OutgoingEmail) Recipients() int {
	return len(o.To) + len(o.CC) + len(o.BCC)
}

// AllRecipients returns every recipient address in to/cc/bcc order.
func (o *OutgoingEmail) AllRecipients() []string {
	all := make([]string, 0, o.Recipients())
	all = append(all, o.To...)
	all = append(all, o.CC...)
	all = append(all, o.BCC...)
	return all
}

// SendResult is returned by send, reply, and forward.
type SendResult struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// ModifyResult is returned by delete and mark-read.
type ModifyResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Modify status values.
const (
	StatusTrashed = "trashed"
	StatusRead    = "read"
	StatusUnread  = "unread"
)

// EmailPage is a page of summaries from list or search.
type EmailPage struct {
	Emails        []EmailSummary `json:"emails"`
	Count         int            `json:"count"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// FormatDate renders a timestamp in the RFC 1123 style providers
// return in listing rows.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC1123Z)
}

// DefaultFolders returns the static folder set for providers without
// a folder metadata call.
func DefaultFolders(p ProviderType) []string {
	switch p {
	case ProviderGmail, ProviderBroker:
		return []string{"INBOX", "SENT", "DRAFT", "SPAM", "TRASH", "IMPORTANT", "STARRED"}
	case ProviderOutlook:
		return []string{"Inbox", "SentItems", "Drafts", "JunkEmail", "DeletedItems"}
	case ProviderPOP3:
		return []string{"INBOX"}
	default:
		return []string{"INBOX"}
	}
}
