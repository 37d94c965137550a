// Package provider implements the backend email provider variants.
package provider

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kamiwaza-drew/tool-email-mcp/adapter/out/provider/mailproto"
	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/httputil"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/logger"
)

// GmailProvider implements out.EmailProvider over the Gmail REST API.
type GmailProvider struct {
	service *gmail.Service
	email   string
	cb      *gobreaker.CircuitBreaker
}

// NewGmailProvider builds a Gmail provider from an OAuth credential
// bundle: token, refresh_token, client_id, client_secret.
func NewGmailProvider(ctx context.Context, creds domain.Credentials) (*GmailProvider, error) {
	config := &oauth2.Config{
		ClientID:     creds.Get("client_id"),
		ClientSecret: creds.Get("client_secret"),
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
			gmail.GmailModifyScope,
			gmail.GmailLabelsScope,
		},
		Endpoint: google.Endpoint,
	}
	token := &oauth2.Token{
		AccessToken:  creds.Get("token"),
		RefreshToken: creds.Get("refresh_token"),
		TokenType:    "Bearer",
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	service, err := gmail.NewService(ctx, option.WithTokenSource(config.TokenSource(ctx, token)))
	if err != nil {
		return nil, out.NewTransport(domain.ProviderGmail, err)
	}

	profile, err := service.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, wrapGmailError(err)
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &GmailProvider{
		service: service,
		email:   profile.EmailAddress,
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
	}, nil
}

// ProviderType returns the provider tag.
func (p *GmailProvider) ProviderType() domain.ProviderType {
	return domain.ProviderGmail
}

// Email returns the authenticated account address.
func (p *GmailProvider) Email() string {
	return p.email
}

// ListEmails lists messages in a folder (a Gmail label).
func (p *GmailProvider) ListEmails(ctx context.Context, folder string, limit int, pageToken string) (*domain.EmailPage, error) {
	req := p.service.Users.Messages.List("me").
		LabelIds(strings.ToUpper(folder)).
		MaxResults(int64(limit))
	if pageToken != "" {
		req = req.PageToken(pageToken)
	}

	var resp *gmail.ListMessagesResponse
	err := p.execute(ctx, func() error {
		var callErr error
		resp, callErr = req.Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, wrapGmailError(err)
	}

	summaries := p.fetchSummaries(ctx, resp.Messages)
	return &domain.EmailPage{
		Emails:        summaries,
		Count:         len(summaries),
		NextPageToken: resp.NextPageToken,
	}, nil
}

// ReadEmail retrieves a full message.
func (p *GmailProvider) ReadEmail(ctx context.Context, messageID string) (*domain.EmailMessage, error) {
	var msg *gmail.Message
	err := p.execute(ctx, func() error {
		var callErr error
		msg, callErr = p.service.Users.Messages.Get("me", messageID).
			Format("full").
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return nil, wrapGmailError(err)
	}

	return gmailToEmailMessage(msg), nil
}

// SendEmail sends a message as the authenticated account.
func (p *GmailProvider) SendEmail(ctx context.Context, msg *domain.OutgoingEmail) (*domain.SendResult, error) {
	return p.send(ctx, msg, "", nil)
}

// ReplyEmail replies to an existing message, keeping its thread.
func (p *GmailProvider) ReplyEmail(ctx context.Context, messageID, body string, replyAll, html bool) (*domain.SendResult, error) {
	original, err := p.ReadEmail(ctx, messageID)
	if err != nil {
		return nil, err
	}
	origRaw, err := p.rawMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	to := []string{extractAddress(original.From)}
	var cc []string
	if replyAll {
		for _, addr := range append(original.To, original.CC...) {
			a := extractAddress(addr)
			if a != "" && !strings.EqualFold(a, p.email) && !strings.EqualFold(a, to[0]) {
				cc = append(cc, a)
			}
		}
	}

	reply := &domain.OutgoingEmail{
		To:      to,
		CC:      cc,
		Subject: domain.ReplySubject(original.Subject),
		Body:    body,
		HTML:    html,
	}
	return p.send(ctx, reply, origRaw.ThreadId, origRaw)
}

// ForwardEmail forwards a message to new recipients with an optional
// leading comment.
func (p *GmailProvider) ForwardEmail(ctx context.Context, messageID string, to []string, comment string) (*domain.SendResult, error) {
	original, err := p.ReadEmail(ctx, messageID)
	if err != nil {
		return nil, err
	}

	fwd := &domain.OutgoingEmail{
		To:      to,
		Subject: domain.ForwardSubject(original.Subject),
		Body:    domain.BuildForwardBody(comment, original),
	}
	return p.send(ctx, fwd, "", nil)
}

// DeleteEmail moves a message to trash.
func (p *GmailProvider) DeleteEmail(ctx context.Context, messageID string) (*domain.ModifyResult, error) {
	err := p.execute(ctx, func() error {
		_, callErr := p.service.Users.Messages.Trash("me", messageID).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, wrapGmailError(err)
	}
	return &domain.ModifyResult{MessageID: messageID, Status: domain.StatusTrashed}, nil
}

// SearchEmails searches with Gmail's native query syntax.
func (p *GmailProvider) SearchEmails(ctx context.Context, query string, limit int) (*domain.EmailPage, error) {
	var resp *gmail.ListMessagesResponse
	err := p.execute(ctx, func() error {
		var callErr error
		resp, callErr = p.service.Users.Messages.List("me").
			Q(query).
			MaxResults(int64(limit)).
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return nil, wrapGmailError(err)
	}

	summaries := p.fetchSummaries(ctx, resp.Messages)
	return &domain.EmailPage{
		Emails:        summaries,
		Count:         len(summaries),
		NextPageToken: resp.NextPageToken,
	}, nil
}

// MarkRead toggles the UNREAD label.
func (p *GmailProvider) MarkRead(ctx context.Context, messageID string, read bool) (*domain.ModifyResult, error) {
	mod := &gmail.ModifyMessageRequest{AddLabelIds: []string{"UNREAD"}}
	status := domain.StatusUnread
	if read {
		mod = &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
		status = domain.StatusRead
	}

	err := p.execute(ctx, func() error {
		_, callErr := p.service.Users.Messages.Modify("me", messageID, mod).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, wrapGmailError(err)
	}
	return &domain.ModifyResult{MessageID: messageID, Status: status}, nil
}

// Folders returns the static system label set. User labels are
// addressable through search, but the folder list stays stable.
func (p *GmailProvider) Folders(ctx context.Context) ([]string, error) {
	return domain.DefaultFolders(domain.ProviderGmail), nil
}

// send builds a raw RFC 5322 message and submits it, optionally into
// an existing thread with reply headers taken from origRaw.
func (p *GmailProvider) send(ctx context.Context, msg *domain.OutgoingEmail, threadID string, origRaw *gmail.Message) (*domain.SendResult, error) {
	opts := mailproto.SendOptions{
		From:    mailproto.Address{Email: p.email},
		To:      toMailprotoAddrs(msg.To),
		Cc:      toMailprotoAddrs(msg.CC),
		Bcc:     toMailprotoAddrs(msg.BCC),
		Subject: msg.Subject,
	}
	if msg.HTML {
		opts.HTMLBody = msg.Body
	} else {
		opts.TextBody = msg.Body
	}
	if origRaw != nil {
		if mid := headerValue(origRaw, "Message-Id"); mid != "" {
			opts.InReplyTo = mid
			opts.References = append(strings.Fields(headerValue(origRaw, "References")), mid)
		}
	}

	raw, err := mailproto.BuildMessage(opts)
	if err != nil {
		return nil, out.NewServerError(domain.ProviderGmail, err)
	}

	gm := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw.Bytes()),
		ThreadId: threadID,
	}

	var sent *gmail.Message
	err = p.execute(ctx, func() error {
		var callErr error
		sent, callErr = p.service.Users.Messages.Send("me", gm).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, wrapGmailError(err)
	}

	return &domain.SendResult{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// rawMessage fetches a message with only the reply-relevant headers.
func (p *GmailProvider) rawMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := p.execute(ctx, func() error {
		var callErr error
		msg, callErr = p.service.Users.Messages.Get("me", messageID).
			Format("metadata").
			MetadataHeaders("Message-Id", "References").
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return nil, wrapGmailError(err)
	}
	return msg, nil
}

// fetchSummaries fetches listing rows with bounded concurrency to
// stay under the per-user rate limit.
func (p *GmailProvider) fetchSummaries(ctx context.Context, refs []*gmail.Message) []domain.EmailSummary {
	if len(refs) == 0 {
		return []domain.EmailSummary{}
	}

	const maxConcurrency = 5
	type result struct {
		index   int
		summary *domain.EmailSummary
	}

	results := make(chan result, len(refs))
	semaphore := make(chan struct{}, maxConcurrency)

	for i, ref := range refs {
		go func(idx int, msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			msg, err := p.service.Users.Messages.Get("me", msgID).
				Format("metadata").
				MetadataHeaders("From", "To", "Subject", "Date").
				Context(ctx).
				Do()
			if err != nil {
				results <- result{index: idx}
				return
			}
			results <- result{index: idx, summary: gmailToSummary(msg)}
		}(i, ref.Id)
	}

	ordered := make([]*domain.EmailSummary, len(refs))
	for range refs {
		r := <-results
		ordered[r.index] = r.summary
	}

	summaries := make([]domain.EmailSummary, 0, len(refs))
	for _, s := range ordered {
		if s != nil {
			summaries = append(summaries, *s)
		}
	}
	return summaries
}

// execute wraps an API call in the circuit breaker. Client errors
// (4xx except 429) must not trip the circuit.
func (p *GmailProvider) execute(ctx context.Context, fn func() error) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return out.NewTransport(domain.ProviderGmail, err)
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func wrapGmailError(err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := out.AsProviderError(err); ok {
		return pe
	}

	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return out.NewAuthExpired(domain.ProviderGmail, err)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return out.NewRateLimit(domain.ProviderGmail, err)
			}
			return out.NewInsufficientScope(domain.ProviderGmail, "this operation")
		case 404:
			return out.NewNotFound(domain.ProviderGmail, "")
		case 429:
			return out.NewRateLimit(domain.ProviderGmail, err)
		case 500, 502, 503:
			return out.NewServerError(domain.ProviderGmail, err)
		}
	}
	return out.NewTransport(domain.ProviderGmail, err)
}

func gmailToSummary(msg *gmail.Message) *domain.EmailSummary {
	s := &domain.EmailSummary{
		ID:      msg.Id,
		Snippet: msg.Snippet,
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				s.From = h.Value
			case "To":
				s.To = h.Value
			case "Subject":
				s.Subject = h.Value
			case "Date":
				s.Date = h.Value
			}
		}
	}
	if s.Date == "" && msg.InternalDate > 0 {
		s.Date = domain.FormatDate(time.Unix(msg.InternalDate/1000, 0))
	}
	return s
}

func gmailToEmailMessage(msg *gmail.Message) *domain.EmailMessage {
	em := &domain.EmailMessage{
		ID:     msg.Id,
		Labels: msg.LabelIds,
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				em.From = h.Value
			case "To":
				em.To = splitAddressHeader(h.Value)
			case "Cc":
				em.CC = splitAddressHeader(h.Value)
			case "Subject":
				em.Subject = h.Value
			case "Date":
				em.Date = h.Value
			}
		}
		html, text := gmailBody(msg.Payload)
		if text != "" {
			em.Body = text
		} else {
			em.Body = html
		}
	}
	if em.Date == "" && msg.InternalDate > 0 {
		em.Date = domain.FormatDate(time.Unix(msg.InternalDate/1000, 0))
	}
	return em
}

func gmailBody(payload *gmail.MessagePart) (html, text string) {
	if payload == nil {
		return "", ""
	}

	if payload.Body != nil && payload.Body.Data != "" {
		data, _ := base64.URLEncoding.DecodeString(payload.Body.Data)
		switch payload.MimeType {
		case "text/html":
			html = string(data)
		case "text/plain":
			text = string(data)
		}
	}

	for _, part := range payload.Parts {
		h, t := gmailBody(part)
		if html == "" {
			html = h
		}
		if text == "" {
			text = t
		}
	}
	return html, text
}

func headerValue(msg *gmail.Message, name string) string {
	if msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func splitAddressHeader(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		addrs = append(addrs, strings.TrimSpace(p))
	}
	return addrs
}

// extractAddress strips a display name, returning the bare address.
func extractAddress(value string) string {
	value = strings.TrimSpace(value)
	if start := strings.LastIndex(value, "<"); start >= 0 {
		if end := strings.Index(value[start:], ">"); end > 0 {
			return value[start+1 : start+end]
		}
	}
	return value
}

func toMailprotoAddrs(addrs []string) []mailproto.Address {
	list := make([]mailproto.Address, len(addrs))
	for i, a := range addrs {
		list[i] = mailproto.Address{Email: a}
	}
	return list
}

var _ out.EmailProvider = (*GmailProvider)(nil)
