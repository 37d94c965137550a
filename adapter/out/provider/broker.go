package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"google.golang.org/api/gmail/v1"

	"github.com/kamiwaza-drew/tool-email-mcp/adapter/out/provider/mailproto"
	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/httputil"
)

// BrokerProvider implements out.EmailProvider against an OAuth broker
// that proxies the Gmail REST surface. Every call is a POST to
// {broker}/proxy/google/gmail/{endpoint} with a bearer token; the
// broker answers with the upstream Gmail JSON unchanged.
type BrokerProvider struct {
	brokerURL      string
	installationID string
	toolID         string
	token          string
	tokenFile      string
	client         *http.Client
	email          string
}

// NewBrokerProvider builds a broker provider from a credential bundle:
// auth_token_or_file, broker_url, installation_id, tool_id. When
// auth_token_or_file names an existing file, the token is re-read from
// it on every call so rotating access tokens keep working.
func NewBrokerProvider(creds domain.Credentials) *BrokerProvider {
	p := &BrokerProvider{
		brokerURL:      strings.TrimRight(creds.Get("broker_url"), "/"),
		installationID: creds.Get("installation_id"),
		toolID:         creds.Get("tool_id"),
		client:         httputil.BrokerClient(),
		email:          "me",
	}

	tokenOrFile := creds.Get("auth_token_or_file")
	if info, err := os.Stat(tokenOrFile); err == nil && !info.IsDir() {
		p.tokenFile = tokenOrFile
	} else {
		p.token = tokenOrFile
	}
	return p
}

// ProviderType returns the provider tag.
func (p *BrokerProvider) ProviderType() domain.ProviderType {
	return domain.ProviderBroker
}

// ListEmails lists messages in a folder (a Gmail label).
func (p *BrokerProvider) ListEmails(ctx context.Context, folder string, limit int, pageToken string) (*domain.EmailPage, error) {
	params := url.Values{}
	params.Set("labelIds", strings.ToUpper(folder))
	params.Set("maxResults", strconv.Itoa(limit))
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	var resp gmail.ListMessagesResponse
	if err := p.call(ctx, "users/me/messages", params, nil, &resp); err != nil {
		return nil, err
	}
	return p.collectPage(ctx, &resp)
}

// ReadEmail retrieves a full message.
func (p *BrokerProvider) ReadEmail(ctx context.Context, messageID string) (*domain.EmailMessage, error) {
	params := url.Values{}
	params.Set("format", "full")

	var msg gmail.Message
	if err := p.call(ctx, "users/me/messages/"+url.PathEscape(messageID), params, nil, &msg); err != nil {
		return nil, err
	}
	return gmailToEmailMessage(&msg), nil
}

// SendEmail sends a raw RFC 5322 message through the proxy.
func (p *BrokerProvider) SendEmail(ctx context.Context, msg *domain.OutgoingEmail) (*domain.SendResult, error) {
	return p.send(ctx, msg, "", "", nil)
}

// ReplyEmail replies in the original thread.
func (p *BrokerProvider) ReplyEmail(ctx context.Context, messageID, body string, replyAll, html bool) (*domain.SendResult, error) {
	var original gmail.Message
	params := url.Values{}
	params.Set("format", "full")
	if err := p.call(ctx, "users/me/messages/"+url.PathEscape(messageID), params, nil, &original); err != nil {
		return nil, err
	}
	em := gmailToEmailMessage(&original)

	to := []string{extractAddress(em.From)}
	var cc []string
	if replyAll {
		for _, addr := range append(em.To, em.CC...) {
			a := extractAddress(addr)
			if a != "" && !strings.EqualFold(a, to[0]) {
				cc = append(cc, a)
			}
		}
	}

	reply := &domain.OutgoingEmail{
		To:      to,
		CC:      cc,
		Subject: domain.ReplySubject(em.Subject),
		Body:    body,
		HTML:    html,
	}
	return p.send(ctx, reply, original.ThreadId, headerValue(&original, "Message-Id"), strings.Fields(headerValue(&original, "References")))
}

// ForwardEmail forwards a message with the standard forwarded body.
func (p *BrokerProvider) ForwardEmail(ctx context.Context, messageID string, to []string, comment string) (*domain.SendResult, error) {
	original, err := p.ReadEmail(ctx, messageID)
	if err != nil {
		return nil, err
	}

	fwd := &domain.OutgoingEmail{
		To:      to,
		Subject: domain.ForwardSubject(original.Subject),
		Body:    domain.BuildForwardBody(comment, original),
	}
	return p.send(ctx, fwd, "", "", nil)
}

// DeleteEmail moves a message to trash.
func (p *BrokerProvider) DeleteEmail(ctx context.Context, messageID string) (*domain.ModifyResult, error) {
	if err := p.call(ctx, "users/me/messages/"+url.PathEscape(messageID)+"/trash", nil, nil, nil); err != nil {
		return nil, err
	}
	return &domain.ModifyResult{MessageID: messageID, Status: domain.StatusTrashed}, nil
}

// SearchEmails searches with Gmail's native query syntax.
func (p *BrokerProvider) SearchEmails(ctx context.Context, query string, limit int) (*domain.EmailPage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(limit))

	var resp gmail.ListMessagesResponse
	if err := p.call(ctx, "users/me/messages", params, nil, &resp); err != nil {
		return nil, err
	}
	return p.collectPage(ctx, &resp)
}

// MarkRead toggles the UNREAD label.
func (p *BrokerProvider) MarkRead(ctx context.Context, messageID string, read bool) (*domain.ModifyResult, error) {
	body := map[string][]string{"addLabelIds": {"UNREAD"}}
	status := domain.StatusUnread
	if read {
		body = map[string][]string{"removeLabelIds": {"UNREAD"}}
		status = domain.StatusRead
	}

	if err := p.call(ctx, "users/me/messages/"+url.PathEscape(messageID)+"/modify", nil, body, nil); err != nil {
		return nil, err
	}
	return &domain.ModifyResult{MessageID: messageID, Status: status}, nil
}

// Folders returns the static Gmail folder preset. The broker exposes
// no label metadata endpoint.
func (p *BrokerProvider) Folders(ctx context.Context) ([]string, error) {
	return domain.DefaultFolders(domain.ProviderBroker), nil
}

func (p *BrokerProvider) send(ctx context.Context, msg *domain.OutgoingEmail, threadID, inReplyTo string, references []string) (*domain.SendResult, error) {
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
	if inReplyTo != "" {
		opts.InReplyTo = inReplyTo
		opts.References = append(references, inReplyTo)
	}

	raw, err := mailproto.BuildMessage(opts)
	if err != nil {
		return nil, out.NewServerError(domain.ProviderBroker, err)
	}

	body := map[string]string{
		"raw": base64.URLEncoding.EncodeToString(raw.Bytes()),
	}
	if threadID != "" {
		body["threadId"] = threadID
	}

	var sent gmail.Message
	if err := p.call(ctx, "users/me/messages/send", nil, body, &sent); err != nil {
		return nil, err
	}
	return &domain.SendResult{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// collectPage fetches metadata for each listed message reference.
func (p *BrokerProvider) collectPage(ctx context.Context, resp *gmail.ListMessagesResponse) (*domain.EmailPage, error) {
	emails := make([]domain.EmailSummary, 0, len(resp.Messages))
	for _, ref := range resp.Messages {
		params := url.Values{}
		params.Set("format", "metadata")

		var msg gmail.Message
		if err := p.call(ctx, "users/me/messages/"+url.PathEscape(ref.Id), params, nil, &msg); err != nil {
			continue
		}
		emails = append(emails, *gmailToSummary(&msg))
	}

	return &domain.EmailPage{
		Emails:        emails,
		Count:         len(emails),
		NextPageToken: resp.NextPageToken,
	}, nil
}

// bearerToken returns the current token, re-reading the token file
// when one was configured.
func (p *BrokerProvider) bearerToken() (string, error) {
	if p.tokenFile == "" {
		return p.token, nil
	}
	data, err := os.ReadFile(p.tokenFile)
	if err != nil {
		return "", fmt.Errorf("reading broker token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// call POSTs to the broker proxy endpoint and decodes the upstream
// Gmail JSON response.
func (p *BrokerProvider) call(ctx context.Context, endpoint string, params url.Values, body, result any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("app_id", p.installationID)
	params.Set("tool_id", p.toolID)

	endpointURL := fmt.Sprintf("%s/proxy/google/gmail/%s?%s", p.brokerURL, endpoint, params.Encode())

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return out.NewServerError(domain.ProviderBroker, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, reqBody)
	if err != nil {
		return out.NewServerError(domain.ProviderBroker, err)
	}
	token, err := p.bearerToken()
	if err != nil {
		return out.NewAuthExpired(domain.ProviderBroker, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return out.NewTransport(domain.ProviderBroker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return wrapBrokerStatus(resp.StatusCode, string(respBody))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return out.NewServerError(domain.ProviderBroker, err)
		}
	}
	return nil
}

func wrapBrokerStatus(statusCode int, body string) error {
	switch statusCode {
	case 401:
		return out.NewAuthExpired(domain.ProviderBroker, fmt.Errorf("broker: %s", body))
	case 403:
		return out.NewInsufficientScope(domain.ProviderBroker, "this operation")
	case 404:
		return out.NewNotFound(domain.ProviderBroker, "")
	case 429:
		return out.NewRateLimit(domain.ProviderBroker, fmt.Errorf("broker: %s", body))
	default:
		return out.NewServerError(domain.ProviderBroker, fmt.Errorf("broker HTTP %d: %s", statusCode, body))
	}
}

var _ out.EmailProvider = (*BrokerProvider)(nil)
