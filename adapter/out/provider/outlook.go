package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/httputil"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/logger"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// OutlookProvider implements out.EmailProvider over Microsoft Graph.
type OutlookProvider struct {
	accessToken string
	client      *http.Client
	cb          *gobreaker.CircuitBreaker
}

// NewOutlookProvider builds an Outlook provider from a credential
// bundle containing access_token.
func NewOutlookProvider(creds domain.Credentials) *OutlookProvider {
	cbSettings := gobreaker.Settings{
		Name:        "graph-api",
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

	return &OutlookProvider{
		accessToken: creds.Get("access_token"),
		client:      httputil.GraphClient(),
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// ProviderType returns the provider tag.
func (p *OutlookProvider) ProviderType() domain.ProviderType {
	return domain.ProviderOutlook
}

// graphMessage is the subset of the Graph message resource we read.
type graphMessage struct {
	ID               string           `json:"id"`
	ConversationID   string           `json:"conversationId"`
	Subject          string           `json:"subject"`
	BodyPreview      string           `json:"bodyPreview"`
	Body             graphBody        `json:"body"`
	From             graphRecipient   `json:"from"`
	ToRecipients     []graphRecipient `json:"toRecipients"`
	CcRecipients     []graphRecipient `json:"ccRecipients"`
	IsRead           bool             `json:"isRead"`
	ReceivedDateTime string           `json:"receivedDateTime"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ListEmails lists messages in a well-known or named mail folder.
func (p *OutlookProvider) ListEmails(ctx context.Context, folder string, limit int, pageToken string) (*domain.EmailPage, error) {
	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", limit))
	params.Set("$orderby", "receivedDateTime desc")
	if pageToken != "" {
		params.Set("$skip", pageToken)
	}

	var resp struct {
		Value    []graphMessage `json:"value"`
		NextLink string         `json:"@odata.nextLink"`
	}
	endpoint := fmt.Sprintf("%s/me/mailFolders/%s/messages?%s", graphBaseURL, url.PathEscape(folder), params.Encode())
	if err := p.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	emails := make([]domain.EmailSummary, len(resp.Value))
	for i, m := range resp.Value {
		emails[i] = graphToSummary(&m)
	}
	return &domain.EmailPage{
		Emails:        emails,
		Count:         len(emails),
		NextPageToken: skipTokenFromLink(resp.NextLink),
	}, nil
}

// ReadEmail retrieves a full message.
func (p *OutlookProvider) ReadEmail(ctx context.Context, messageID string) (*domain.EmailMessage, error) {
	var msg graphMessage
	endpoint := graphBaseURL + "/me/messages/" + url.PathEscape(messageID)
	if err := p.doJSON(ctx, http.MethodGet, endpoint, nil, &msg); err != nil {
		return nil, err
	}
	return graphToEmailMessage(&msg), nil
}

// SendEmail creates a draft and submits it, so the caller gets a
// message ID back. /me/sendMail alone returns 202 without a body.
func (p *OutlookProvider) SendEmail(ctx context.Context, msg *domain.OutgoingEmail) (*domain.SendResult, error) {
	var draft struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversationId"`
	}
	if err := p.doJSON(ctx, http.MethodPost, graphBaseURL+"/me/messages", buildGraphMessage(msg), &draft); err != nil {
		return nil, err
	}

	endpoint := graphBaseURL + "/me/messages/" + url.PathEscape(draft.ID) + "/send"
	if err := p.doJSON(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		return nil, err
	}

	return &domain.SendResult{MessageID: draft.ID, ThreadID: draft.ConversationID}, nil
}

// ReplyEmail uses the native /reply and /replyAll actions.
func (p *OutlookProvider) ReplyEmail(ctx context.Context, messageID, body string, replyAll, html bool) (*domain.SendResult, error) {
	action := "/reply"
	if replyAll {
		action = "/replyAll"
	}

	payload := map[string]string{"comment": body}
	endpoint := graphBaseURL + "/me/messages/" + url.PathEscape(messageID) + action
	if err := p.doJSON(ctx, http.MethodPost, endpoint, payload, nil); err != nil {
		return nil, err
	}
	return &domain.SendResult{MessageID: messageID}, nil
}

// ForwardEmail uses the native /forward action.
func (p *OutlookProvider) ForwardEmail(ctx context.Context, messageID string, to []string, comment string) (*domain.SendResult, error) {
	recipients := make([]map[string]any, len(to))
	for i, addr := range to {
		recipients[i] = map[string]any{
			"emailAddress": map[string]string{"address": addr},
		}
	}
	payload := map[string]any{
		"comment":      comment,
		"toRecipients": recipients,
	}

	endpoint := graphBaseURL + "/me/messages/" + url.PathEscape(messageID) + "/forward"
	if err := p.doJSON(ctx, http.MethodPost, endpoint, payload, nil); err != nil {
		return nil, err
	}
	return &domain.SendResult{MessageID: messageID}, nil
}

// DeleteEmail moves a message to Deleted Items.
func (p *OutlookProvider) DeleteEmail(ctx context.Context, messageID string) (*domain.ModifyResult, error) {
	endpoint := graphBaseURL + "/me/messages/" + url.PathEscape(messageID)
	if err := p.doJSON(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return nil, err
	}
	return &domain.ModifyResult{MessageID: messageID, Status: domain.StatusTrashed}, nil
}

// SearchEmails uses Graph $search. $orderby cannot be combined with it.
func (p *OutlookProvider) SearchEmails(ctx context.Context, query string, limit int) (*domain.EmailPage, error) {
	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", limit))
	params.Set("$search", fmt.Sprintf("%q", query))

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	if err := p.doJSON(ctx, http.MethodGet, graphBaseURL+"/me/messages?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	emails := make([]domain.EmailSummary, len(resp.Value))
	for i, m := range resp.Value {
		emails[i] = graphToSummary(&m)
	}
	return &domain.EmailPage{Emails: emails, Count: len(emails)}, nil
}

// MarkRead patches the isRead flag.
func (p *OutlookProvider) MarkRead(ctx context.Context, messageID string, read bool) (*domain.ModifyResult, error) {
	endpoint := graphBaseURL + "/me/messages/" + url.PathEscape(messageID)
	if err := p.doJSON(ctx, http.MethodPatch, endpoint, map[string]bool{"isRead": read}, nil); err != nil {
		return nil, err
	}
	status := domain.StatusUnread
	if read {
		status = domain.StatusRead
	}
	return &domain.ModifyResult{MessageID: messageID, Status: status}, nil
}

// Folders lists the account's mail folders.
func (p *OutlookProvider) Folders(ctx context.Context) ([]string, error) {
	var resp struct {
		Value []struct {
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	if err := p.doJSON(ctx, http.MethodGet, graphBaseURL+"/me/mailFolders?$top=50", nil, &resp); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(resp.Value))
	for _, f := range resp.Value {
		names = append(names, f.DisplayName)
	}
	if len(names) == 0 {
		return domain.DefaultFolders(domain.ProviderOutlook), nil
	}
	return names, nil
}

// doJSON performs a Graph request through the circuit breaker,
// decoding a JSON response into result when non-nil.
func (p *OutlookProvider) doJSON(ctx context.Context, method, endpoint string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return out.NewServerError(domain.ProviderOutlook, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return out.NewServerError(domain.ProviderOutlook, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var resp *http.Response
	_, cbErr := p.cb.Execute(func() (interface{}, error) {
		var doErr error
		resp, doErr = p.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("graph returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	if resp == nil {
		return out.NewTransport(domain.ProviderOutlook, cbErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return wrapGraphStatus(resp.StatusCode, string(respBody))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return out.NewServerError(domain.ProviderOutlook, err)
		}
	}
	return nil
}

func wrapGraphStatus(statusCode int, body string) error {
	switch statusCode {
	case 401:
		return out.NewAuthExpired(domain.ProviderOutlook, fmt.Errorf("graph: %s", body))
	case 403:
		return out.NewInsufficientScope(domain.ProviderOutlook, "this operation")
	case 404:
		return out.NewNotFound(domain.ProviderOutlook, "")
	case 429:
		return out.NewRateLimit(domain.ProviderOutlook, fmt.Errorf("graph: %s", body))
	default:
		return out.NewServerError(domain.ProviderOutlook, fmt.Errorf("graph HTTP %d: %s", statusCode, body))
	}
}

func buildGraphMessage(msg *domain.OutgoingEmail) map[string]any {
	contentType := "text"
	if msg.HTML {
		contentType = "html"
	}

	result := map[string]any{
		"subject": msg.Subject,
		"body": map[string]string{
			"contentType": contentType,
			"content":     msg.Body,
		},
		"toRecipients": graphRecipients(msg.To),
	}
	if len(msg.CC) > 0 {
		result["ccRecipients"] = graphRecipients(msg.CC)
	}
	if len(msg.BCC) > 0 {
		result["bccRecipients"] = graphRecipients(msg.BCC)
	}
	return result
}

func graphRecipients(addrs []string) []map[string]any {
	recipients := make([]map[string]any, len(addrs))
	for i, addr := range addrs {
		recipients[i] = map[string]any{
			"emailAddress": map[string]string{"address": addr},
		}
	}
	return recipients
}

func graphToSummary(m *graphMessage) domain.EmailSummary {
	return domain.EmailSummary{
		ID:      m.ID,
		From:    formatGraphAddress(m.From),
		Subject: m.Subject,
		Date:    formatGraphDate(m.ReceivedDateTime),
		Snippet: m.BodyPreview,
	}
}

func graphToEmailMessage(m *graphMessage) *domain.EmailMessage {
	to := make([]string, len(m.ToRecipients))
	for i, r := range m.ToRecipients {
		to[i] = r.EmailAddress.Address
	}
	var cc []string
	for _, r := range m.CcRecipients {
		cc = append(cc, r.EmailAddress.Address)
	}

	return &domain.EmailMessage{
		ID:      m.ID,
		From:    formatGraphAddress(m.From),
		To:      to,
		CC:      cc,
		Subject: m.Subject,
		Date:    formatGraphDate(m.ReceivedDateTime),
		Body:    m.Body.Content,
	}
}

func formatGraphAddress(r graphRecipient) string {
	if r.EmailAddress.Name != "" {
		return fmt.Sprintf("%s <%s>", r.EmailAddress.Name, r.EmailAddress.Address)
	}
	return r.EmailAddress.Address
}

func formatGraphDate(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return domain.FormatDate(t)
	}
	return s
}

func skipTokenFromLink(nextLink string) string {
	if nextLink == "" {
		return ""
	}
	u, err := url.Parse(nextLink)
	if err != nil {
		return ""
	}
	if skip := u.Query().Get("$skip"); skip != "" {
		return skip
	}
	return u.Query().Get("$skiptoken")
}

var _ out.EmailProvider = (*OutlookProvider)(nil)
