package provider

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/kamiwaza-drew/tool-email-mcp/adapter/out/provider/mailproto"
	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
)

// IMAPProvider implements out.EmailProvider over IMAP for mailbox
// access and SMTP for submission. Message IDs are IMAP UIDs within
// the most recently listed folder.
type IMAPProvider struct {
	imap *mailproto.IMAPClient
	smtp *mailproto.SMTPClient
	from string

	mu     sync.Mutex
	folder string
}

// NewIMAPProvider builds an IMAP provider from a credential bundle:
// username, password, host, port, smtp_host, smtp_port, use_ssl.
func NewIMAPProvider(creds domain.Credentials) (*IMAPProvider, error) {
	port, err := strconv.Atoi(creds.Get("port"))
	if err != nil {
		port = 993
	}
	smtpPort, err := strconv.Atoi(creds.Get("smtp_port"))
	if err != nil {
		smtpPort = 587
	}
	useSSL := creds.GetBool("use_ssl", true)

	imapClient := mailproto.NewIMAPClient(mailproto.IMAPConfig{
		Host:     creds.Get("host"),
		Port:     port,
		Username: creds.Get("username"),
		Password: creds.Get("password"),
		SSL:      useSSL,
		StartTLS: !useSSL,
	})
	smtpClient := mailproto.NewSMTPClient(mailproto.SMTPConfig{
		Host:     creds.Get("smtp_host"),
		Port:     smtpPort,
		Username: creds.Get("username"),
		Password: creds.Get("password"),
		SSL:      useSSL && smtpPort == 465,
		StartTLS: smtpPort != 465,
	})

	p := &IMAPProvider{
		imap:   imapClient,
		smtp:   smtpClient,
		from:   creds.Get("username"),
		folder: "INBOX",
	}

	// Verify the mailbox credentials before the provider is handed out.
	if err := imapClient.Connect(); err != nil {
		return nil, wrapIMAPError(domain.ProviderIMAP, err)
	}
	imapClient.Close()

	return p, nil
}

// ProviderType returns the provider tag.
func (p *IMAPProvider) ProviderType() domain.ProviderType {
	return domain.ProviderIMAP
}

func (p *IMAPProvider) currentFolder() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.folder
}

func (p *IMAPProvider) setFolder(folder string) {
	p.mu.Lock()
	p.folder = folder
	p.mu.Unlock()
}

// ListEmails lists the newest messages in a folder. IMAP has no
// opaque page cursor, so pageToken carries the numeric offset.
func (p *IMAPProvider) ListEmails(ctx context.Context, folder string, limit int, pageToken string) (*domain.EmailPage, error) {
	if folder == "" {
		folder = "INBOX"
	}
	p.setFolder(folder)

	msgs, total, err := p.imap.FetchEnvelopes(folder, limit)
	if err != nil {
		return nil, wrapIMAPError(domain.ProviderIMAP, err)
	}

	emails := make([]domain.EmailSummary, len(msgs))
	for i, m := range msgs {
		emails[i] = mailprotoToSummary(m)
	}

	page := &domain.EmailPage{Emails: emails, Count: len(emails)}
	if total > len(emails) {
		page.NextPageToken = strconv.Itoa(len(emails))
	}
	return page, nil
}

// ReadEmail fetches a full message by UID.
func (p *IMAPProvider) ReadEmail(ctx context.Context, messageID string) (*domain.EmailMessage, error) {
	uid, err := parseUID(domain.ProviderIMAP, messageID)
	if err != nil {
		return nil, err
	}

	msg, err := p.imap.FetchMessage(p.currentFolder(), uid)
	if err != nil {
		return nil, wrapIMAPError(domain.ProviderIMAP, err)
	}
	return mailprotoToEmailMessage(msg), nil
}

// SendEmail submits a message over SMTP.
func (p *IMAPProvider) SendEmail(ctx context.Context, msg *domain.OutgoingEmail) (*domain.SendResult, error) {
	return smtpSend(domain.ProviderIMAP, p.smtp, p.from, msg, "", nil)
}

// ReplyEmail fetches the original for its sender, subject, and
// threading headers, then submits the reply over SMTP.
func (p *IMAPProvider) ReplyEmail(ctx context.Context, messageID, body string, replyAll, html bool) (*domain.SendResult, error) {
	uid, err := parseUID(domain.ProviderIMAP, messageID)
	if err != nil {
		return nil, err
	}
	original, err := p.imap.FetchMessage(p.currentFolder(), uid)
	if err != nil {
		return nil, wrapIMAPError(domain.ProviderIMAP, err)
	}

	reply := buildReply(original, body, replyAll, html, p.from)
	return smtpSend(domain.ProviderIMAP, p.smtp, p.from, reply, original.MessageID, original.References)
}

// ForwardEmail composes the standard forwarded-message body and sends
// it to the new recipients.
func (p *IMAPProvider) ForwardEmail(ctx context.Context, messageID string, to []string, comment string) (*domain.SendResult, error) {
	uid, err := parseUID(domain.ProviderIMAP, messageID)
	if err != nil {
		return nil, err
	}
	original, err := p.imap.FetchMessage(p.currentFolder(), uid)
	if err != nil {
		return nil, wrapIMAPError(domain.ProviderIMAP, err)
	}

	em := mailprotoToEmailMessage(original)
	fwd := &domain.OutgoingEmail{
		To:      to,
		Subject: domain.ForwardSubject(em.Subject),
		Body:    domain.BuildForwardBody(comment, em),
	}
	return smtpSend(domain.ProviderIMAP, p.smtp, p.from, fwd, "", nil)
}

// DeleteEmail flags the message \Deleted and expunges.
func (p *IMAPProvider) DeleteEmail(ctx context.Context, messageID string) (*domain.ModifyResult, error) {
	uid, err := parseUID(domain.ProviderIMAP, messageID)
	if err != nil {
		return nil, err
	}

	if err := p.imap.DeleteMessage(p.currentFolder(), uid, true); err != nil {
		return nil, wrapIMAPError(domain.ProviderIMAP, err)
	}
	return &domain.ModifyResult{MessageID: messageID, Status: domain.StatusTrashed}, nil
}

// SearchEmails runs a server-side TEXT search in the current folder.
func (p *IMAPProvider) SearchEmails(ctx context.Context, query string, limit int) (*domain.EmailPage, error) {
	msgs, err := p.imap.SearchSubjectOrFrom(p.currentFolder(), query, limit)
	if err != nil {
		return nil, wrapIMAPError(domain.ProviderIMAP, err)
	}

	emails := make([]domain.EmailSummary, len(msgs))
	for i, m := range msgs {
		emails[i] = mailprotoToSummary(m)
	}
	return &domain.EmailPage{Emails: emails, Count: len(emails)}, nil
}

// MarkRead toggles the \Seen flag.
func (p *IMAPProvider) MarkRead(ctx context.Context, messageID string, read bool) (*domain.ModifyResult, error) {
	uid, err := parseUID(domain.ProviderIMAP, messageID)
	if err != nil {
		return nil, err
	}

	if err := p.imap.SetSeen(p.currentFolder(), uid, read); err != nil {
		return nil, wrapIMAPError(domain.ProviderIMAP, err)
	}

	status := domain.StatusUnread
	if read {
		status = domain.StatusRead
	}
	return &domain.ModifyResult{MessageID: messageID, Status: status}, nil
}

// Folders lists mailboxes from the live LIST command.
func (p *IMAPProvider) Folders(ctx context.Context) ([]string, error) {
	folders, err := p.imap.ListFolders()
	if err != nil {
		return nil, wrapIMAPError(domain.ProviderIMAP, err)
	}
	return folders, nil
}

// =============================================================================
// Shared helpers for the mailbox-protocol variants
// =============================================================================

func parseUID(p domain.ProviderType, messageID string) (uint32, error) {
	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return 0, out.NewNotFound(p, messageID)
	}
	return uint32(uid), nil
}

func wrapIMAPError(p domain.ProviderType, err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := out.AsProviderError(err); ok {
		return pe
	}
	if strings.Contains(err.Error(), "authentication failed") {
		return out.NewAuthExpired(p, err)
	}
	return out.NewTransport(p, err)
}

// smtpSend submits an outgoing message, carrying reply threading
// headers when inReplyTo is set.
func smtpSend(provider domain.ProviderType, client *mailproto.SMTPClient, from string, msg *domain.OutgoingEmail, inReplyTo string, references []string) (*domain.SendResult, error) {
	opts := mailproto.SendOptions{
		From:    mailproto.Address{Email: from},
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

	messageID, err := client.Send(opts)
	if err != nil {
		if strings.Contains(err.Error(), "authentication failed") {
			return nil, out.NewAuthExpired(provider, err)
		}
		return nil, out.NewTransport(provider, err)
	}
	return &domain.SendResult{MessageID: messageID}, nil
}

// buildReply composes a reply to original addressed to its sender,
// plus the other recipients when replyAll is set.
func buildReply(original *mailproto.Message, body string, replyAll, html bool, self string) *domain.OutgoingEmail {
	var to []string
	if len(original.From) > 0 {
		to = append(to, original.From[0].Email)
	}

	var cc []string
	if replyAll {
		for _, addr := range append(original.To, original.Cc...) {
			if addr.Email == "" || strings.EqualFold(addr.Email, self) {
				continue
			}
			if len(to) > 0 && strings.EqualFold(addr.Email, to[0]) {
				continue
			}
			cc = append(cc, addr.Email)
		}
	}

	return &domain.OutgoingEmail{
		To:      to,
		CC:      cc,
		Subject: domain.ReplySubject(original.Subject),
		Body:    body,
		HTML:    html,
	}
}

func mailprotoToSummary(m *mailproto.Message) domain.EmailSummary {
	s := domain.EmailSummary{
		ID:      strconv.FormatUint(uint64(m.UID), 10),
		Subject: m.Subject,
		Date:    domain.FormatDate(m.Date),
		Snippet: m.Snippet(120),
	}
	if len(m.From) > 0 {
		s.From = m.From[0].String()
	}
	if len(m.To) > 0 {
		s.To = m.To[0].String()
	}
	return s
}

func mailprotoToEmailMessage(m *mailproto.Message) *domain.EmailMessage {
	em := &domain.EmailMessage{
		ID:      strconv.FormatUint(uint64(m.UID), 10),
		Subject: m.Subject,
		Date:    domain.FormatDate(m.Date),
		Body:    m.Body(),
	}
	if len(m.From) > 0 {
		em.From = m.From[0].String()
	}
	for _, a := range m.To {
		em.To = append(em.To, a.String())
	}
	for _, a := range m.Cc {
		em.CC = append(em.CC, a.String())
	}
	return em
}

var _ out.EmailProvider = (*IMAPProvider)(nil)
