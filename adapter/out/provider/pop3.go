package provider

import (
	"context"
	"strconv"
	"strings"

	"github.com/kamiwaza-drew/tool-email-mcp/adapter/out/provider/mailproto"
	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
)

// POP3Provider implements out.EmailProvider over POP3 for mailbox
// access and SMTP for submission. POP3 has a single folder and no
// flag support, so mark-read reports unsupported and search filters
// fetched headers client-side.
type POP3Provider struct {
	pop3 *mailproto.POP3Client
	smtp *mailproto.SMTPClient
	from string
}

// NewPOP3Provider builds a POP3 provider from the same credential
// bundle shape as the imap variant.
func NewPOP3Provider(creds domain.Credentials) (*POP3Provider, error) {
	port, err := strconv.Atoi(creds.Get("port"))
	if err != nil {
		port = 995
	}
	smtpPort, err := strconv.Atoi(creds.Get("smtp_port"))
	if err != nil {
		smtpPort = 587
	}
	useSSL := creds.GetBool("use_ssl", true)

	pop3Client := mailproto.NewPOP3Client(mailproto.POP3Config{
		Host:     creds.Get("host"),
		Port:     port,
		Username: creds.Get("username"),
		Password: creds.Get("password"),
		SSL:      useSSL,
	})
	smtpClient := mailproto.NewSMTPClient(mailproto.SMTPConfig{
		Host:     creds.Get("smtp_host"),
		Port:     smtpPort,
		Username: creds.Get("username"),
		Password: creds.Get("password"),
		SSL:      useSSL && smtpPort == 465,
		StartTLS: smtpPort != 465,
	})

	p := &POP3Provider{
		pop3: pop3Client,
		smtp: smtpClient,
		from: creds.Get("username"),
	}

	if err := pop3Client.Verify(); err != nil {
		return nil, wrapPOP3Error(err)
	}
	return p, nil
}

// ProviderType returns the provider tag.
func (p *POP3Provider) ProviderType() domain.ProviderType {
	return domain.ProviderPOP3
}

// ListEmails lists the newest messages. Only INBOX exists.
func (p *POP3Provider) ListEmails(ctx context.Context, folder string, limit int, pageToken string) (*domain.EmailPage, error) {
	if folder != "" && !strings.EqualFold(folder, "INBOX") {
		return nil, out.NewUnsupported(domain.ProviderPOP3, "folders other than INBOX")
	}

	msgs, _, err := p.pop3.FetchHeaders(limit)
	if err != nil {
		return nil, wrapPOP3Error(err)
	}

	emails := make([]domain.EmailSummary, len(msgs))
	for i, m := range msgs {
		emails[i] = mailprotoToSummary(m)
	}
	return &domain.EmailPage{Emails: emails, Count: len(emails)}, nil
}

// ReadEmail retrieves a full message by maildrop number.
func (p *POP3Provider) ReadEmail(ctx context.Context, messageID string) (*domain.EmailMessage, error) {
	num, err := parseUID(domain.ProviderPOP3, messageID)
	if err != nil {
		return nil, err
	}

	msg, err := p.pop3.FetchMessage(num)
	if err != nil {
		return nil, wrapPOP3Error(err)
	}
	return mailprotoToEmailMessage(msg), nil
}

// SendEmail submits a message over SMTP.
func (p *POP3Provider) SendEmail(ctx context.Context, msg *domain.OutgoingEmail) (*domain.SendResult, error) {
	return smtpSend(domain.ProviderPOP3, p.smtp, p.from, msg, "", nil)
}

// ReplyEmail fetches the original for its sender and threading
// headers, then submits over SMTP.
func (p *POP3Provider) ReplyEmail(ctx context.Context, messageID, body string, replyAll, html bool) (*domain.SendResult, error) {
	num, err := parseUID(domain.ProviderPOP3, messageID)
	if err != nil {
		return nil, err
	}
	original, err := p.pop3.FetchMessage(num)
	if err != nil {
		return nil, wrapPOP3Error(err)
	}

	reply := buildReply(original, body, replyAll, html, p.from)
	return smtpSend(domain.ProviderPOP3, p.smtp, p.from, reply, original.MessageID, original.References)
}

// ForwardEmail composes the standard forwarded-message body and sends
// it to the new recipients.
func (p *POP3Provider) ForwardEmail(ctx context.Context, messageID string, to []string, comment string) (*domain.SendResult, error) {
	num, err := parseUID(domain.ProviderPOP3, messageID)
	if err != nil {
		return nil, err
	}
	original, err := p.pop3.FetchMessage(num)
	if err != nil {
		return nil, wrapPOP3Error(err)
	}

	em := mailprotoToEmailMessage(original)
	fwd := &domain.OutgoingEmail{
		To:      to,
		Subject: domain.ForwardSubject(em.Subject),
		Body:    domain.BuildForwardBody(comment, em),
	}
	return smtpSend(domain.ProviderPOP3, p.smtp, p.from, fwd, "", nil)
}

// DeleteEmail deletes a message. The deletion commits when the POP3
// session QUITs.
func (p *POP3Provider) DeleteEmail(ctx context.Context, messageID string) (*domain.ModifyResult, error) {
	num, err := parseUID(domain.ProviderPOP3, messageID)
	if err != nil {
		return nil, err
	}

	if err := p.pop3.DeleteMessage(num); err != nil {
		return nil, wrapPOP3Error(err)
	}
	return &domain.ModifyResult{MessageID: messageID, Status: domain.StatusTrashed}, nil
}

// SearchEmails filters fetched headers client-side on subject, sender,
// and recipients. POP3 has no server-side search.
func (p *POP3Provider) SearchEmails(ctx context.Context, query string, limit int) (*domain.EmailPage, error) {
	const scanWindow = 200

	msgs, _, err := p.pop3.FetchHeaders(scanWindow)
	if err != nil {
		return nil, wrapPOP3Error(err)
	}

	needle := strings.ToLower(query)
	emails := make([]domain.EmailSummary, 0, limit)
	for _, m := range msgs {
		if len(emails) >= limit {
			break
		}
		if pop3Matches(m, needle) {
			emails = append(emails, mailprotoToSummary(m))
		}
	}
	return &domain.EmailPage{Emails: emails, Count: len(emails)}, nil
}

// MarkRead is not expressible in POP3: the protocol has no flags.
func (p *POP3Provider) MarkRead(ctx context.Context, messageID string, read bool) (*domain.ModifyResult, error) {
	return nil, out.NewUnsupported(domain.ProviderPOP3, "mark read")
}

// Folders returns the single POP3 folder.
func (p *POP3Provider) Folders(ctx context.Context) ([]string, error) {
	return domain.DefaultFolders(domain.ProviderPOP3), nil
}

func pop3Matches(m *mailproto.Message, needle string) bool {
	if strings.Contains(strings.ToLower(m.Subject), needle) {
		return true
	}
	for _, a := range m.From {
		if strings.Contains(strings.ToLower(a.String()), needle) {
			return true
		}
	}
	for _, a := range m.To {
		if strings.Contains(strings.ToLower(a.String()), needle) {
			return true
		}
	}
	return false
}

func wrapPOP3Error(err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := out.AsProviderError(err); ok {
		return pe
	}
	if strings.Contains(err.Error(), "authentication failed") {
		return out.NewAuthExpired(domain.ProviderPOP3, err)
	}
	return out.NewTransport(domain.ProviderPOP3, err)
}

var _ out.EmailProvider = (*POP3Provider)(nil)
