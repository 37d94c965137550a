// Package mailproto implements the raw IMAP, SMTP, and POP3 transports
// used by the protocol provider variants.
package mailproto

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Address is a parsed mailbox address.
type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// String renders the address in "Name <email>" form.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Flags are the standard message flags.
type Flags struct {
	Seen     bool
	Flagged  bool
	Answered bool
	Draft    bool
	Deleted  bool
}

// Message is a fetched mailbox message.
type Message struct {
	From    []Address
	To      []Address
	Cc      []Address
	Subject string
	Date    time.Time

	TextBody string
	HTMLBody string

	MessageID  string
	InReplyTo  string
	References []string
	Flags      Flags

	// UID is the IMAP UID, or the 1-based sequence number for POP3.
	UID    uint32
	SeqNum uint32
	Size   uint32
}

// Body returns the preferred body text: plain text when present,
// otherwise HTML.
func (m *Message) Body() string {
	if m.TextBody != "" {
		return m.TextBody
	}
	return m.HTMLBody
}

// Snippet returns up to n bytes of the body with whitespace collapsed,
// truncated on a rune boundary so the result stays valid UTF-8.
func (m *Message) Snippet(n int) string {
	body := strings.Join(strings.Fields(m.Body()), " ")
	if len(body) <= n {
		return body
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

// SendOptions describes an outgoing message.
type SendOptions struct {
	From       Address
	To         []Address
	Cc         []Address
	Bcc        []Address
	Subject    string
	TextBody   string
	HTMLBody   string
	InReplyTo  string
	References []string

	// MessageID overrides the generated Message-ID when set.
	MessageID string
}

// Recipients returns every envelope recipient address.
func (o *SendOptions) Recipients() []string {
	out := make([]string, 0, len(o.To)+len(o.Cc)+len(o.Bcc))
	for _, a := range o.To {
		out = append(out, a.Email)
	}
	for _, a := range o.Cc {
		out = append(out, a.Email)
	}
	for _, a := range o.Bcc {
		out = append(out, a.Email)
	}
	return out
}

// BuildMessage renders SendOptions as an RFC 5322 message.
func BuildMessage(opts SendOptions) (*bytes.Buffer, error) {
	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(opts.Subject)
	header.SetAddressList("From", []*mail.Address{{
		Name:    opts.From.Name,
		Address: opts.From.Email,
	}})

	if len(opts.To) > 0 {
		header.SetAddressList("To", toMailAddrs(opts.To))
	}
	if len(opts.Cc) > 0 {
		header.SetAddressList("Cc", toMailAddrs(opts.Cc))
	}

	if opts.InReplyTo != "" {
		header.SetMsgIDList("In-Reply-To", []string{opts.InReplyTo})
	}
	if len(opts.References) > 0 {
		header.SetMsgIDList("References", opts.References)
	}
	messageID := opts.MessageID
	if messageID == "" {
		messageID = GenerateMessageID(opts.From.Email)
	}
	header.Set("Message-ID", messageID)

	iw, err := mail.CreateInlineWriter(&buf, header)
	if err != nil {
		return nil, err
	}

	if opts.TextBody != "" {
		if err := writeInlinePart(iw, "text/plain", opts.TextBody); err != nil {
			return nil, err
		}
	}
	if opts.HTMLBody != "" {
		if err := writeInlinePart(iw, "text/html", opts.HTMLBody); err != nil {
			return nil, err
		}
	}

	if err := iw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func writeInlinePart(iw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	return w.Close()
}

func toMailAddrs(addrs []Address) []*mail.Address {
	out := make([]*mail.Address, len(addrs))
	for i, a := range addrs {
		out[i] = &mail.Address{Name: a.Name, Address: a.Email}
	}
	return out
}

// GenerateMessageID produces an RFC 5322 Message-ID using the domain
// from the sender's address. Format: <timestamp.random@domain>
func GenerateMessageID(fromEmail string) string {
	domain := "localhost"
	if idx := strings.Index(fromEmail, "@"); idx >= 0 {
		domain = fromEmail[idx+1:]
	}

	b := make([]byte, 8)
	_, _ = rand.Read(b)

	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), hex.EncodeToString(b), domain)
}

// ParseMessage parses raw RFC 5322 bytes into a Message, headers and
// body both.
func ParseMessage(raw []byte) (*Message, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, err
	}
	msg := EntityToMessage(entity, 0)
	ParseEntityBody(msg, entity)
	return msg, nil
}

// EntityToMessage extracts header fields from a go-message entity.
func EntityToMessage(entity *gomessage.Entity, seqNum uint32) *Message {
	msg := &Message{
		UID:    seqNum,
		SeqNum: seqNum,
	}

	h := mail.Header{Header: entity.Header}

	msg.Subject, _ = h.Subject()
	msg.Date, _ = h.Date()
	msg.MessageID = h.Get("Message-Id")
	msg.InReplyTo = h.Get("In-Reply-To")
	if refs := h.Get("References"); refs != "" {
		msg.References = strings.Fields(refs)
	}

	if from, err := h.AddressList("From"); err == nil {
		msg.From = fromMailAddrs(from)
	}
	if to, err := h.AddressList("To"); err == nil {
		msg.To = fromMailAddrs(to)
	}
	if cc, err := h.AddressList("Cc"); err == nil {
		msg.Cc = fromMailAddrs(cc)
	}

	return msg
}

// ParseEntityBody fills TextBody/HTMLBody from a go-message entity,
// handling single-part and nested multipart messages.
func ParseEntityBody(msg *Message, entity *gomessage.Entity) {
	if mr := entity.MultipartReader(); mr != nil {
		parseMultipart(msg, mr)
		return
	}

	ct, _, _ := entity.Header.ContentType()
	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return
	}
	if strings.HasPrefix(ct, "text/html") {
		msg.HTMLBody = string(body)
	} else {
		msg.TextBody = string(body)
	}
}

func parseMultipart(msg *Message, mr gomessage.MultipartReader) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		ct, _, _ := part.Header.ContentType()

		switch {
		case strings.HasPrefix(ct, "text/plain") && msg.TextBody == "":
			if body, err := io.ReadAll(part.Body); err == nil {
				msg.TextBody = string(body)
			}
		case strings.HasPrefix(ct, "text/html") && msg.HTMLBody == "":
			if body, err := io.ReadAll(part.Body); err == nil {
				msg.HTMLBody = string(body)
			}
		case strings.HasPrefix(ct, "multipart/"):
			if nested := part.MultipartReader(); nested != nil {
				parseMultipart(msg, nested)
			}
		default:
			// Attachment parts are skipped; only bodies are needed.
			io.Copy(io.Discard, part.Body)
		}
	}
}

func fromMailAddrs(addrs []*mail.Address) []Address {
	dec := &mime.WordDecoder{}
	out := make([]Address, len(addrs))
	for i, a := range addrs {
		name := a.Name
		if decoded, err := dec.DecodeHeader(name); err == nil {
			name = decoded
		}
		out[i] = Address{Name: name, Email: a.Address}
	}
	return out
}
