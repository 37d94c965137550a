package mailproto

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestParseMessageSimple(t *testing.T) {
	msg, err := ParseMessage([]byte(testMailRFC822))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}

	if msg.Subject != "Test Subject" {
		t.Errorf("subject = %q, want %q", msg.Subject, "Test Subject")
	}
	if len(msg.From) != 1 || msg.From[0].Email != "sender@example.com" {
		t.Errorf("from = %v, want sender@example.com", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0].Email != "rcpt@example.com" {
		t.Errorf("to = %v, want rcpt@example.com", msg.To)
	}
	if msg.MessageID != "<test-1@example.com>" {
		t.Errorf("message-id = %q", msg.MessageID)
	}
	if got := strings.TrimSpace(msg.Body()); got != "Hello, World!" {
		t.Errorf("body = %q, want %q", got, "Hello, World!")
	}
	want := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	if !msg.Date.Equal(want) {
		t.Errorf("date = %v, want %v", msg.Date, want)
	}
}

func TestParseMessageNestedMultipart(t *testing.T) {
	msg, err := ParseMessage([]byte(testMailNested))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}

	if got := strings.TrimSpace(msg.TextBody); got != "Plain version" {
		t.Errorf("text body = %q, want %q", got, "Plain version")
	}
	if got := strings.TrimSpace(msg.HTMLBody); got != "<p>HTML version</p>" {
		t.Errorf("html body = %q, want %q", got, "<p>HTML version</p>")
	}
	// Plain text wins when both parts exist.
	if got := strings.TrimSpace(msg.Body()); got != "Plain version" {
		t.Errorf("Body() = %q, want text part", got)
	}
}

func TestBuildMessageRoundTrip(t *testing.T) {
	opts := SendOptions{
		From:      Address{Name: "Sender", Email: "sender@example.com"},
		To:        []Address{{Email: "rcpt@example.com"}},
		Cc:        []Address{{Email: "cc@example.com"}},
		Subject:   "Round Trip",
		TextBody:  "plain body",
		HTMLBody:  "<p>html body</p>",
		InReplyTo: "<parent@example.com>",
		MessageID: "<fixed-id@example.com>",
	}

	buf, err := BuildMessage(opts)
	if err != nil {
		t.Fatalf("BuildMessage: %v", err)
	}

	msg, err := ParseMessage(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}

	if msg.Subject != "Round Trip" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if len(msg.From) != 1 || msg.From[0].Email != "sender@example.com" {
		t.Errorf("from = %v", msg.From)
	}
	if msg.From[0].Name != "Sender" {
		t.Errorf("from name = %q", msg.From[0].Name)
	}
	if len(msg.To) != 1 || msg.To[0].Email != "rcpt@example.com" {
		t.Errorf("to = %v", msg.To)
	}
	if len(msg.Cc) != 1 || msg.Cc[0].Email != "cc@example.com" {
		t.Errorf("cc = %v", msg.Cc)
	}
	if msg.MessageID != "<fixed-id@example.com>" {
		t.Errorf("message-id = %q", msg.MessageID)
	}
	if msg.InReplyTo != "<parent@example.com>" {
		t.Errorf("in-reply-to = %q", msg.InReplyTo)
	}
	if got := strings.TrimSpace(msg.TextBody); got != "plain body" {
		t.Errorf("text body = %q", got)
	}
	if got := strings.TrimSpace(msg.HTMLBody); got != "<p>html body</p>" {
		t.Errorf("html body = %q", got)
	}

	// Bcc stays out of the headers.
	raw := buf.String()
	if strings.Contains(strings.ToLower(raw), "bcc:") {
		t.Error("Bcc header leaked into the message")
	}
}

func TestBuildMessageGeneratesID(t *testing.T) {
	opts := SendOptions{
		From:     Address{Email: "sender@example.com"},
		To:       []Address{{Email: "rcpt@example.com"}},
		Subject:  "No ID",
		TextBody: "body",
	}

	buf, err := BuildMessage(opts)
	if err != nil {
		t.Fatalf("BuildMessage: %v", err)
	}
	msg, err := ParseMessage(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.MessageID == "" {
		t.Error("expected a generated Message-ID")
	}
}

func TestGenerateMessageID(t *testing.T) {
	id := GenerateMessageID("user@example.com")
	if !strings.HasPrefix(id, "<") || !strings.HasSuffix(id, "@example.com>") {
		t.Errorf("unexpected message id %q", id)
	}

	// No From domain falls back to localhost.
	id = GenerateMessageID("")
	if !strings.HasSuffix(id, "@localhost>") {
		t.Errorf("unexpected fallback id %q", id)
	}

	if GenerateMessageID("user@example.com") == GenerateMessageID("user@example.com") {
		t.Error("two generated ids collided")
	}
}

func TestSendOptionsRecipients(t *testing.T) {
	opts := SendOptions{
		To:  []Address{{Email: "a@example.com"}, {Email: "b@example.com"}},
		Cc:  []Address{{Email: "c@example.com"}},
		Bcc: []Address{{Email: "d@example.com"}},
	}
	got := opts.Recipients()
	want := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"}
	if len(got) != len(want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("recipients[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMessageSnippet(t *testing.T) {
	m := &Message{TextBody: "line one\n\nline   two\tend"}
	if got := m.Snippet(100); got != "line one line two end" {
		t.Errorf("snippet = %q", got)
	}

	m = &Message{TextBody: "abcdefghij"}
	if got := m.Snippet(5); len(got) > 5 {
		t.Errorf("snippet %q longer than limit", got)
	}
}

func TestMessageSnippetRuneBoundary(t *testing.T) {
	// "héllo" is 6 bytes; a 5-byte cut lands inside the two-byte é and
	// must back up rather than emit a broken sequence.
	m := &Message{TextBody: "héllo world"}
	got := m.Snippet(5)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet %q is not valid UTF-8", got)
	}
	if got != "héll" {
		t.Errorf("snippet = %q, want %q", got, "héll")
	}

	m = &Message{TextBody: "日本語のテキスト"}
	got = m.Snippet(7)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet %q is not valid UTF-8", got)
	}
	if got != "日本" {
		t.Errorf("snippet = %q, want %q", got, "日本")
	}
}

func TestAddressString(t *testing.T) {
	a := Address{Name: "Jane Doe", Email: "jane@example.com"}
	if got := a.String(); got != "Jane Doe <jane@example.com>" {
		t.Errorf("String() = %q", got)
	}
	a = Address{Email: "jane@example.com"}
	if got := a.String(); got != "jane@example.com" {
		t.Errorf("String() = %q", got)
	}
}
