package provider

import (
	"testing"

	"github.com/kamiwaza-drew/tool-email-mcp/adapter/out/provider/mailproto"
	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
)

func TestParseUID(t *testing.T) {
	uid, err := parseUID(domain.ProviderIMAP, "42")
	if err != nil {
		t.Fatalf("parseUID: %v", err)
	}
	if uid != 42 {
		t.Errorf("uid = %d, want 42", uid)
	}

	_, err = parseUID(domain.ProviderIMAP, "not-a-uid")
	pe, ok := out.AsProviderError(err)
	if !ok || pe.Code != out.ErrCodeNotFound {
		t.Fatalf("error = %v, want %s", err, out.ErrCodeNotFound)
	}
}

func replyFixture() *mailproto.Message {
	return &mailproto.Message{
		From:    []mailproto.Address{{Name: "Alice", Email: "alice@example.com"}},
		To:      []mailproto.Address{{Email: "me@example.com"}, {Email: "bob@example.com"}},
		Cc:      []mailproto.Address{{Email: "carol@example.com"}},
		Subject: "Status update",
	}
}

func TestBuildReplySenderOnly(t *testing.T) {
	msg := buildReply(replyFixture(), "thanks", false, false, "me@example.com")

	if len(msg.To) != 1 || msg.To[0] != "alice@example.com" {
		t.Errorf("To = %v, want [alice@example.com]", msg.To)
	}
	if len(msg.CC) != 0 {
		t.Errorf("CC = %v, want empty", msg.CC)
	}
	if msg.Subject != "Re: Status update" {
		t.Errorf("Subject = %q", msg.Subject)
	}
}

func TestBuildReplyAllExcludesSelfAndSender(t *testing.T) {
	msg := buildReply(replyFixture(), "thanks", true, false, "me@example.com")

	if len(msg.To) != 1 || msg.To[0] != "alice@example.com" {
		t.Errorf("To = %v, want [alice@example.com]", msg.To)
	}
	want := []string{"bob@example.com", "carol@example.com"}
	if len(msg.CC) != len(want) {
		t.Fatalf("CC = %v, want %v", msg.CC, want)
	}
	for i, addr := range want {
		if msg.CC[i] != addr {
			t.Errorf("CC[%d] = %q, want %q", i, msg.CC[i], addr)
		}
	}
}

func TestPOP3Matches(t *testing.T) {
	msg := &mailproto.Message{
		From:    []mailproto.Address{{Name: "Alice", Email: "alice@example.com"}},
		To:      []mailproto.Address{{Email: "me@example.com"}},
		Subject: "Quarterly Report",
	}

	cases := []struct {
		name   string
		needle string
		want   bool
	}{
		{"subject", "quarterly", true},
		{"from address", "alice@", true},
		{"from display name", "alice", true},
		{"to address", "me@example", true},
		{"no match", "invoice", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := pop3Matches(msg, tc.needle); got != tc.want {
				t.Errorf("pop3Matches(%q) = %v, want %v", tc.needle, got, tc.want)
			}
		})
	}
}

func TestMailprotoToSummary(t *testing.T) {
	msg := &mailproto.Message{
		UID:      7,
		From:     []mailproto.Address{{Name: "Alice", Email: "alice@example.com"}},
		To:       []mailproto.Address{{Email: "me@example.com"}},
		Subject:  "hello",
		TextBody: "line one\nline two",
	}

	s := mailprotoToSummary(msg)
	if s.ID != "7" {
		t.Errorf("ID = %q, want 7", s.ID)
	}
	if s.From != "Alice <alice@example.com>" {
		t.Errorf("From = %q", s.From)
	}
	if s.Snippet != "line one line two" {
		t.Errorf("Snippet = %q", s.Snippet)
	}
}
