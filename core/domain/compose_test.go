package domain

import (
	"strings"
	"testing"
)

func TestReplySubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{name: "plain subject", subject: "Budget", want: "Re: Budget"},
		{name: "already prefixed", subject: "Re: Budget", want: "Re: Budget"},
		{name: "lowercase prefix not matched", subject: "re: Budget", want: "Re: re: Budget"},
		{name: "prefix mid-subject", subject: "About Re: Budget", want: "Re: About Re: Budget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReplySubject(tt.subject); got != tt.want {
				t.Errorf("ReplySubject(%q) = %q, want %q", tt.subject, got, tt.want)
			}
		})
	}
}

func TestForwardSubjectNoDoublePrefix(t *testing.T) {
	first := ForwardSubject("Budget")
	if first != "Fwd: Budget" {
		t.Fatalf("first forward = %q, want %q", first, "Fwd: Budget")
	}
	second := ForwardSubject(first)
	if second != "Fwd: Budget" {
		t.Errorf("second forward = %q, want no double prefix", second)
	}
}

func TestBuildForwardBody(t *testing.T) {
	original := &EmailMessage{
		From:    "alice@example.com",
		To:      []string{"bob@example.com", "carol@example.com"},
		Subject: "Budget",
		Date:    "Mon, 02 Jan 2006 15:04:05 -0700",
		Body:    "see attached",
	}

	t.Run("with comment", func(t *testing.T) {
		body := BuildForwardBody("FYI", original)

		wantOrder := []string{
			"FYI",
			"---------- Forwarded message ---------",
			"From: alice@example.com",
			"Date: Mon, 02 Jan 2006 15:04:05 -0700",
			"Subject: Budget",
			"To: bob@example.com, carol@example.com",
			"see attached",
		}
		pos := -1
		for _, part := range wantOrder {
			idx := strings.Index(body, part)
			if idx < 0 {
				t.Fatalf("body missing %q:\n%s", part, body)
			}
			if idx <= pos {
				t.Fatalf("%q out of order in body:\n%s", part, body)
			}
			pos = idx
		}
	})

	t.Run("without comment", func(t *testing.T) {
		body := BuildForwardBody("", original)
		if !strings.HasPrefix(body, "---------- Forwarded message ---------") {
			t.Errorf("body without comment should start with the separator, got:\n%s", body)
		}
	})
}
