package security

import (
	"fmt"
	"strings"
	"testing"
)

func assertCategory(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	ve, ok := IsValidationError(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if ve.Category != want {
		t.Errorf("category = %s, want %s (message: %s)", ve.Category, want, ve.Message)
	}
}

func TestValidateAddress(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name     string
		input    string
		want     string
		category string
	}{
		{name: "plain address", input: "user@example.com", want: "user@example.com"},
		{name: "uppercase normalized", input: "USER@EXAMPLE.COM", want: "user@example.com"},
		{name: "display name form", input: "John Doe <john@example.com>", want: "john@example.com"},
		{name: "surrounding whitespace", input: "  user@example.com  ", want: "user@example.com"},
		{name: "empty", input: "", category: CategoryEmpty},
		{name: "whitespace only", input: "   ", category: CategoryEmpty},
		{name: "missing domain", input: "user@", category: CategoryInvalidFormat},
		{name: "missing tld", input: "user@host", category: CategoryInvalidFormat},
		{name: "no at sign", input: "userexample.com", category: CategoryInvalidFormat},
		{name: "too long", input: strings.Repeat("a", 320) + "@example.com", category: CategoryTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ValidateAddress(tt.input)
			if tt.category != "" {
				assertCategory(t, err, tt.category)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateAddressCaseIdempotence(t *testing.T) {
	m := NewManager()
	addr := "Mixed.Case+tag@Example.COM"

	lower, err := m.ValidateAddress(addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	upper, err := m.ValidateAddress(strings.ToUpper(addr))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lower != upper {
		t.Errorf("case normalization not idempotent: %q vs %q", lower, upper)
	}
}

func TestValidateAddressList(t *testing.T) {
	m := NewManager()

	t.Run("empty list", func(t *testing.T) {
		_, err := m.ValidateAddressList(nil, 100)
		assertCategory(t, err, CategoryEmpty)
	})

	t.Run("single invalid element fails whole call", func(t *testing.T) {
		_, err := m.ValidateAddressList([]string{"ok@example.com", "not-an-address"}, 100)
		assertCategory(t, err, CategoryInvalidFormat)
	})

	t.Run("101 addresses rejected at max 100", func(t *testing.T) {
		addrs := make([]string, 101)
		for i := range addrs {
			addrs[i] = fmt.Sprintf("user%d@example.com", i)
		}
		_, err := m.ValidateAddressList(addrs, 100)
		assertCategory(t, err, CategoryLimitExceeded)
	})

	t.Run("exactly 100 addresses accepted", func(t *testing.T) {
		addrs := make([]string, 100)
		for i := range addrs {
			addrs[i] = fmt.Sprintf("user%d@example.com", i)
		}
		got, err := m.ValidateAddressList(addrs, 100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 100 {
			t.Errorf("got %d addresses, want 100", len(got))
		}
	})
}

func TestValidateSubject(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name     string
		input    string
		want     string
		category string
	}{
		{name: "plain subject", input: "Quarterly report", want: "Quarterly report"},
		{name: "trimmed", input: "  Hello  ", want: "Hello"},
		{name: "empty", input: "", category: CategoryEmpty},
		{name: "header injection LF", input: "Subject\nBcc: x@evil.com", category: CategoryInvalidFormat},
		{name: "header injection CR", input: "Subject\rBcc: x@evil.com", category: CategoryInvalidFormat},
		{name: "too long", input: strings.Repeat("s", 999), category: CategoryTooLong},
		{name: "at limit", input: strings.Repeat("s", 998), want: strings.Repeat("s", 998)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ValidateSubject(tt.input)
			if tt.category != "" {
				assertCategory(t, err, tt.category)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateBodyDangerousContent(t *testing.T) {
	m := NewManager()

	dangerous := []struct {
		name string
		body string
	}{
		{"script tag", "<script>alert(1)</script>"},
		{"script tag mixed case", "<ScRiPt>alert(1)</sCrIpT>"},
		{"script tag multiline", "before <script>\nalert(1)\n</script> after"},
		{"script with attributes", `<script type="text/javascript">x</script>`},
		{"javascript scheme", `<a href="javascript:alert(1)">x</a>`},
		{"event handler", `<img src=x onerror=alert(1)>`},
		{"event handler spaced", `<div onclick = "evil()">x</div>`},
		{"iframe", `<iframe src="https://evil.example"></iframe>`},
		{"embed", `<embed src="evil.swf">`},
		{"object", `<object data="evil"></object>`},
	}

	for _, tt := range dangerous {
		t.Run(tt.name, func(t *testing.T) {
			// Rejected whether or not HTML is allowed for the call.
			_, err := m.ValidateBody(tt.body, true)
			assertCategory(t, err, CategoryDangerousContent)

			_, err = m.ValidateBody(tt.body, false)
			assertCategory(t, err, CategoryDangerousContent)
		})
	}
}

func TestValidateBodyEscaping(t *testing.T) {
	m := NewManager()

	t.Run("html passed through when allowed", func(t *testing.T) {
		got, err := m.ValidateBody("<b>Bold</b>", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "<b>Bold</b>" {
			t.Errorf("got %q, want input unchanged", got)
		}
	})

	t.Run("html escaped when not allowed", func(t *testing.T) {
		got, err := m.ValidateBody("<b>Bold</b>", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(got, "&lt;") || !strings.Contains(got, "&gt;") {
			t.Errorf("got %q, want entity-escaped output", got)
		}
		if strings.Contains(got, "<b>") {
			t.Errorf("got %q, raw markup survived escaping", got)
		}
	})

	t.Run("plain text untouched", func(t *testing.T) {
		got, err := m.ValidateBody("just plain text", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "just plain text" {
			t.Errorf("got %q, want input unchanged", got)
		}
	})

	t.Run("empty rejected", func(t *testing.T) {
		_, err := m.ValidateBody("", false)
		assertCategory(t, err, CategoryEmpty)
	})
}

func TestValidateMessageID(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name     string
		input    string
		category string
	}{
		{name: "gmail style id", input: "18c4f12a3b5d6e7f"},
		{name: "graph style id", input: "AAMkAGI2THVSAAA="},
		{name: "imap uid", input: "42"},
		{name: "broker id with at", input: "msg@broker.local"},
		{name: "path traversal", input: "abc/../../../etc/passwd", category: CategoryInvalidFormat},
		{name: "backslash", input: `abc\def`, category: CategoryInvalidFormat},
		{name: "shell metachars", input: "id;rm -rf", category: CategoryInvalidFormat},
		{name: "empty", input: "", category: CategoryEmpty},
		{name: "too long", input: strings.Repeat("a", 1025), category: CategoryTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ValidateMessageID(tt.input)
			if tt.category != "" {
				assertCategory(t, err, tt.category)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.input {
				t.Errorf("got %q, want id returned unchanged", got)
			}
		})
	}
}

func TestValidateLabel(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name     string
		input    string
		category string
	}{
		{name: "plain folder", input: "INBOX"},
		{name: "outlook folder", input: "SentItems"},
		{name: "dotdot", input: "INBOX..TRASH", category: CategoryInvalidFormat},
		{name: "slash", input: "INBOX/Sub", category: CategoryInvalidFormat},
		{name: "backslash", input: `INBOX\Sub`, category: CategoryInvalidFormat},
		{name: "empty", input: "", category: CategoryEmpty},
		{name: "too long", input: strings.Repeat("x", 256), category: CategoryTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateLabel(tt.input)
			if tt.category != "" {
				assertCategory(t, err, tt.category)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateSearchQuery(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name     string
		input    string
		category string
	}{
		{name: "gmail syntax", input: "from:boss@example.com is:unread"},
		{name: "plain words", input: "quarterly budget"},
		{name: "script marker", input: "find <script>x", category: CategoryDangerousContent},
		{name: "script marker upper", input: "find <SCRIPT>x", category: CategoryDangerousContent},
		{name: "javascript scheme", input: "javascript:void(0)", category: CategoryDangerousContent},
		{name: "iframe marker", input: "has <iframe", category: CategoryDangerousContent},
		{name: "empty", input: "", category: CategoryEmpty},
		{name: "too long", input: strings.Repeat("q", 1001), category: CategoryTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateSearchQuery(tt.input)
			if tt.category != "" {
				assertCategory(t, err, tt.category)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidatePagination(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name     string
		n        int
		max      int
		category string
	}{
		{name: "normal", n: 50, max: 100},
		{name: "minimum", n: 1, max: 100},
		{name: "at max", n: 100, max: 100},
		{name: "zero", n: 0, max: 100, category: CategoryLimitExceeded},
		{name: "negative", n: -5, max: 100, category: CategoryLimitExceeded},
		{name: "over max", n: 101, max: 100, category: CategoryLimitExceeded},
		{name: "default max applied", n: 101, max: 0, category: CategoryLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ValidatePagination(tt.n, tt.max)
			if tt.category != "" {
				assertCategory(t, err, tt.category)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.n {
				t.Errorf("got %d, want %d", got, tt.n)
			}
		})
	}
}

func TestValidateAttachmentMime(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name     string
		input    string
		want     string
		category string
	}{
		{name: "pdf", input: "application/pdf", want: "application/pdf"},
		{name: "parameter stripped", input: "text/plain; charset=utf-8", want: "text/plain"},
		{name: "case normalized", input: "Image/PNG", want: "image/png"},
		{name: "executable blocked", input: "application/x-msdownload", category: CategoryInvalidFormat},
		{name: "script blocked", input: "text/javascript", category: CategoryInvalidFormat},
		{name: "html blocked", input: "text/html", category: CategoryInvalidFormat},
		{name: "empty", input: "", category: CategoryEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ValidateAttachmentMime(tt.input)
			if tt.category != "" {
				assertCategory(t, err, tt.category)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateAttachmentSize(t *testing.T) {
	m := NewManager()

	if err := m.ValidateAttachmentSize(1024); err != nil {
		t.Errorf("unexpected error for small attachment: %v", err)
	}
	assertCategory(t, m.ValidateAttachmentSize(0), CategoryEmpty)
	assertCategory(t, m.ValidateAttachmentSize(MaxAttachmentSize+1), CategoryLimitExceeded)

	// The cap is a decimal 25 MB, not 25 MiB.
	if err := m.ValidateAttachmentSize(25_000_000); err != nil {
		t.Errorf("unexpected error at the cap: %v", err)
	}
	assertCategory(t, m.ValidateAttachmentSize(25_000_001), CategoryLimitExceeded)
}
