package emailops

import (
	"context"
	"fmt"
	"testing"

	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
	"github.com/kamiwaza-drew/tool-email-mcp/core/service/security"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/apperr"
)

// fakeProvider records delegated calls and returns canned results.
type fakeProvider struct {
	typ   domain.ProviderType
	calls []string

	sendErr error
	lastMsg *domain.OutgoingEmail
}

func (f *fakeProvider) ProviderType() domain.ProviderType { return f.typ }

func (f *fakeProvider) ListEmails(ctx context.Context, folder string, limit int, pageToken string) (*domain.EmailPage, error) {
	f.calls = append(f.calls, "list")
	return &domain.EmailPage{
		Emails: []domain.EmailSummary{{ID: "m1", From: "a@example.com", Subject: "hi"}},
		Count:  1,
	}, nil
}

func (f *fakeProvider) ReadEmail(ctx context.Context, messageID string) (*domain.EmailMessage, error) {
	f.calls = append(f.calls, "read")
	return &domain.EmailMessage{ID: messageID, From: "a@example.com", Subject: "hi", Body: "hello"}, nil
}

func (f *fakeProvider) SendEmail(ctx context.Context, msg *domain.OutgoingEmail) (*domain.SendResult, error) {
	f.calls = append(f.calls, "send")
	f.lastMsg = msg
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &domain.SendResult{MessageID: "sent-1"}, nil
}

func (f *fakeProvider) ReplyEmail(ctx context.Context, messageID, body string, replyAll, html bool) (*domain.SendResult, error) {
	f.calls = append(f.calls, "reply")
	return &domain.SendResult{MessageID: "reply-1"}, nil
}

func (f *fakeProvider) ForwardEmail(ctx context.Context, messageID string, to []string, comment string) (*domain.SendResult, error) {
	f.calls = append(f.calls, "forward")
	return &domain.SendResult{MessageID: "fwd-1"}, nil
}

func (f *fakeProvider) DeleteEmail(ctx context.Context, messageID string) (*domain.ModifyResult, error) {
	f.calls = append(f.calls, "delete")
	return &domain.ModifyResult{MessageID: messageID, Status: domain.StatusTrashed}, nil
}

func (f *fakeProvider) SearchEmails(ctx context.Context, query string, limit int) (*domain.EmailPage, error) {
	f.calls = append(f.calls, "search")
	return &domain.EmailPage{Count: 0}, nil
}

func (f *fakeProvider) MarkRead(ctx context.Context, messageID string, read bool) (*domain.ModifyResult, error) {
	f.calls = append(f.calls, "mark")
	status := domain.StatusRead
	if !read {
		status = domain.StatusUnread
	}
	return &domain.ModifyResult{MessageID: messageID, Status: status}, nil
}

func (f *fakeProvider) Folders(ctx context.Context) ([]string, error) {
	f.calls = append(f.calls, "folders")
	return domain.DefaultFolders(f.typ), nil
}

// fakeFactory hands out a pre-built provider or a configured error.
type fakeFactory struct {
	provider out.EmailProvider
	err      error
}

func (f *fakeFactory) Build(ctx context.Context, typ domain.ProviderType, creds domain.Credentials) (out.EmailProvider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

func newTestOps(fp *fakeProvider) *Operations {
	return New(&fakeFactory{provider: fp}, security.NewManager(), Config{}, nil)
}

func configure(t *testing.T, ops *Operations) {
	t.Helper()
	if _, err := ops.ConfigureProvider(context.Background(), "imap", domain.Credentials{}); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
}

func TestUnconfiguredPrecedesValidation(t *testing.T) {
	fp := &fakeProvider{typ: domain.ProviderIMAP}
	ops := newTestOps(fp)
	ctx := context.Background()

	// Every operation must report provider_not_configured, even with
	// arguments that would fail validation.
	checks := []struct {
		name string
		call func() error
	}{
		{"list", func() error { _, err := ops.ListEmails(ctx, "../bad", -1, ""); return err }},
		{"read", func() error { _, err := ops.ReadEmail(ctx, "bad/../id"); return err }},
		{"send", func() error {
			_, err := ops.SendEmail(ctx, []string{"not-an-address"}, "", "", nil, nil, false)
			return err
		}},
		{"reply", func() error { _, err := ops.ReplyEmail(ctx, "", "", false, false); return err }},
		{"forward", func() error { _, err := ops.ForwardEmail(ctx, "", nil, ""); return err }},
		{"delete", func() error { _, err := ops.DeleteEmail(ctx, ""); return err }},
		{"search", func() error { _, err := ops.SearchEmails(ctx, "<script", 0); return err }},
		{"mark", func() error { _, err := ops.MarkRead(ctx, "", true); return err }},
		{"folders", func() error { _, err := ops.Folders(ctx); return err }},
	}

	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			err := c.call()
			if !apperr.IsCode(err, apperr.CodeProviderNotConfigured) {
				t.Errorf("got %v, want provider_not_configured", err)
			}
		})
	}
	if len(fp.calls) != 0 {
		t.Errorf("provider was called while unconfigured: %v", fp.calls)
	}
}

func TestConfigureProvider(t *testing.T) {
	t.Run("unknown provider tag", func(t *testing.T) {
		ops := newTestOps(&fakeProvider{typ: domain.ProviderIMAP})
		_, err := ops.ConfigureProvider(context.Background(), "pigeon", domain.Credentials{})
		if !apperr.IsCode(err, apperr.CodeUnknownProvider) {
			t.Errorf("got %v, want unknown_provider", err)
		}
	})

	t.Run("tag match is case-insensitive", func(t *testing.T) {
		ops := newTestOps(&fakeProvider{typ: domain.ProviderIMAP})
		result, err := ops.ConfigureProvider(context.Background(), "IMAP", domain.Credentials{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Provider != "imap" {
			t.Errorf("provider = %q, want imap", result.Provider)
		}
	})

	t.Run("failed reconfigure keeps old provider", func(t *testing.T) {
		fp := &fakeProvider{typ: domain.ProviderIMAP}
		factory := &fakeFactory{provider: fp}
		ops := New(factory, security.NewManager(), Config{}, nil)

		if _, err := ops.ConfigureProvider(context.Background(), "imap", nil); err != nil {
			t.Fatalf("initial configure failed: %v", err)
		}

		factory.err = apperr.MissingCredentials("gmail", "token")
		_, err := ops.ConfigureProvider(context.Background(), "gmail", nil)
		if !apperr.IsCode(err, apperr.CodeMissingCredentials) {
			t.Fatalf("got %v, want missing_credentials", err)
		}

		if got := ops.ActiveProvider(); got != domain.ProviderIMAP {
			t.Errorf("active provider = %q, want imap after failed reconfigure", got)
		}
	})
}

func TestSendEmailRecipientCeiling(t *testing.T) {
	fp := &fakeProvider{typ: domain.ProviderIMAP}
	ops := newTestOps(fp)
	configure(t, ops)

	addrs := func(prefix string, n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("%s%d@example.com", prefix, i)
		}
		return out
	}

	// 50 + 30 + 25 = 105: each list is individually valid but the
	// combined count exceeds the default ceiling of 100.
	_, err := ops.SendEmail(context.Background(),
		addrs("to", 50), "subject", "body", addrs("cc", 30), addrs("bcc", 25), false)
	if !apperr.IsCode(err, apperr.CodeValidationError) {
		t.Fatalf("got %v, want validation_error", err)
	}
	if len(fp.calls) != 0 {
		t.Errorf("provider called despite ceiling violation: %v", fp.calls)
	}

	// 50 + 30 + 20 = 100 passes.
	_, err = ops.SendEmail(context.Background(),
		addrs("to", 50), "subject", "body", addrs("cc", 30), addrs("bcc", 20), false)
	if err != nil {
		t.Fatalf("unexpected error at exactly 100 recipients: %v", err)
	}
}

func TestSendEmailEndToEnd(t *testing.T) {
	fp := &fakeProvider{typ: domain.ProviderIMAP}
	ops := newTestOps(fp)
	configure(t, ops)

	result, err := ops.SendEmail(context.Background(),
		[]string{"a@b.com"}, "Hi", "hello", nil, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MessageID == "" {
		t.Error("expected a non-empty message_id")
	}
	if fp.lastMsg == nil || fp.lastMsg.To[0] != "a@b.com" {
		t.Errorf("provider received %+v, want validated recipient", fp.lastMsg)
	}
}

func TestValidationBlocksDelegation(t *testing.T) {
	fp := &fakeProvider{typ: domain.ProviderIMAP}
	ops := newTestOps(fp)
	configure(t, ops)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"bad recipient", func() error {
			_, err := ops.SendEmail(ctx, []string{"nope"}, "s", "b", nil, nil, false)
			return err
		}},
		{"header injection subject", func() error {
			_, err := ops.SendEmail(ctx, []string{"a@b.com"}, "s\nBcc: evil@x.com", "b", nil, nil, false)
			return err
		}},
		{"dangerous body", func() error {
			_, err := ops.SendEmail(ctx, []string{"a@b.com"}, "s", "<script>x</script>", nil, nil, true)
			return err
		}},
		{"traversal message id", func() error {
			_, err := ops.ReadEmail(ctx, "a/../b")
			return err
		}},
		{"oversized page", func() error {
			_, err := ops.ListEmails(ctx, "INBOX", 500, "")
			return err
		}},
		{"injection query", func() error {
			_, err := ops.SearchEmails(ctx, "<script>steal()", 10)
			return err
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.call()
			if !apperr.IsCode(err, apperr.CodeValidationError) {
				t.Errorf("got %v, want validation_error", err)
			}
		})
	}
	if len(fp.calls) != 0 {
		t.Errorf("provider called despite validation failures: %v", fp.calls)
	}
}

func TestSendBodyEscapedForPlainText(t *testing.T) {
	fp := &fakeProvider{typ: domain.ProviderIMAP}
	ops := newTestOps(fp)
	configure(t, ops)

	_, err := ops.SendEmail(context.Background(),
		[]string{"a@b.com"}, "s", "1 < 2 and 3 > 2", nil, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp.lastMsg.Body == "1 < 2 and 3 > 2" {
		t.Error("plain-text body with angle brackets should be escaped before delegation")
	}
}

func TestProviderErrorTranslation(t *testing.T) {
	fp := &fakeProvider{typ: domain.ProviderGmail}
	ops := newTestOps(fp)
	if _, err := ops.ConfigureProvider(context.Background(), "gmail", nil); err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	t.Run("auth expired carries auth_required", func(t *testing.T) {
		fp.sendErr = out.NewAuthExpired(domain.ProviderGmail, nil)
		_, err := ops.SendEmail(context.Background(), []string{"a@b.com"}, "s", "b", nil, nil, false)
		appErr := apperr.AsAppError(err)
		if appErr.Code != apperr.CodeAuthExpired {
			t.Fatalf("code = %s, want auth_expired", appErr.Code)
		}
		if !appErr.AuthRequired {
			t.Error("auth_expired failure should set auth_required")
		}
	})

	t.Run("transport error", func(t *testing.T) {
		fp.sendErr = out.NewTransport(domain.ProviderGmail, fmt.Errorf("connection refused"))
		_, err := ops.SendEmail(context.Background(), []string{"a@b.com"}, "s", "b", nil, nil, false)
		if !apperr.IsCode(err, apperr.CodeTransportError) {
			t.Errorf("got %v, want transport_error", err)
		}
	})

	t.Run("uncategorized becomes provider_error", func(t *testing.T) {
		fp.sendErr = fmt.Errorf("something odd")
		_, err := ops.SendEmail(context.Background(), []string{"a@b.com"}, "s", "b", nil, nil, false)
		if !apperr.IsCode(err, apperr.CodeProviderError) {
			t.Errorf("got %v, want provider_error", err)
		}
	})
}

func TestListDefaults(t *testing.T) {
	fp := &fakeProvider{typ: domain.ProviderIMAP}
	ops := newTestOps(fp)
	configure(t, ops)

	page, err := ops.ListEmails(context.Background(), "", 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Count != 1 {
		t.Errorf("count = %d, want 1", page.Count)
	}
}

func TestMarkReadStatus(t *testing.T) {
	fp := &fakeProvider{typ: domain.ProviderIMAP}
	ops := newTestOps(fp)
	configure(t, ops)

	result, err := ops.MarkRead(context.Background(), "m1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.StatusUnread {
		t.Errorf("status = %q, want unread", result.Status)
	}
}
