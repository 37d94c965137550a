package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
)

func TestMemoryCredentialStore(t *testing.T) {
	store := NewMemoryCredentialStore(time.Hour)
	ctx := context.Background()

	creds := &out.StoredCredentials{
		Provider:    domain.ProviderIMAP,
		Credentials: domain.Credentials{"username": "u", "password": "p"},
	}
	if err := store.Save(ctx, "sess-1", creds); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil || loaded.Provider != domain.ProviderIMAP {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.Credentials.Get("username") != "u" {
		t.Errorf("username = %q", loaded.Credentials.Get("username"))
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped on save")
	}

	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	loaded, err = store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load after delete: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil after delete, got %+v", loaded)
	}
}

func TestMemoryCredentialStoreExpiry(t *testing.T) {
	store := NewMemoryCredentialStore(-time.Second)
	ctx := context.Background()

	if err := store.Save(ctx, "sess-1", &out.StoredCredentials{Provider: domain.ProviderPOP3}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected expired entry to be dropped, got %+v", loaded)
	}
}

func TestMemoryCredentialStoreUnknownSession(t *testing.T) {
	store := NewMemoryCredentialStore(time.Hour)

	loaded, err := store.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for unknown session, got %+v", loaded)
	}
}
