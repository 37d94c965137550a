package out

import (
	"context"
	"time"

	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
)

// StoredCredentials is the persisted per-session provider configuration.
type StoredCredentials struct {
	Provider    domain.ProviderType `json:"provider"`
	Credentials domain.Credentials  `json:"credentials"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// CredentialStore persists session credentials so a session can be
// rehydrated after a restart. Values are encrypted at rest.
type CredentialStore interface {
	Save(ctx context.Context, sessionID string, creds *StoredCredentials) error
	Load(ctx context.Context, sessionID string) (*StoredCredentials, error)
	Delete(ctx context.Context, sessionID string) error
}
