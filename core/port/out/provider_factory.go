package out

import (
	"context"

	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
)

// ProviderFactory constructs a backend variant from a provider tag and
// a raw credential bundle. Construction validates credentials but does
// not necessarily open a connection; protocol variants may verify the
// transport eagerly.
type ProviderFactory interface {
	Build(ctx context.Context, providerType domain.ProviderType, creds domain.Credentials) (EmailProvider, error)
}
