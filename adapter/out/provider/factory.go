package provider

import (
	"context"

	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/apperr"
)

// requiredCredentials lists the credential keys each provider tag
// needs before its variant can be constructed.
var requiredCredentials = map[domain.ProviderType][]string{
	domain.ProviderGmail:   {"token", "refresh_token", "client_id", "client_secret"},
	domain.ProviderOutlook: {"access_token"},
	domain.ProviderIMAP:    {"username", "password", "host", "port", "smtp_host", "smtp_port"},
	domain.ProviderPOP3:    {"username", "password", "host", "port", "smtp_host", "smtp_port"},
	domain.ProviderBroker:  {"auth_token_or_file", "broker_url", "installation_id", "tool_id"},
}

// Factory constructs provider variants from credential bundles.
type Factory struct{}

// NewFactory creates the provider factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Build constructs the variant for providerType, validating that the
// required credential fields are present first.
func (f *Factory) Build(ctx context.Context, providerType domain.ProviderType, creds domain.Credentials) (out.EmailProvider, error) {
	required, ok := requiredCredentials[providerType]
	if !ok {
		return nil, apperr.UnknownProvider(string(providerType))
	}
	for _, field := range required {
		if creds.Get(field) == "" {
			return nil, apperr.MissingCredentials(string(providerType), field)
		}
	}

	switch providerType {
	case domain.ProviderGmail:
		return NewGmailProvider(ctx, creds)
	case domain.ProviderOutlook:
		return NewOutlookProvider(creds), nil
	case domain.ProviderIMAP:
		return NewIMAPProvider(creds)
	case domain.ProviderPOP3:
		return NewPOP3Provider(creds)
	case domain.ProviderBroker:
		return NewBrokerProvider(creds), nil
	default:
		return nil, apperr.UnknownProvider(string(providerType))
	}
}

var _ out.ProviderFactory = (*Factory)(nil)
