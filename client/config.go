package client

import (
	"context"
	"net/http"

	core "github.com/open-rails/planauth/core"
	oidckit "github.com/open-rails/planauth/oidc"
	"github.com/sirupsen/logrus"
)

// NewFetcher builds the TokenFetcher cfg asks for. With Discovery set and no explicit token
// URL, the tenant's token endpoint is read from its OIDC discovery document; a failed lookup
// falls back to the conventional endpoint.
func NewFetcher(ctx context.Context, cfg core.ClientConfig, hc *http.Client, m *oidckit.Manager) TokenFetcher {
	if cfg.Credential == core.CredentialManagedIdentity {
		return &ManagedIdentityFetcher{Endpoint: cfg.IMDSEndpoint, ClientID: cfg.ClientID, HTTPClient: hc}
	}
	tokenURL := cfg.TokenEndpoint()
	if cfg.Discovery && cfg.TokenURL == "" && m != nil {
		issuer := core.DiscoveryIssuerFor(cfg.AuthorityHost, cfg.TenantID)
		if ep, err := m.TokenEndpoint(ctx, issuer); err == nil && ep != "" {
			tokenURL = ep
		} else {
			logrus.WithField("fallback", tokenURL).Warn("token_endpoint_discovery_failed")
		}
	}
	return &ClientCredentialsFetcher{
		TokenURL:           tokenURL,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		FederatedTokenFile: cfg.FederatedTokenFile,
		HTTPClient:         hc,
	}
}
