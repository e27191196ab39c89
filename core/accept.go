package core

import (
	"net/http"
	"strings"
	"time"
)

// ValidatorConfig configures local verification of identity-provider access tokens.
type ValidatorConfig struct {
	// Issuer must match the token's iss claim exactly (e.g. https://sts.windows.net/<tenant>/).
	Issuer string
	// Audience must be present in the token's aud claim.
	Audience string
	// JWKSURL is the issuer's published key set. Required.
	JWKSURL    string
	Algorithms []string
	Leeway     time.Duration
	// CacheTTL bounds how long a fetched key set is trusted before it is refetched.
	CacheTTL time.Duration
	// RefreshCooldown throttles refetches triggered by an unknown key id. Zero disables throttling.
	RefreshCooldown time.Duration
	HTTPClient      *http.Client
}

// IssuerFor builds the v1 token issuer for a tenant: https://<host>/<tenant>/.
func IssuerFor(host, tenantID string) string {
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(host), "https://"), "/")
	return "https://" + host + "/" + strings.TrimSpace(tenantID) + "/"
}

// KeysURLFor returns the conventional JWKS location for a tenant on the given authority host.
func KeysURLFor(authorityHost, tenantID string) string {
	host := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(authorityHost), "https://"), "/")
	return "https://" + host + "/" + strings.TrimSpace(tenantID) + "/discovery/v2.0/keys"
}

// DiscoveryIssuerFor returns the v2 issuer used to locate the tenant's OIDC discovery document.
func DiscoveryIssuerFor(authorityHost, tenantID string) string {
	host := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(authorityHost), "https://"), "/")
	return "https://" + host + "/" + strings.TrimSpace(tenantID) + "/v2.0"
}
