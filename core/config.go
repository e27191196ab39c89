package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default identity platform hosts and audiences.
const (
	DefaultIssuerHost        = "sts.windows.net"
	DefaultAuthorityHost     = "login.microsoftonline.com"
	ManagementAudience       = "https://management.azure.com/"
	ManagementScope          = "https://management.azure.com/.default"
	DefaultPolicyTimeout     = 5 * time.Second
	DefaultHTTPTimeout       = 10 * time.Second
	DefaultKeyCacheTTL       = 5 * time.Minute
	DefaultTokenExpiryBuffer = 2 * time.Minute
)

// ServerConfig holds everything the API process needs at startup.
type ServerConfig struct {
	Mode          AuthMode
	ListenAddr    string
	TenantID      string
	ClientID      string
	IssuerHost    string
	AuthorityHost string
	// Audience defaults to api://<ClientID> in ModeRoles and the management audience in ModePolicy.
	Audience string
	// JWKSURL overrides discovery and the conventional keys location.
	JWKSURL     string
	KeyCacheTTL time.Duration
	Leeway      time.Duration
	// Discovery resolves the JWKS URL from the tenant's OIDC discovery document.
	Discovery bool

	PolicyEndpoint string
	PolicyToken    string
	PolicyTimeout  time.Duration

	RoutesFile string
	LogLevel   string
	LogFormat  string
}

// ServerConfigFromEnv reads ServerConfig from the process environment.
func ServerConfigFromEnv() ServerConfig {
	c := ServerConfig{
		Mode:           AuthMode(strings.ToLower(envOr("PLANAUTH_MODE", string(ModeRoles)))),
		ListenAddr:     envOr("PLANAUTH_LISTEN_ADDR", ":8000"),
		TenantID:       strings.TrimSpace(os.Getenv("AZURE_TENANT_ID")),
		ClientID:       strings.TrimSpace(os.Getenv("AZURE_CLIENT_ID")),
		IssuerHost:     envOr("PLANAUTH_ISSUER_HOST", DefaultIssuerHost),
		AuthorityHost:  envOr("PLANAUTH_AUTHORITY_HOST", DefaultAuthorityHost),
		Audience:       strings.TrimSpace(os.Getenv("PLANAUTH_AUDIENCE")),
		JWKSURL:        strings.TrimSpace(os.Getenv("PLANAUTH_JWKS_URL")),
		KeyCacheTTL:    envDuration("PLANAUTH_JWKS_CACHE_TTL", DefaultKeyCacheTTL),
		Leeway:         envDuration("PLANAUTH_LEEWAY", 0),
		Discovery:      envBool("PLANAUTH_DISCOVERY", false),
		PolicyEndpoint: strings.TrimRight(envOr("PLAINID_ENDPOINT", "https://your-plainid-instance.com/api/v1"), "/"),
		PolicyToken:    strings.TrimSpace(os.Getenv("PLAINID_TOKEN")),
		PolicyTimeout:  envDuration("PLAINID_TIMEOUT", DefaultPolicyTimeout),
		RoutesFile:     strings.TrimSpace(os.Getenv("PLANAUTH_ROUTES_FILE")),
		LogLevel:       envOr("PLANAUTH_LOG_LEVEL", "info"),
		LogFormat:      envOr("PLANAUTH_LOG_FORMAT", "text"),
	}
	return c
}

// Validate reports missing or inconsistent settings. A failure here is fatal at startup.
func (c ServerConfig) Validate() error {
	switch c.Mode {
	case ModeRoles, ModePolicy:
	default:
		return fmt.Errorf("PLANAUTH_MODE must be %q or %q, got %q", ModeRoles, ModePolicy, c.Mode)
	}
	if c.TenantID == "" {
		return fmt.Errorf("AZURE_TENANT_ID is required")
	}
	if c.Mode == ModeRoles && c.ClientID == "" && c.Audience == "" {
		return fmt.Errorf("AZURE_CLIENT_ID (or PLANAUTH_AUDIENCE) is required in %s mode", ModeRoles)
	}
	if c.Mode == ModePolicy && c.PolicyEndpoint == "" {
		return fmt.Errorf("PLAINID_ENDPOINT is required in %s mode", ModePolicy)
	}
	return nil
}

// ExpectedAudience returns the audience tokens must carry for this mode.
func (c ServerConfig) ExpectedAudience() string {
	if c.Audience != "" {
		return c.Audience
	}
	if c.Mode == ModePolicy {
		return ManagementAudience
	}
	return "api://" + c.ClientID
}

// ValidatorConfig derives the token validator settings. jwksURL is the resolved key set location.
func (c ServerConfig) ValidatorConfig(jwksURL string) ValidatorConfig {
	if jwksURL == "" {
		jwksURL = c.JWKSURL
	}
	if jwksURL == "" {
		jwksURL = KeysURLFor(c.AuthorityHost, c.TenantID)
	}
	return ValidatorConfig{
		Issuer:     IssuerFor(c.IssuerHost, c.TenantID),
		Audience:   c.ExpectedAudience(),
		JWKSURL:    jwksURL,
		Algorithms: []string{"RS256"},
		Leeway:     c.Leeway,
		CacheTTL:   c.KeyCacheTTL,
	}
}

// CredentialKind selects how the client acquires tokens.
type CredentialKind string

const (
	CredentialClientCredentials CredentialKind = "client_credentials"
	CredentialManagedIdentity   CredentialKind = "managed_identity"
)

// ClientConfig holds the demo client's settings.
type ClientConfig struct {
	BaseURL      string
	Scope        string
	Credential   CredentialKind
	TenantID     string
	ClientID     string
	ClientSecret string
	// FederatedTokenFile is the projected service account token used as a client assertion (workload identity).
	FederatedTokenFile string
	AuthorityHost      string
	TokenURL           string
	Discovery          bool
	// IMDSEndpoint overrides the instance metadata token endpoint.
	IMDSEndpoint string
	ExpiryBuffer time.Duration
	HTTPTimeout  time.Duration
	RedisURL     string
	LogLevel     string
	LogFormat    string
}

// ClientConfigFromEnv reads ClientConfig from the process environment.
func ClientConfigFromEnv() ClientConfig {
	c := ClientConfig{
		BaseURL:            strings.TrimRight(envOr("API_BASE_URL", "http://api-service:8000"), "/"),
		Scope:              strings.TrimSpace(os.Getenv("API_SCOPE")),
		Credential:         CredentialKind(strings.ToLower(envOr("PLANAUTH_CREDENTIAL", string(CredentialClientCredentials)))),
		TenantID:           strings.TrimSpace(os.Getenv("AZURE_TENANT_ID")),
		ClientID:           strings.TrimSpace(os.Getenv("AZURE_CLIENT_ID")),
		ClientSecret:       strings.TrimSpace(os.Getenv("AZURE_CLIENT_SECRET")),
		FederatedTokenFile: strings.TrimSpace(os.Getenv("AZURE_FEDERATED_TOKEN_FILE")),
		AuthorityHost:      envOr("AZURE_AUTHORITY_HOST", DefaultAuthorityHost),
		TokenURL:           strings.TrimSpace(os.Getenv("PLANAUTH_TOKEN_URL")),
		Discovery:          envBool("PLANAUTH_DISCOVERY", false),
		IMDSEndpoint:       strings.TrimSpace(os.Getenv("PLANAUTH_IMDS_ENDPOINT")),
		ExpiryBuffer:       envDuration("PLANAUTH_TOKEN_EXPIRY_BUFFER", DefaultTokenExpiryBuffer),
		HTTPTimeout:        envDuration("PLANAUTH_HTTP_TIMEOUT", DefaultHTTPTimeout),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		LogLevel:           envOr("PLANAUTH_LOG_LEVEL", "info"),
		LogFormat:          envOr("PLANAUTH_LOG_FORMAT", "text"),
	}
	if c.Scope == "" && c.Credential == CredentialManagedIdentity {
		c.Scope = ManagementScope
	}
	return c
}

// Validate reports the required settings that are missing, by environment variable name.
func (c ClientConfig) Validate() error {
	var missing []string
	if c.TenantID == "" {
		missing = append(missing, "AZURE_TENANT_ID")
	}
	if c.ClientID == "" {
		missing = append(missing, "AZURE_CLIENT_ID")
	}
	switch c.Credential {
	case CredentialClientCredentials:
		if c.Scope == "" {
			missing = append(missing, "API_SCOPE")
		}
		if c.ClientSecret == "" && c.FederatedTokenFile == "" {
			missing = append(missing, "AZURE_CLIENT_SECRET or AZURE_FEDERATED_TOKEN_FILE")
		}
	case CredentialManagedIdentity:
	default:
		return fmt.Errorf("PLANAUTH_CREDENTIAL must be %q or %q, got %q", CredentialClientCredentials, CredentialManagedIdentity, c.Credential)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// TokenEndpoint returns the configured token URL or the tenant's v2 token endpoint.
func (c ClientConfig) TokenEndpoint() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	host := strings.TrimSuffix(strings.TrimPrefix(c.AuthorityHost, "https://"), "/")
	return "https://" + host + "/" + c.TenantID + "/oauth2/v2.0/token"
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
