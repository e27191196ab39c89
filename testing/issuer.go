package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jwtkit "github.com/open-rails/planauth/jwt"
)

const (
	DefaultTenantID = "00000000-0000-0000-0000-0000000000aa"
	DefaultAudience = "api://test-api"
	DefaultKID      = "test-key"
)

// TestIssuer is an in-process identity provider. It publishes a JWKS, an OIDC
// discovery document, a client-credentials token endpoint and an instance
// metadata (managed identity) token endpoint, and mints tokens on demand.
//
// Paths mirror the real tenant layout:
//
//	/{tenant}/discovery/v2.0/keys
//	/{tenant}/v2.0/.well-known/openid-configuration
//	/{tenant}/oauth2/v2.0/token
//	/metadata/identity/oauth2/token
type TestIssuer struct {
	server   *httptest.Server
	tenantID string
	audience string

	// ClientSecret is what the token endpoint accepts for client_secret. Empty accepts any.
	ClientSecret string
	// TokenTTL is the lifetime of tokens minted by the endpoints.
	TokenTTL time.Duration

	mu         sync.Mutex
	signer     *jwtkit.RSASigner
	published  []*jwtkit.RSASigner
	jwksHits   int
	tokenHits  int
	lastTokens []string
}

func NewTestIssuer() *TestIssuer { return NewTestIssuerWithAudience(DefaultAudience) }

func NewTestIssuerWithAudience(audience string) *TestIssuer {
	signer, err := jwtkit.NewRSASigner(2048, DefaultKID)
	if err != nil {
		panic(fmt.Sprintf("test issuer key: %v", err))
	}
	ti := &TestIssuer{
		tenantID:  DefaultTenantID,
		audience:  audience,
		TokenTTL:  time.Hour,
		signer:    signer,
		published: []*jwtkit.RSASigner{signer},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", ti.handleJWKS)
	mux.HandleFunc("/"+ti.tenantID+"/discovery/v2.0/keys", ti.handleJWKS)
	mux.HandleFunc("/"+ti.tenantID+"/v2.0/.well-known/openid-configuration", ti.handleDiscovery)
	mux.HandleFunc("/"+ti.tenantID+"/oauth2/v2.0/token", ti.handleToken)
	mux.HandleFunc("/metadata/identity/oauth2/token", ti.handleIMDS)
	ti.server = httptest.NewServer(mux)
	return ti
}

func (ti *TestIssuer) Close() { ti.server.Close() }

// URL is the base URL of the test server.
func (ti *TestIssuer) URL() string { return ti.server.URL }

func (ti *TestIssuer) TenantID() string { return ti.tenantID }
func (ti *TestIssuer) Audience() string { return ti.audience }

// Issuer is the iss value carried by every minted token.
func (ti *TestIssuer) Issuer() string { return ti.server.URL + "/" + ti.tenantID + "/" }

// DiscoveryIssuer is the issuer named by the discovery document.
func (ti *TestIssuer) DiscoveryIssuer() string { return ti.server.URL + "/" + ti.tenantID + "/v2.0" }

func (ti *TestIssuer) JWKSURL() string { return ti.server.URL + "/" + ti.tenantID + "/discovery/v2.0/keys" }

func (ti *TestIssuer) TokenURL() string { return ti.server.URL + "/" + ti.tenantID + "/oauth2/v2.0/token" }

func (ti *TestIssuer) IMDSURL() string { return ti.server.URL + "/metadata/identity/oauth2/token" }

// JWKSHits counts key set fetches.
func (ti *TestIssuer) JWKSHits() int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.jwksHits
}

// TokenHits counts tokens issued by the token and metadata endpoints.
func (ti *TestIssuer) TokenHits() int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.tokenHits
}

// IssuedTokens returns the tokens issued by the endpoints, oldest first.
func (ti *TestIssuer) IssuedTokens() []string {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return append([]string(nil), ti.lastTokens...)
}

// RotateKey starts signing with a new key. When keepOld is false the previous key is
// withdrawn from the published JWKS.
func (ti *TestIssuer) RotateKey(kid string, keepOld bool) error {
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		return err
	}
	ti.mu.Lock()
	defer ti.mu.Unlock()
	if keepOld {
		ti.published = append(ti.published, signer)
	} else {
		ti.published = []*jwtkit.RSASigner{signer}
	}
	ti.signer = signer
	return nil
}

// SignWithUnpublishedKey mints a token under a kid the JWKS never lists.
func (ti *TestIssuer) SignWithUnpublishedKey(kid, sub string) string {
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		panic(err)
	}
	return ti.sign(signer, ti.claims(sub, ti.audience, ti.TokenTTL))
}

// TokenOption adjusts the claims of a minted token.
type TokenOption func(map[string]any)

func WithRoles(roles ...string) TokenOption {
	return func(c map[string]any) {
		out := make([]any, 0, len(roles))
		for _, r := range roles {
			out = append(out, r)
		}
		c["roles"] = out
	}
}

func WithAudience(aud string) TokenOption { return func(c map[string]any) { c["aud"] = aud } }
func WithIssuer(iss string) TokenOption   { return func(c map[string]any) { c["iss"] = iss } }

// WithManagedIdentity marks the token as a managed identity token for objectID.
func WithManagedIdentity(objectID string) TokenOption {
	return func(c map[string]any) {
		c["idtyp"] = "MI"
		c["oid"] = objectID
	}
}

func WithClaim(key string, value any) TokenOption { return func(c map[string]any) { c[key] = value } }

// WithoutClaim drops a claim, e.g. "sub".
func WithoutClaim(key string) TokenOption { return func(c map[string]any) { delete(c, key) } }

// WithExpiry sets exp relative to now; negative values yield expired tokens.
func WithExpiry(d time.Duration) TokenOption {
	return func(c map[string]any) { c["exp"] = time.Now().Add(d).Unix() }
}

// CreateToken mints a token for sub signed with the active key.
func (ti *TestIssuer) CreateToken(sub string, opts ...TokenOption) string {
	c := ti.claims(sub, ti.audience, ti.TokenTTL)
	for _, o := range opts {
		o(c)
	}
	ti.mu.Lock()
	signer := ti.signer
	ti.mu.Unlock()
	return ti.sign(signer, c)
}

func (ti *TestIssuer) CreateTokenWithRoles(sub string, roles ...string) string {
	return ti.CreateToken(sub, WithRoles(roles...))
}

func (ti *TestIssuer) CreateExpiredToken(sub string) string {
	return ti.CreateToken(sub, WithExpiry(-time.Hour), WithClaim("iat", time.Now().Add(-2*time.Hour).Unix()),
		WithClaim("nbf", time.Now().Add(-2*time.Hour).Unix()))
}

// CreateManagedIdentityToken mints a token shaped like one from a workload's managed identity.
func (ti *TestIssuer) CreateManagedIdentityToken(objectID string, opts ...TokenOption) string {
	opts = append([]TokenOption{WithManagedIdentity(objectID), WithClaim("appid", "mi-client-"+objectID)}, opts...)
	return ti.CreateToken(objectID, opts...)
}

func (ti *TestIssuer) claims(sub, aud string, ttl time.Duration) map[string]any {
	c := jwtkit.BaseClaims(ti.Issuer(), sub, aud, ttl)
	c["tid"] = ti.tenantID
	c["jti"] = uuid.NewString()
	return c
}

func (ti *TestIssuer) sign(s jwtkit.Signer, c map[string]any) string {
	tok, err := s.Sign(context.Background(), c)
	if err != nil {
		panic(fmt.Sprintf("test issuer sign: %v", err))
	}
	return tok
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.mu.Lock()
	ti.jwksHits++
	signers := make([]jwtkit.Signer, 0, len(ti.published))
	for _, s := range ti.published {
		signers = append(signers, s)
	}
	ti.mu.Unlock()

	set, err := jwtkit.PublicJWKS(signers...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jwtkit.ServeJWKS(w, r, set)
}

func (ti *TestIssuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                ti.DiscoveryIssuer(),
		"jwks_uri":                              ti.JWKSURL(),
		"token_endpoint":                        ti.TokenURL(),
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"response_types_supported":              []string{"code", "token"},
		"subject_types_supported":               []string{"pairwise"},
	})
}

// handleToken implements the client-credentials grant. The access token audience is
// the scope without its "/.default" suffix.
func (ti *TestIssuer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	clientID, secret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}
	if r.PostForm.Get("grant_type") != "client_credentials" || clientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}
	assertion := r.PostForm.Get("client_assertion")
	if assertion == "" && ti.ClientSecret != "" && secret != ti.ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}
	aud := strings.TrimSuffix(r.PostForm.Get("scope"), "/.default")
	if aud == "" {
		aud = ti.audience
	}
	c := ti.claims(clientID, aud, ti.TokenTTL)
	c["appid"] = clientID
	c["idtyp"] = "app"
	tok := ti.issue(c)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   int(ti.TokenTTL.Seconds()),
	})
}

// handleIMDS mimics the instance metadata token endpoint used by managed identities.
func (ti *TestIssuer) handleIMDS(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Metadata") != "true" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "error_description": "Required metadata header not specified"})
		return
	}
	q := r.URL.Query()
	aud := q.Get("resource")
	if aud == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_resource"})
		return
	}
	oid := q.Get("client_id")
	if oid == "" {
		oid = "mi-object-id"
	}
	c := ti.claims(oid, aud, ti.TokenTTL)
	c["idtyp"] = "MI"
	c["oid"] = oid
	c["appid"] = oid
	tok := ti.issue(c)
	expiresOn := time.Now().Add(ti.TokenTTL).Unix()
	// The metadata service encodes numbers as strings.
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   strconv.Itoa(int(ti.TokenTTL.Seconds())),
		"expires_on":   strconv.FormatInt(expiresOn, 10),
		"resource":     aud,
	})
}

func (ti *TestIssuer) issue(c map[string]any) string {
	ti.mu.Lock()
	signer := ti.signer
	ti.mu.Unlock()
	tok := ti.sign(signer, c)
	ti.mu.Lock()
	ti.tokenHits++
	ti.lastTokens = append(ti.lastTokens, tok)
	ti.mu.Unlock()
	return tok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
