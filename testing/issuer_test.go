package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	core "github.com/open-rails/planauth/core"
	jwtkit "github.com/open-rails/planauth/jwt"
	oidckit "github.com/open-rails/planauth/oidc"
)

func validatorFor(issuer *TestIssuer) *jwtkit.Validator {
	return jwtkit.NewValidator(core.ValidatorConfig{
		Issuer:     issuer.Issuer(),
		Audience:   issuer.Audience(),
		JWKSURL:    issuer.JWKSURL(),
		Algorithms: []string{"RS256"},
	})
}

func TestTestIssuer_ServesJWKS(t *testing.T) {
	issuer := NewTestIssuer()
	defer issuer.Close()

	set, err := jwk.Fetch(context.Background(), issuer.URL()+"/.well-known/jwks.json")
	if err != nil {
		t.Fatalf("failed to fetch JWKS: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", set.Len())
	}
	key, _ := set.Key(0)
	if key.KeyType().String() != "RSA" {
		t.Errorf("expected kty=RSA, got %s", key.KeyType())
	}
	if key.Algorithm().String() != "RS256" {
		t.Errorf("expected alg=RS256, got %s", key.Algorithm())
	}
	if key.KeyID() != DefaultKID {
		t.Errorf("expected kid=%s, got %s", DefaultKID, key.KeyID())
	}
}

func TestTestIssuer_TokenValidates(t *testing.T) {
	issuer := NewTestIssuer()
	defer issuer.Close()

	token := issuer.CreateToken("user-123")
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a compact JWT, got %q", token)
	}

	claims, err := validatorFor(issuer).Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("token validation failed: %v", err)
	}
	if sub, _ := claims["sub"].(string); sub != "user-123" {
		t.Errorf("expected sub=user-123, got %s", sub)
	}
	if tid, _ := claims["tid"].(string); tid != DefaultTenantID {
		t.Errorf("expected tid=%s, got %s", DefaultTenantID, tid)
	}
}

func TestTestIssuer_TokenWithRoles(t *testing.T) {
	issuer := NewTestIssuer()
	defer issuer.Close()

	token := issuer.CreateTokenWithRoles("user-123", "planadmin", "accountviewer")
	claims, err := validatorFor(issuer).Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("token validation failed: %v", err)
	}
	id := core.IdentityFromClaims(claims)
	if len(id.Roles) != 2 || !id.HasRole("planadmin") {
		t.Errorf("expected roles to round-trip, got %v", id.Roles)
	}
}

func TestTestIssuer_ExpiredToken(t *testing.T) {
	issuer := NewTestIssuer()
	defer issuer.Close()

	_, err := validatorFor(issuer).Validate(context.Background(), issuer.CreateExpiredToken("user-123"))
	if !errors.Is(err, core.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTestIssuer_CustomAudience(t *testing.T) {
	issuer := NewTestIssuerWithAudience("billing-service")
	defer issuer.Close()

	if issuer.Audience() != "billing-service" {
		t.Errorf("expected audience=billing-service, got %s", issuer.Audience())
	}
	claims, err := validatorFor(issuer).Validate(context.Background(), issuer.CreateToken("user-123"))
	if err != nil {
		t.Fatalf("token validation failed: %v", err)
	}
	if aud, _ := claims["aud"].(string); aud != "billing-service" {
		t.Errorf("expected aud=billing-service, got %s", aud)
	}
}

func TestTestIssuer_Discovery(t *testing.T) {
	issuer := NewTestIssuer()
	defer issuer.Close()

	ep, err := oidckit.Discover(context.Background(), issuer.DiscoveryIssuer(), http.DefaultClient)
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}
	if ep.JWKSURI != issuer.JWKSURL() {
		t.Errorf("expected jwks_uri=%s, got %s", issuer.JWKSURL(), ep.JWKSURI)
	}
	if ep.TokenEndpoint != issuer.TokenURL() {
		t.Errorf("expected token_endpoint=%s, got %s", issuer.TokenURL(), ep.TokenEndpoint)
	}
}

func TestTestIssuer_ClientCredentialsEndpoint(t *testing.T) {
	issuer := NewTestIssuer()
	defer issuer.Close()
	issuer.ClientSecret = "s3cret"

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"client-app"},
		"client_secret": {"s3cret"},
		"scope":         {"api://test-api/.default"},
	}
	resp, err := http.PostForm(issuer.TokenURL(), form)
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ExpiresIn != int(time.Hour.Seconds()) {
		t.Errorf("expected expires_in=3600, got %d", body.ExpiresIn)
	}
	if _, err := validatorFor(issuer).Validate(context.Background(), body.AccessToken); err != nil {
		t.Fatalf("issued token did not validate: %v", err)
	}

	form.Set("client_secret", "wrong")
	bad, err := http.PostForm(issuer.TokenURL(), form)
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for a bad secret, got %d", bad.StatusCode)
	}
}

func TestTestIssuer_IMDSRequiresMetadataHeader(t *testing.T) {
	issuer := NewTestIssuer()
	defer issuer.Close()

	u := issuer.IMDSURL() + "?api-version=2018-02-01&resource=" + url.QueryEscape(core.ManagementAudience)
	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("imds request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without Metadata header, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, u, nil)
	req.Header.Set("Metadata", "true")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("imds request failed: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["expires_in"] != "3600" {
		t.Errorf("expected string expires_in=3600, got %q", body["expires_in"])
	}
}

func TestFakePDP_Decisions(t *testing.T) {
	pdp := NewFakePDP()
	defer pdp.Close()
	pdp.Allow("oid-1", "plans", "read")

	decide := func(user, resource, action string) string {
		b, _ := json.Marshal(AuthorizeRequest{User: user, Resource: resource, Action: action})
		resp, err := http.Post(pdp.URL()+"/authorize", "application/json", bytes.NewReader(b))
		if err != nil {
			t.Fatalf("authorize failed: %v", err)
		}
		defer resp.Body.Close()
		var out map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return out["decision"]
	}

	if got := decide("oid-1", "plans", "read"); got != "Permit" {
		t.Errorf("expected Permit, got %s", got)
	}
	if got := decide("oid-1", "plans", "create"); got != "Deny" {
		t.Errorf("expected default Deny, got %s", got)
	}
	if n := len(pdp.Requests()); n != 2 {
		t.Errorf("expected 2 recorded requests, got %d", n)
	}
}
