package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultIMDSEndpoint is the instance metadata token endpoint reachable from inside a workload.
const DefaultIMDSEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// ClientCredentialsFetcher runs the OAuth2 client-credentials grant. When FederatedTokenFile
// is set its contents are sent as a client assertion instead of ClientSecret.
type ClientCredentialsFetcher struct {
	TokenURL           string
	ClientID           string
	ClientSecret       string
	FederatedTokenFile string
	HTTPClient         *http.Client
}

func (f *ClientCredentialsFetcher) Fetch(ctx context.Context, scope string) (Token, error) {
	cfg := clientcredentials.Config{
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		TokenURL:     f.TokenURL,
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if f.FederatedTokenFile != "" {
		// Re-read every time: the projected token is rotated on disk.
		b, err := os.ReadFile(f.FederatedTokenFile)
		if err != nil {
			return Token{}, fmt.Errorf("read federated token: %w", err)
		}
		cfg.ClientSecret = ""
		cfg.EndpointParams = url.Values{
			"client_assertion_type": {clientAssertionType},
			"client_assertion":      {strings.TrimSpace(string(b))},
		}
	}
	if f.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

// ManagedIdentityFetcher asks the instance metadata service for a token on behalf of the
// workload's managed identity. ClientID selects a user-assigned identity.
type ManagedIdentityFetcher struct {
	Endpoint   string
	ClientID   string
	HTTPClient *http.Client
}

type imdsToken struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (f *ManagedIdentityFetcher) Fetch(ctx context.Context, scope string) (Token, error) {
	endpoint := f.Endpoint
	if endpoint == "" {
		endpoint = DefaultIMDSEndpoint
	}
	q := url.Values{
		"api-version": {"2018-02-01"},
		"resource":    {imdsResource(scope)},
	}
	if f.ClientID != "" {
		q.Set("client_id", f.ClientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Metadata", "true")

	hc := f.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("imds request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, fmt.Errorf("read imds response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("imds returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var t imdsToken
	if err := json.Unmarshal(body, &t); err != nil {
		return Token{}, fmt.Errorf("decode imds token: %w", err)
	}
	secs, err := t.ExpiresIn.Int64()
	if err != nil {
		return Token{}, fmt.Errorf("imds expires_in: %w", err)
	}
	return Token{AccessToken: t.AccessToken, ExpiresAt: time.Now().Add(time.Duration(secs) * time.Second)}, nil
}

// imdsResource maps a v2 scope onto the v1 resource the metadata service expects.
// Only ".default" is dropped: "https://management.azure.com/.default" names the resource
// "https://management.azure.com/", and the trailing slash is part of the token audience.
func imdsResource(scope string) string {
	return strings.TrimSuffix(scope, ".default")
}
