package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	core "github.com/open-rails/planauth/core"
	jwtkit "github.com/open-rails/planauth/jwt"
	memorystore "github.com/open-rails/planauth/storage/memory"
	authtest "github.com/open-rails/planauth/testing"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	mu  sync.Mutex
	n   int
	ttl time.Duration
}

func (f *countingFetcher) Fetch(_ context.Context, scope string) (Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return Token{AccessToken: fmt.Sprintf("tok-%d", f.n), ExpiresAt: time.Now().Add(f.ttl)}, nil
}

func (f *countingFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func TestClientCredentialsFetcher(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	ti.ClientSecret = "s3cret"

	f := &ClientCredentialsFetcher{TokenURL: ti.TokenURL(), ClientID: "client-app", ClientSecret: "s3cret"}
	tok, err := f.Fetch(context.Background(), ti.Audience()+"/.default")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

	v := jwtkit.NewValidator(core.ValidatorConfig{Issuer: ti.Issuer(), Audience: ti.Audience(), JWKSURL: ti.JWKSURL()})
	claims, err := v.Validate(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "client-app", claims["appid"])

	f.ClientSecret = "wrong"
	_, err = f.Fetch(context.Background(), ti.Audience()+"/.default")
	require.Error(t, err)
}

func TestClientCredentialsFetcher_FederatedToken(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	ti.ClientSecret = "s3cret"

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("projected-sa-token\n"), 0o600))

	f := &ClientCredentialsFetcher{TokenURL: ti.TokenURL(), ClientID: "client-app", FederatedTokenFile: path}
	tok, err := f.Fetch(context.Background(), ti.Audience()+"/.default")
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)

	f.FederatedTokenFile = filepath.Join(t.TempDir(), "missing")
	_, err = f.Fetch(context.Background(), ti.Audience()+"/.default")
	require.Error(t, err)
}

func TestManagedIdentityFetcher(t *testing.T) {
	ti := authtest.NewTestIssuer()
	defer ti.Close()

	f := &ManagedIdentityFetcher{Endpoint: ti.IMDSURL()}
	tok, err := f.Fetch(context.Background(), core.ManagementScope)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

	v := jwtkit.NewValidator(core.ValidatorConfig{Issuer: ti.Issuer(), Audience: core.ManagementAudience, JWKSURL: ti.JWKSURL()})
	claims, err := v.Validate(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, core.ManagementAudience, claims["aud"])
	id := core.IdentityFromClaims(claims)
	require.True(t, id.IsManagedIdentity())
	require.Equal(t, "mi-object-id", id.ObjectID)
}

func TestManagedIdentityFetcher_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"identity_not_found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := (&ManagedIdentityFetcher{Endpoint: srv.URL}).Fetch(context.Background(), core.ManagementScope)
	require.ErrorContains(t, err, "identity_not_found")
}

func TestManagedIdentityFetcher_ResourceKeepsTrailingSlash(t *testing.T) {
	var resource string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resource = r.URL.Query().Get("resource")
		_, _ = w.Write([]byte(`{"access_token":"t","expires_in":"3600"}`))
	}))
	defer srv.Close()

	_, err := (&ManagedIdentityFetcher{Endpoint: srv.URL}).Fetch(context.Background(), core.ManagementScope)
	require.NoError(t, err)
	require.Equal(t, core.ManagementAudience, resource)

	_, err = (&ManagedIdentityFetcher{Endpoint: srv.URL}).Fetch(context.Background(), "api://plan-api/.default")
	require.NoError(t, err)
	require.Equal(t, "api://plan-api/", resource)
}

func TestManagedIdentityFetcher_TruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "512")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"access_token":"t",`))
	}))
	defer srv.Close()

	_, err := (&ManagedIdentityFetcher{Endpoint: srv.URL}).Fetch(context.Background(), core.ManagementScope)
	require.ErrorContains(t, err, "read imds response")
}

func TestAcquirer_CachesToken(t *testing.T) {
	f := &countingFetcher{ttl: time.Hour}
	a := NewAcquirer(f, memorystore.NewKV(), 2*time.Minute)

	for i := 0; i < 3; i++ {
		tok, err := a.Token(context.Background(), "api://x/.default")
		require.NoError(t, err)
		require.Equal(t, "tok-1", tok)
	}
	require.Equal(t, 1, f.calls())

	_, err := a.Token(context.Background(), "api://y/.default")
	require.NoError(t, err)
	require.Equal(t, 2, f.calls(), "scopes are cached independently")
}

func TestAcquirer_ShortLivedTokenNotCached(t *testing.T) {
	f := &countingFetcher{ttl: time.Minute}
	a := NewAcquirer(f, memorystore.NewKV(), 2*time.Minute)

	_, err := a.Token(context.Background(), "s")
	require.NoError(t, err)
	_, err = a.Token(context.Background(), "s")
	require.NoError(t, err)
	require.Equal(t, 2, f.calls())
}

func TestAcquirer_ExpiresBeforeToken(t *testing.T) {
	now := time.Now()
	kv := memorystore.NewKV().WithClock(func() time.Time { return now })
	f := &countingFetcher{ttl: 10 * time.Minute}
	a := NewAcquirer(f, kv, 2*time.Minute).WithClock(func() time.Time { return now })

	_, err := a.Token(context.Background(), "s")
	require.NoError(t, err)
	now = now.Add(9 * time.Minute)
	tok, err := a.Token(context.Background(), "s")
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok)
}

func TestAcquirer_Invalidate(t *testing.T) {
	f := &countingFetcher{ttl: time.Hour}
	a := NewAcquirer(f, memorystore.NewKV(), 0)

	_, err := a.Token(context.Background(), "s")
	require.NoError(t, err)
	require.NoError(t, a.Invalidate(context.Background(), "s"))
	tok, err := a.Token(context.Background(), "s")
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok)
}

func TestClient_UnauthorizedClearsCachedToken(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		first := len(seen) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"token_expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"plans":[]}`))
	}))
	defer srv.Close()

	f := &countingFetcher{ttl: time.Hour}
	c := New(srv.URL, "api://x/.default", NewAcquirer(f, memorystore.NewKV(), 0), nil)

	_, err := c.ListPlans(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "token_expired", apiErr.Message)

	out, err := c.ListPlans(context.Background())
	require.NoError(t, err)
	require.Contains(t, out, "plans")
	require.Equal(t, 2, f.calls())
	require.Equal(t, []string{"Bearer tok-1", "Bearer tok-2"}, seen)
}

func TestClient_ErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    error
		message string
	}{
		{"forbidden", http.StatusForbidden, `{"error":"Access denied for account 1"}`, ErrForbidden, "Access denied for account 1"},
		{"not found", http.StatusNotFound, `{"error":"not_found"}`, ErrUpstream, "not_found"},
		{"server error", http.StatusBadGateway, `upstream down`, ErrUpstream, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			f := &countingFetcher{ttl: time.Hour}
			c := New(srv.URL, "s", NewAcquirer(f, memorystore.NewKV(), 0), nil)
			_, err := c.UpdateAccountSettings(context.Background(), 1, map[string]any{"a": 1})
			require.ErrorIs(t, err, tc.kind)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tc.status, apiErr.Status)
			require.Equal(t, tc.message, apiErr.Message)
			require.Equal(t, tc.body, apiErr.Body)

			_, err = c.ListAccounts(context.Background())
			require.Error(t, err)
			require.Equal(t, 1, f.calls(), "only a 401 drops the cached token")
		})
	}
}

func TestClient_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "s", NewAcquirer(&countingFetcher{ttl: time.Hour}, memorystore.NewKV(), 0), nil)
	out, err := c.Health(context.Background())
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestNewFetcher(t *testing.T) {
	cfg := core.ClientConfig{Credential: core.CredentialManagedIdentity, ClientID: "uami", IMDSEndpoint: "http://imds"}
	mi, ok := NewFetcher(context.Background(), cfg, nil, nil).(*ManagedIdentityFetcher)
	require.True(t, ok)
	require.Equal(t, "http://imds", mi.Endpoint)
	require.Equal(t, "uami", mi.ClientID)

	cfg = core.ClientConfig{
		Credential:    core.CredentialClientCredentials,
		TenantID:      "tenant",
		ClientID:      "app",
		ClientSecret:  "secret",
		AuthorityHost: core.DefaultAuthorityHost,
	}
	cc, ok := NewFetcher(context.Background(), cfg, nil, nil).(*ClientCredentialsFetcher)
	require.True(t, ok)
	require.Equal(t, "https://login.microsoftonline.com/tenant/oauth2/v2.0/token", cc.TokenURL)
}
