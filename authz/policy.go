package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	core "github.com/open-rails/planauth/core"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const decisionPermit = "Permit"

// PolicyChecker asks a policy decision point whether user may perform action on resource.
// A nil error with false is an explicit deny; a non-nil error means no decision was obtained.
type PolicyChecker interface {
	Check(ctx context.Context, user, resource, action string, attrs map[string]any) (bool, error)
	Permissions(ctx context.Context, user string) map[string]any
}

// PolicyClient talks to the policy decision point over HTTP.
type PolicyClient struct {
	endpoint string
	timeout  time.Duration
	hc       *http.Client
}

// NewPolicyClient builds a client for endpoint (e.g. https://pdp.example.com/api/v1).
// When src is non-nil every call carries its bearer token.
func NewPolicyClient(endpoint string, src oauth2.TokenSource) *PolicyClient {
	c := &PolicyClient{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		timeout:  core.DefaultPolicyTimeout,
	}
	c.hc = &http.Client{}
	if src != nil {
		c.hc.Transport = &oauth2.Transport{Source: src, Base: http.DefaultTransport}
	}
	return c
}

// StaticToken wraps a pre-provisioned PDP API token.
func StaticToken(token string) oauth2.TokenSource {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// WithTimeout bounds every PDP call. Non-positive values are ignored.
func (c *PolicyClient) WithTimeout(d time.Duration) *PolicyClient {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// WithHTTPClient replaces the HTTP client, including any bearer transport. The per-call
// timeout still applies.
func (c *PolicyClient) WithHTTPClient(hc *http.Client) *PolicyClient {
	if hc != nil {
		c.hc = hc
	}
	return c
}

func (c *PolicyClient) Endpoint() string { return c.endpoint }

type authorizeRequest struct {
	User     string         `json:"user"`
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Context  map[string]any `json:"context"`
}

type authorizeResponse struct {
	Decision string `json:"decision"`
}

// Check posts to {endpoint}/authorize. Only HTTP 200 with decision "Permit" permits.
func (c *PolicyClient) Check(ctx context.Context, user, resource, action string, attrs map[string]any) (bool, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	body, err := json.Marshal(authorizeRequest{User: user, Resource: resource, Action: action, Context: attrs})
	if err != nil {
		return false, fmt.Errorf("%w: encode: %v", core.ErrPolicyUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/authorize", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrPolicyUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrPolicyUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("%w: status %d", core.ErrPolicyUnavailable, resp.StatusCode)
	}
	var out authorizeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: decode: %v", core.ErrPolicyUnavailable, err)
	}
	return out.Decision == decisionPermit, nil
}

// Permissions fetches {endpoint}/permissions/{user}. It is informational: any failure
// yields an empty map.
func (c *PolicyClient) Permissions(ctx context.Context, user string) map[string]any {
	perms, err := c.permissions(ctx, user)
	if err != nil {
		logrus.WithError(err).WithField("user", user).Warn("pdp_permissions_query_failed")
		return map[string]any{}
	}
	return perms
}

func (c *PolicyClient) permissions(ctx context.Context, user string) (map[string]any, error) {
	if strings.TrimSpace(user) == "" {
		return nil, errors.New("empty user")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/permissions/"+url.PathEscape(user), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	perms := map[string]any{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&perms); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return perms, nil
}

// PolicyDecider delegates decisions for managed identity callers to a PolicyChecker.
type PolicyDecider struct {
	pdp PolicyChecker
}

func NewPolicyDecider(pdp PolicyChecker) *PolicyDecider { return &PolicyDecider{pdp: pdp} }

func (d *PolicyDecider) Decide(ctx context.Context, id core.Identity, req core.Requirement, attrs RequestAttrs) core.Decision {
	if !id.IsManagedIdentity() {
		return core.Deny(core.ErrNotManagedIdentity, "Invalid token - managed identity required")
	}
	if id.ObjectID == "" {
		return core.Deny(core.ErrMissingPrincipal, "Invalid token - missing user identity")
	}
	if req.Resource == "" || req.Action == "" {
		return core.Deny(core.ErrPolicyDenied, "Access denied. No permission is configured for this route")
	}
	reason := fmt.Sprintf("Access denied. Required permission: %s on %s", req.Action, req.Resource)
	if d.pdp == nil {
		return core.Deny(core.ErrPolicyUnavailable, reason)
	}

	pctx := map[string]any{
		"client_id":      id.AppID,
		"tenant_id":      id.TenantID,
		"request_path":   attrs.Path,
		"request_method": attrs.Method,
	}
	for k, v := range attrs.Extra {
		pctx[k] = v
	}

	ok, err := d.pdp.Check(ctx, id.ObjectID, req.Resource, req.Action, pctx)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"principal": id.ObjectID,
			"resource":  req.Resource,
			"action":    req.Action,
		}).Error("pdp_authorize_failed")
		return core.Deny(core.ErrPolicyUnavailable, reason)
	}
	if !ok {
		return core.Deny(core.ErrPolicyDenied, reason)
	}
	return core.Permit()
}
