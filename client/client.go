// Package client calls the plan API as a workload: it acquires bearer tokens for the
// API scope, caches them, and maps error responses onto typed errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrUpstream     = errors.New("upstream_error")
)

// APIError is a non-2xx answer from the API. Message carries the server's "error" text
// when the body is the JSON error envelope.
type APIError struct {
	Status  int
	Message string
	Body    string
	Kind    error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Body)
}

func (e *APIError) Unwrap() error { return e.Kind }

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	scope   string
	tokens  *Acquirer
	hc      *http.Client
}

func New(baseURL, scope string, tokens *Acquirer, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), scope: scope, tokens: tokens, hc: hc}
}

// Do sends one authenticated request. body, when non-nil, is sent as JSON. A 401 clears
// the cached token so the next call acquires a fresh one; the call itself is not retried.
func (c *Client) Do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	tok, err := c.tokens.Token(ctx, c.scope)
	if err != nil {
		return nil, err
	}
	out, err := c.send(ctx, method, path, body, tok)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		if ierr := c.tokens.Invalidate(ctx, c.scope); ierr != nil {
			logrus.WithError(ierr).WithField("scope", c.scope).Warn("token_invalidate_failed")
		}
	}
	return out, err
}

func (c *Client) send(ctx context.Context, method, path string, body any, token string) (map[string]any, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		out := map[string]any{}
		if len(bytes.TrimSpace(raw)) == 0 {
			return out, nil
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	case http.StatusUnauthorized:
		return nil, newAPIError(resp.StatusCode, raw, ErrUnauthorized)
	case http.StatusForbidden:
		return nil, newAPIError(resp.StatusCode, raw, ErrForbidden)
	default:
		return nil, newAPIError(resp.StatusCode, raw, ErrUpstream)
	}
}

func newAPIError(status int, raw []byte, kind error) *APIError {
	e := &APIError{Status: status, Body: strings.TrimSpace(string(raw)), Kind: kind}
	var env struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil {
		e.Message = env.Error
	}
	return e
}

// Health is unauthenticated.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	return c.send(ctx, http.MethodGet, "/health", nil, "")
}

func (c *Client) ListPlans(ctx context.Context) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, "/api/plans", nil)
}

func (c *Client) CreatePlan(ctx context.Context, name string) (map[string]any, error) {
	return c.Do(ctx, http.MethodPost, "/api/plans", map[string]string{"name": name})
}

func (c *Client) ListAccounts(ctx context.Context) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, "/api/accounts", nil)
}

func (c *Client) UpdateAccountSettings(ctx context.Context, accountID uint64, settings map[string]any) (map[string]any, error) {
	return c.Do(ctx, http.MethodPut, fmt.Sprintf("/api/accounts/%d/settings", accountID), settings)
}

// Permissions is only served by policy-mode deployments.
func (c *Client) Permissions(ctx context.Context) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, "/api/user/permissions", nil)
}
