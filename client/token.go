package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	core "github.com/open-rails/planauth/core"
	"github.com/sirupsen/logrus"
)

// Token is an access token and the instant it stops being accepted.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenFetcher obtains a fresh token for scope from the identity platform.
type TokenFetcher interface {
	Fetch(ctx context.Context, scope string) (Token, error)
}

// Acquirer caches tokens per scope in a core.KV. Entries expire ExpiryBuffer before the
// token itself so a cached token is never presented after it lapses.
type Acquirer struct {
	fetcher TokenFetcher
	kv      core.KV
	buffer  time.Duration
	now     func() time.Time

	// serializes fetches so concurrent callers on a cold cache share one round trip
	mu sync.Mutex
}

func NewAcquirer(f TokenFetcher, kv core.KV, buffer time.Duration) *Acquirer {
	if buffer < 0 {
		buffer = 0
	}
	return &Acquirer{fetcher: f, kv: kv, buffer: buffer, now: time.Now}
}

// WithClock overrides the time source.
func (a *Acquirer) WithClock(now func() time.Time) *Acquirer { a.now = now; return a }

// Token returns a cached token for scope, acquiring a new one when none is cached.
func (a *Acquirer) Token(ctx context.Context, scope string) (string, error) {
	if tok, ok := a.cached(ctx, scope); ok {
		return tok, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if tok, ok := a.cached(ctx, scope); ok {
		return tok, nil
	}

	t, err := a.fetcher.Fetch(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("acquire token for %s: %w", scope, err)
	}
	if strings.TrimSpace(t.AccessToken) == "" {
		return "", errors.New("acquire token: empty access token")
	}
	ttl := t.ExpiresAt.Sub(a.now()) - a.buffer
	if ttl <= 0 {
		// Too short-lived to cache; hand it out once.
		return t.AccessToken, nil
	}
	b, err := json.Marshal(t)
	if err == nil {
		err = a.kv.Set(ctx, cacheKey(scope), b, ttl)
	}
	if err != nil {
		logrus.WithError(err).WithField("scope", scope).Warn("token_cache_write_failed")
	}
	return t.AccessToken, nil
}

// Invalidate drops the cached token for scope so the next Token call re-acquires.
func (a *Acquirer) Invalidate(ctx context.Context, scope string) error {
	return a.kv.Del(ctx, cacheKey(scope))
}

func (a *Acquirer) cached(ctx context.Context, scope string) (string, bool) {
	b, ok, err := a.kv.Get(ctx, cacheKey(scope))
	if err != nil {
		logrus.WithError(err).WithField("scope", scope).Warn("token_cache_read_failed")
		return "", false
	}
	if !ok {
		return "", false
	}
	var t Token
	if err := json.Unmarshal(b, &t); err != nil || t.AccessToken == "" {
		return "", false
	}
	if !t.ExpiresAt.IsZero() && !a.now().Add(a.buffer).Before(t.ExpiresAt) {
		return "", false
	}
	return t.AccessToken, true
}

func cacheKey(scope string) string { return "token:" + scope }
