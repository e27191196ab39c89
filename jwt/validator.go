package jwtkit

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	core "github.com/open-rails/planauth/core"
	"github.com/sirupsen/logrus"
)

// Validator verifies access tokens locally against the issuer's published key set.
// Keys are cached for CacheTTL; a token carrying an unknown key id triggers a refetch
// before it is rejected with core.ErrKeyNotFound.
type Validator struct {
	cfg        core.ValidatorConfig
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	pubByKID    map[string]*rsa.PublicKey
	algByKID    map[string]string
	fetchedAt   time.Time
	expiresAt   time.Time
	lastRefresh time.Time
}

func NewValidator(cfg core.ValidatorConfig) *Validator {
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{jwt.SigningMethodRS256.Alg()}
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = core.DefaultKeyCacheTTL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: core.DefaultHTTPTimeout}
	}
	return &Validator{cfg: cfg, httpClient: hc, now: time.Now}
}

// WithClock replaces the time source used for expiry and cache checks. Intended for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	if now != nil {
		v.now = now
	}
	return v
}

// Config exposes the validator settings.
func (v *Validator) Config() core.ValidatorConfig { return v.cfg }

// Validate parses and verifies tokenStr and returns its claims. Failures wrap one of
// core.ErrMalformedToken, ErrExpiredToken, ErrKeyNotFound, ErrAudienceMismatch, ErrIssuerMismatch.
func (v *Validator) Validate(ctx context.Context, tokenStr string) (jwt.MapClaims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, core.ErrMalformedToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := jwt.MapClaims{}
	tok, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.keyForToken(ctx, t)
	})
	if err != nil {
		return nil, classify(err)
	}
	if tok == nil || !tok.Valid {
		return nil, core.ErrMalformedToken
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, core.ErrKeyNotFound):
		return fmt.Errorf("%w: %v", core.ErrKeyNotFound, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return core.ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return core.ErrAudienceMismatch
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return core.ErrIssuerMismatch
	default:
		return fmt.Errorf("%w: %v", core.ErrMalformedToken, err)
	}
}

// keyForToken resolves the verification key named by the token header. Only that key is
// ever returned: a token without a kid is rejected rather than tried against every key.
func (v *Validator) keyForToken(ctx context.Context, token *jwt.Token) (any, error) {
	if token == nil {
		return nil, core.ErrMalformedToken
	}
	kid, _ := token.Header["kid"].(string)
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", core.ErrMalformedToken)
	}
	pk, alg, err := v.publicKeyFor(ctx, kid)
	if err != nil {
		return nil, err
	}
	if alg != "" && token.Method != nil && alg != token.Method.Alg() {
		return nil, fmt.Errorf("%w: key %s is bound to %s", core.ErrMalformedToken, kid, alg)
	}
	return pk, nil
}

func (v *Validator) publicKeyFor(ctx context.Context, kid string) (*rsa.PublicKey, string, error) {
	v.mu.Lock()
	hasKeys := v.pubByKID != nil
	fresh := hasKeys && v.now().Before(v.expiresAt)
	v.mu.Unlock()

	refreshed := false
	if !fresh {
		if err := v.refresh(ctx); err != nil {
			if !hasKeys {
				return nil, "", fmt.Errorf("%w: %v", core.ErrKeyNotFound, err)
			}
			// Keep serving the stale set; the next request retries the fetch.
			logrus.WithError(err).WithField("jwks_url", v.cfg.JWKSURL).Warn("jwks_refresh_failed_using_stale")
		} else {
			refreshed = true
		}
	}

	if pk, alg, ok := v.lookup(kid); ok {
		return pk, alg, nil
	}

	// Unknown kid: the issuer may have rotated keys since the last fetch.
	if !refreshed && v.mayRefresh() {
		if err := v.refresh(ctx); err != nil {
			logrus.WithError(err).WithField("jwks_url", v.cfg.JWKSURL).Error("jwks_fetch_failed")
		} else if pk, alg, ok := v.lookup(kid); ok {
			return pk, alg, nil
		}
	}
	return nil, "", core.ErrKeyNotFound
}

func (v *Validator) lookup(kid string) (*rsa.PublicKey, string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pk := v.pubByKID[kid]
	if pk == nil {
		return nil, "", false
	}
	return pk, v.algByKID[kid], true
}

func (v *Validator) mayRefresh() bool {
	if v.cfg.RefreshCooldown <= 0 {
		return true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now().Sub(v.lastRefresh) >= v.cfg.RefreshCooldown
}

// refresh fetches the key set and replaces the cache. Concurrent refreshes race
// harmlessly: the last writer wins with equivalent or fresher keys.
func (v *Validator) refresh(ctx context.Context) error {
	url := strings.TrimSpace(v.cfg.JWKSURL)
	if url == "" {
		return errors.New("jwks_url_not_configured")
	}

	v.mu.Lock()
	v.lastRefresh = v.now()
	v.mu.Unlock()

	set, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(v.httpClient))
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	pubs, algs, err := rsaKeysFromSet(set)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	v.pubByKID = pubs
	v.algByKID = algs
	v.fetchedAt = now
	v.expiresAt = now.Add(v.cfg.CacheTTL)
	return nil
}

// FetchedAt reports when the key set was last fetched successfully.
func (v *Validator) FetchedAt() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fetchedAt
}

func rsaKeysFromSet(set jwk.Set) (map[string]*rsa.PublicKey, map[string]string, error) {
	pubs := map[string]*rsa.PublicKey{}
	algs := map[string]string{}
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok || key.KeyType() != jwa.RSA {
			continue
		}
		if use := key.KeyUsage(); use != "" && use != "sig" {
			continue
		}
		kid := strings.TrimSpace(key.KeyID())
		if kid == "" {
			continue
		}
		var pub rsa.PublicKey
		if err := key.Raw(&pub); err != nil {
			return nil, nil, fmt.Errorf("decode jwk %s: %w", kid, err)
		}
		pubs[kid] = &pub
		if alg := key.Algorithm(); alg != nil {
			algs[kid] = alg.String()
		}
	}
	if len(pubs) == 0 {
		return nil, nil, errors.New("empty_jwks")
	}
	return pubs, algs, nil
}
