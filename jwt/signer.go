package jwtkit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Signer issues RS256 tokens. Used by the test issuer.
type Signer interface {
	Sign(ctx context.Context, claims map[string]any) (string, error)
	KID() string
	PublicKey() *rsa.PublicKey
}

type RSASigner struct {
	key *rsa.PrivateKey
	kid string
}

// NewRSASigner generates a fresh RSA key of the given size.
func NewRSASigner(bits int, kid string) (*RSASigner, error) {
	if kid == "" {
		return nil, errors.New("kid required")
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &RSASigner{key: key, kid: kid}, nil
}

// NewRSASignerFromKey wraps an existing private key.
func NewRSASignerFromKey(key *rsa.PrivateKey, kid string) *RSASigner {
	return &RSASigner{key: key, kid: kid}
}

func (s *RSASigner) KID() string               { return s.kid }
func (s *RSASigner) PublicKey() *rsa.PublicKey { return &s.key.PublicKey }

func (s *RSASigner) Sign(ctx context.Context, claims map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(claims))
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.key)
}

// BaseClaims returns the registered claims every issued access token carries.
func BaseClaims(issuer, subject, audience string, ttl time.Duration) map[string]any {
	now := time.Now()
	return map[string]any{
		"iss": issuer,
		"sub": subject,
		"aud": audience,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
}
