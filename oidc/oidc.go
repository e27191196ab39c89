package oidckit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zitadel/oidc/v2/pkg/client"
)

// Endpoints are the parts of an OIDC discovery document this module consumes.
type Endpoints struct {
	Issuer        string
	JWKSURI       string
	TokenEndpoint string
}

// Discover fetches <issuer>/.well-known/openid-configuration. The document must name
// the same issuer it was requested for. The fetch itself does not observe ctx; hc's
// Timeout is what bounds it, so pass a client with one set. ctx is only checked up front.
func Discover(ctx context.Context, issuer string, hc *http.Client) (Endpoints, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return Endpoints{}, errors.New("issuer required")
	}
	if err := ctx.Err(); err != nil {
		return Endpoints{}, err
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	doc, err := client.Discover(issuer, hc)
	if err != nil {
		return Endpoints{}, fmt.Errorf("discover %s: %w", issuer, err)
	}
	if doc.JwksURI == "" {
		return Endpoints{}, fmt.Errorf("discover %s: document has no jwks_uri", issuer)
	}
	return Endpoints{Issuer: doc.Issuer, JWKSURI: doc.JwksURI, TokenEndpoint: doc.TokenEndpoint}, nil
}
