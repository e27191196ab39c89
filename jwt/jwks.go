package jwtkit

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// RSAPublicToJWK converts pub into a signing JWK tagged with kid and RS256.
func RSAPublicToJWK(pub *rsa.PublicKey, kid string) (jwk.Key, error) {
	key, err := jwk.FromRaw(pub)
	if err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}
	return key, nil
}

// PublicJWKS builds the key set published for the given signers.
func PublicJWKS(signers ...Signer) (jwk.Set, error) {
	set := jwk.NewSet()
	for _, s := range signers {
		key, err := RSAPublicToJWK(s.PublicKey(), s.KID())
		if err != nil {
			return nil, fmt.Errorf("jwk %s: %w", s.KID(), err)
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// ServeJWKS writes set as a cacheable JSON document.
func ServeJWKS(w http.ResponseWriter, r *http.Request, set jwk.Set) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(set)
}
