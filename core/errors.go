package core

import "errors"

// Token validation failures. The guard answers all of these with 401.
var (
	ErrAuthHeaderMissing = errors.New("Authorization header required")
	ErrMalformedToken    = errors.New("malformed_token")
	ErrExpiredToken      = errors.New("token_expired")
	ErrKeyNotFound       = errors.New("key_not_found")
	ErrAudienceMismatch  = errors.New("bad_audience")
	ErrIssuerMismatch    = errors.New("bad_issuer")
	ErrMissingSubject    = errors.New("missing_subject")
)

// Access decision failures. The guard answers all of these with 403.
var (
	ErrInsufficientRole   = errors.New("insufficient_role")
	ErrPolicyDenied       = errors.New("policy_denied")
	ErrPolicyUnavailable  = errors.New("policy_unavailable")
	ErrNotManagedIdentity = errors.New("not_managed_identity")
	ErrMissingPrincipal   = errors.New("missing_principal")
)

// IsValidationError reports whether err is one of the token validation failures.
func IsValidationError(err error) bool {
	for _, e := range []error{ErrAuthHeaderMissing, ErrMalformedToken, ErrExpiredToken, ErrKeyNotFound, ErrAudienceMismatch, ErrIssuerMismatch, ErrMissingSubject} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// ReasonCode returns the taxonomy code for err (the sentinel's text), hiding wrapped detail.
func ReasonCode(err error) string {
	for _, e := range []error{
		ErrAuthHeaderMissing, ErrMalformedToken, ErrExpiredToken, ErrKeyNotFound, ErrAudienceMismatch,
		ErrIssuerMismatch, ErrMissingSubject, ErrInsufficientRole, ErrPolicyDenied, ErrPolicyUnavailable,
		ErrNotManagedIdentity, ErrMissingPrincipal,
	} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	if err == nil {
		return ""
	}
	return "unauthorized"
}
