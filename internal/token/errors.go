package token

import "errors"

// Validation failure kinds. Every failure returned by Validator.Validate
// wraps exactly one of these, so callers can classify with errors.Is without
// depending on the JWT library's error set.
var (
	// ErrMissing: no credential was presented at all.
	ErrMissing = errors.New("credential missing")

	// ErrMalformed: the credential is not a structurally valid token.
	ErrMalformed = errors.New("credential malformed")

	// ErrBadSignature: the signature does not verify against the configured key.
	ErrBadSignature = errors.New("credential signature invalid")

	// ErrExpired: the signature verifies but the token is past its expiry.
	ErrExpired = errors.New("credential expired")

	// ErrClaimMismatch: issuer or audience checks are enabled and the claim
	// does not match the configured value.
	ErrClaimMismatch = errors.New("credential claim mismatch")
)
