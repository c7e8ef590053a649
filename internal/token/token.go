// Package token validates bearer credentials and extracts their claim sets.
//
// Validation is a pure computation against key material fixed at startup:
// no shared state is touched, so a single Validator is safe for unlimited
// concurrent use. Tokens are validated fresh on every request; there is no
// session cache.
package token

import (
	"crypto"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/seaword/apicore/internal/xerrors"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
)

// ClaimSet is the validated identity extracted from a credential. It is
// owned by the request that produced it and discarded at end of request.
type ClaimSet struct {
	Subject   string
	Roles     []string
	Issuer    string
	ExpiresAt time.Time

	// Raw holds the full claim map for downstream consumers that need
	// non-standard claims. Callers must treat it as read-only.
	Raw map[string]any
}

// Options configures a Validator. Issuer and audience checks are off by
// default; both are deliberate, named switches rather than hard-coded
// behavior so a stricter deployment can opt in without code changes.
type Options struct {
	// Alg selects the signing algorithm, AlgHS256 or AlgRS256.
	Alg string

	// HMACKey is the symmetric signing secret (AlgHS256). Must be non-empty;
	// an absent key is a startup error, never a per-request one.
	HMACKey []byte

	// PublicKey verifies AlgRS256 signatures, typically sourced from KMS.
	PublicKey crypto.PublicKey

	Issuer           string
	Audience         string
	ValidateIssuer   bool
	ValidateAudience bool

	// Leeway tolerates small clock skew when checking expiry.
	Leeway time.Duration
}

// Validator checks credential signatures and expiry. Construct once at
// startup with NewValidator; the zero value is not usable.
type Validator struct {
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc
}

func NewValidator(opts Options) (*Validator, error) {
	var keyfunc jwt.Keyfunc

	switch opts.Alg {
	case AlgHS256, "":
		if len(opts.HMACKey) == 0 {
			return nil, xerrors.New("token: HMAC signing key must be non-empty")
		}
		key := opts.HMACKey
		keyfunc = func(*jwt.Token) (any, error) { return key, nil }
		opts.Alg = AlgHS256
	case AlgRS256:
		if opts.PublicKey == nil {
			return nil, xerrors.New("token: RS256 public key must be configured")
		}
		pub := opts.PublicKey
		keyfunc = func(*jwt.Token) (any, error) { return pub, nil }
	default:
		return nil, xerrors.Newf("token: unsupported signing algorithm %q", opts.Alg)
	}

	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{opts.Alg}),
		jwt.WithExpirationRequired(),
	}
	if opts.Leeway > 0 {
		popts = append(popts, jwt.WithLeeway(opts.Leeway))
	}
	if opts.ValidateIssuer {
		if opts.Issuer == "" {
			return nil, xerrors.New("token: issuer validation enabled but no issuer configured")
		}
		popts = append(popts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.ValidateAudience {
		if opts.Audience == "" {
			return nil, xerrors.New("token: audience validation enabled but no audience configured")
		}
		popts = append(popts, jwt.WithAudience(opts.Audience))
	}

	return &Validator{
		parser:  jwt.NewParser(popts...),
		keyfunc: keyfunc,
	}, nil
}

// Validate checks raw and returns its claim set. Failures wrap one of the
// package sentinel errors. Validate is idempotent: the same unexpired,
// correctly signed credential always yields the same claim set.
func (v *Validator) Validate(raw string) (*ClaimSet, error) {
	if raw == "" {
		return nil, ErrMissing
	}

	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.keyfunc); err != nil {
		return nil, classify(err)
	}

	cs := &ClaimSet{Raw: claims}
	if sub, err := claims.GetSubject(); err == nil {
		cs.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		cs.Issuer = iss
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		cs.ExpiresAt = exp.Time
	}
	cs.Roles = rolesFromClaims(claims)

	return cs, nil
}

func rolesFromClaims(claims jwt.MapClaims) []string {
	vals, ok := claims["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

// classify maps jwt/v5 parse errors onto the package's failure kinds,
// keeping the original error in the chain for logging.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %w", ErrClaimMismatch, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}

// ParseBearer extracts the credential from an Authorization header value of
// the form "Bearer <token>". The scheme comparison is case-insensitive.
func ParseBearer(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", ErrMissing
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: authorization header is not a bearer credential", ErrMalformed)
	}
	return parts[1], nil
}

// Issue signs an HS256 credential with the given subject, roles, and
// lifetime. It exists for tests and local development seeding; apicore does
// not run a token issuance service.
func Issue(key []byte, issuer, subject string, roles []string, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", xerrors.New("token: signing key must be non-empty")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": subject,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", xerrors.Wrap(err, "token: signing credential")
	}
	return signed, nil
}
