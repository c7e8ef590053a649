// Package originpolicy decides whether cross-origin requests are permitted.
//
// The active policy is a plain, inspectable value fixed at startup; the
// enforcement middleware is built on github.com/jub0bs/cors and runs first
// in the request chain, so a denied preflight is terminal and never reaches
// authentication or version negotiation. Denials deliberately carry no
// detail beyond the status code.
package originpolicy

import (
	"net/http"
	"time"

	"github.com/jub0bs/cors"

	"github.com/seaword/apicore/internal/xerrors"
)

// Wildcard permits any value for the list it appears in.
const Wildcard = "*"

// Policy is the allow-list governing cross-origin requests. One policy is
// active per deployment; it is read-only after startup.
type Policy struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string

	// MaxAge bounds how long browsers may cache preflight results.
	MaxAge time.Duration
}

// Default permits any origin, any method, any header. Appropriate for a
// publicly consumed anonymous API; deployments needing stricter rules
// substitute their own policy through configuration, not code changes.
func Default() Policy {
	return Policy{
		AllowedOrigins: []string{Wildcard},
		AllowedMethods: []string{Wildcard},
		AllowedHeaders: []string{Wildcard},
		MaxAge:         10 * time.Minute,
	}
}

// IsPermissive reports whether the policy admits any origin.
func (p Policy) IsPermissive() bool {
	for _, o := range p.AllowedOrigins {
		if o == Wildcard {
			return true
		}
	}
	return false
}

// Middleware compiles the policy into enforcement middleware. Invalid or
// insecure policy combinations are rejected here, at startup.
func (p Policy) Middleware() (func(http.Handler) http.Handler, error) {
	cfg := cors.Config{
		Origins:         p.AllowedOrigins,
		Methods:         p.AllowedMethods,
		RequestHeaders:  p.AllowedHeaders,
		MaxAgeInSeconds: int(p.MaxAge / time.Second),
	}

	mw, err := cors.NewMiddleware(cfg)
	if err != nil {
		return nil, xerrors.Wrap(err, "originpolicy: compiling policy")
	}
	return mw.Wrap, nil
}
