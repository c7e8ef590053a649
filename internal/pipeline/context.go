package pipeline

import (
	"context"

	"github.com/seaword/apicore/internal/apiversion"
	"github.com/seaword/apicore/internal/token"
)

type claimsKey struct{}
type versionKey struct{}

// WithClaims attaches a validated claim set to the context.
func WithClaims(ctx context.Context, c *token.ClaimSet) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the validated claim set, or nil when the route
// did not require authentication.
func ClaimsFromContext(ctx context.Context) *token.ClaimSet {
	if v := ctx.Value(claimsKey{}); v != nil {
		if c, ok := v.(*token.ClaimSet); ok {
			return c
		}
	}
	return nil
}

// WithVersion attaches the resolved API version to the context.
func WithVersion(ctx context.Context, v apiversion.Version) context.Context {
	return context.WithValue(ctx, versionKey{}, v)
}

// VersionFromContext returns the resolved API version. The bool is false only
// for requests that never went through the composer, handlers mounted behind
// it can ignore it.
func VersionFromContext(ctx context.Context) (apiversion.Version, bool) {
	if v := ctx.Value(versionKey{}); v != nil {
		if ver, ok := v.(apiversion.Version); ok {
			return ver, true
		}
	}
	return apiversion.Version{}, false
}
