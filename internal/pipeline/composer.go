// Package pipeline composes the per-request policy chain: origin enforcement,
// bearer-token authentication, API version negotiation, and cache-profile
// application, in that order, ahead of handler dispatch.
//
// The Composer owns the ordering contract. Each stage either moves the
// request forward or produces a terminal Rejection; once rejected no later
// stage runs. Origin enforcement is the outermost stage so a denied preflight
// never touches auth or versioning. Dispatch is guaranteed to see a resolved
// version, and a valid claim set on routes that require authentication.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/seaword/apicore/internal/apiversion"
	"github.com/seaword/apicore/internal/cacheprofile"
	"github.com/seaword/apicore/internal/log"
	"github.com/seaword/apicore/internal/metrics"
	"github.com/seaword/apicore/internal/originpolicy"
	"github.com/seaword/apicore/internal/token"
	"github.com/seaword/apicore/internal/xerrors"
)

// Options configures a Composer. Validator, Negotiator, and Cache are
// required. Metrics is optional (nil skips counter updates, used in tests).
type Options struct {
	Validator  *token.Validator
	Negotiator *apiversion.Negotiator
	Cache      *cacheprofile.Registry
	Origin     originpolicy.Policy

	// VersionRejectStatus is the status code for an unsupported version
	// rejection. Only 400 and 404 are accepted; zero means 400.
	VersionRejectStatus int

	Metrics *metrics.ServerMetrics
}

// StageOptions are the per-route knobs bound at route registration.
type StageOptions struct {
	// RequireAuth rejects the request with 401 unless it carries a valid
	// bearer credential.
	RequireAuth bool

	// CacheProfile names a registered cache profile to apply to the
	// response. Empty means no cache directives.
	CacheProfile string
}

type Composer struct {
	validator  *token.Validator
	negotiator *apiversion.Negotiator
	cache      *cacheprofile.Registry
	originMW   func(http.Handler) http.Handler
	metrics    *metrics.ServerMetrics

	versionRejectStatus int
}

// NewComposer builds the composer and compiles the origin policy. All
// failures here are startup configuration errors.
func NewComposer(o Options) (*Composer, error) {
	if o.Validator == nil {
		return nil, xerrors.New("pipeline: token validator is required")
	}
	if o.Negotiator == nil {
		return nil, xerrors.New("pipeline: version negotiator is required")
	}
	if o.Cache == nil {
		return nil, xerrors.New("pipeline: cache profile registry is required")
	}

	status := o.VersionRejectStatus
	switch status {
	case 0:
		status = http.StatusBadRequest
	case http.StatusBadRequest, http.StatusNotFound:
	default:
		return nil, xerrors.Newf("pipeline: version reject status must be 400 or 404, got %d", status)
	}

	originMW, err := o.Origin.Middleware()
	if err != nil {
		return nil, xerrors.Wrap(err, "pipeline: compiling origin policy")
	}

	return &Composer{
		validator:           o.Validator,
		negotiator:          o.Negotiator,
		cache:               o.Cache,
		originMW:            originMW,
		metrics:             o.Metrics,
		versionRejectStatus: status,
	}, nil
}

// OriginMiddleware is the first stage of the chain. Mount it around the
// router so denied cross-origin requests terminate before any route-level
// stage runs. The CORS layer writes the 403 itself with no internal detail.
func (c *Composer) OriginMiddleware() func(http.Handler) http.Handler {
	return c.originMW
}

// Endpoint binds the remaining stages (auth, version, cache) around next for
// one route. The cache profile lookup happens here, at registration time, so
// a typo in a profile name fails startup rather than a live request.
func (c *Composer) Endpoint(opts StageOptions, next http.Handler) (http.Handler, error) {
	var profile cacheprofile.Profile
	var hasProfile bool
	if opts.CacheProfile != "" {
		p, err := c.cache.Get(opts.CacheProfile)
		if err != nil {
			return nil, xerrors.Wrapf(err, "pipeline: binding route cache profile %q", opts.CacheProfile)
		}
		profile = p
		hasProfile = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := c.evaluate(r, opts)
		if out.Reject != nil {
			c.reject(w, r, out.Reject)
			return
		}

		ctx := r.Context()
		if out.Claims != nil {
			ctx = WithClaims(ctx, out.Claims)
		}
		ctx = WithVersion(ctx, out.Version)

		if c.negotiator.ReportSupported() {
			w.Header().Set(apiversion.SupportedHeader,
				apiversion.FormatList(c.negotiator.Registry().Declared()))
		}
		if hasProfile {
			profile.Apply(w.Header())
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	}), nil
}

// evaluate runs the auth and version stages in order and returns the verdict.
// It writes nothing; response rendering belongs to reject and the handler.
func (c *Composer) evaluate(r *http.Request, opts StageOptions) Outcome {
	var out Outcome

	if opts.RequireAuth {
		raw, err := token.ParseBearer(r.Header.Get("Authorization"))
		if err != nil {
			out.Reject = &Rejection{Kind: RejectUnauthorized, Detail: authReason(err), Err: err}
			return out
		}
		claims, err := c.validator.Validate(raw)
		if err != nil {
			out.Reject = &Rejection{Kind: RejectUnauthorized, Detail: authReason(err), Err: err}
			return out
		}
		out.Claims = claims
	}

	ver, err := c.negotiator.Negotiate(r)
	if err != nil {
		out.Reject = &Rejection{Kind: RejectUnsupportedVersion, Detail: "unsupported_version", Err: err}
		return out
	}
	out.Version = ver

	return out
}

// authReason maps a validation failure onto a stable metric/log label.
func authReason(err error) string {
	switch {
	case errors.Is(err, token.ErrMissing):
		return "missing"
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, token.ErrClaimMismatch):
		return "claim_mismatch"
	default:
		return "malformed"
	}
}

func (c *Composer) reject(w http.ResponseWriter, r *http.Request, rej *Rejection) {
	L := log.FromContext(r.Context())

	switch rej.Kind {
	case RejectUnauthorized:
		L.Warn(r.Context(), "request rejected: unauthorized", "reason", rej.Detail)
		if c.metrics != nil {
			c.metrics.IncAuthRejected(rej.Detail)
		}
		if rej.Detail == "missing" {
			w.Header().Set("WWW-Authenticate", "Bearer")
		} else {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")

	case RejectUnsupportedVersion:
		supported := apiversion.FormatList(c.negotiator.Registry().Declared())
		L.Warn(r.Context(), "request rejected: unsupported api version",
			"supported", supported, "detail", errText(rej.Err))
		if c.metrics != nil {
			c.metrics.IncVersionRejected()
		}
		// guidance header so clients can discover what to send instead
		w.Header().Set(apiversion.SupportedHeader, supported)
		writeJSONError(w, c.versionRejectStatus, "unsupported api version")

	default:
		// origin denials are written by the CORS middleware itself and never
		// reach this path; anything else is a composer bug
		L.Error(r.Context(), rej.Err, "request rejected with unrenderable kind", "kind", rej.Kind.String())
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
