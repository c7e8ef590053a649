package apiversion

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seaword/apicore/internal/xerrors"
)

// Header and query parameter names for the non-path extraction strategies.
const (
	QueryParam = "api-version"
	Header     = "X-Api-Version"

	// SupportedHeader enumerates the declared versions on responses when
	// reporting is enabled.
	SupportedHeader = "X-Api-Supported-Versions"

	// PathParam is the chi route parameter holding the path version segment,
	// from patterns like /api/v{version}/...
	PathParam = "version"
)

// Strategy extracts a raw version indicator from a request, or "" when the
// request carries none via this strategy.
type Strategy interface {
	Name() string
	Extract(r *http.Request) string
}

type strategyFunc struct {
	name string
	fn   func(*http.Request) string
}

func (s strategyFunc) Name() string                   { return s.name }
func (s strategyFunc) Extract(r *http.Request) string { return s.fn(r) }

// FromPath reads the version from the route's v{version} path segment.
// This is the primary strategy.
func FromPath() Strategy {
	return strategyFunc{name: "path", fn: func(r *http.Request) string {
		return chi.URLParam(r, PathParam)
	}}
}

// FromQuery reads the api-version query parameter.
func FromQuery() Strategy {
	return strategyFunc{name: "query", fn: func(r *http.Request) string {
		return r.URL.Query().Get(QueryParam)
	}}
}

// FromHeader reads the X-Api-Version request header.
func FromHeader() Strategy {
	return strategyFunc{name: "header", fn: func(r *http.Request) string {
		return r.Header.Get(Header)
	}}
}

// Negotiator resolves a request's version against the registry using a fixed
// ordered strategy list. Precedence is positional: when several strategies
// yield an indicator for the same request, the earliest configured one wins,
// so conflicting inputs always resolve the same way.
type Negotiator struct {
	registry   *Registry
	strategies []Strategy
	report     bool
}

// NewNegotiator builds a negotiator. Strategy order is the precedence order
// and is fixed for the process lifetime. report controls whether responses
// are annotated with the declared-version list (default on at the cfg layer).
func NewNegotiator(reg *Registry, report bool, strategies ...Strategy) (*Negotiator, error) {
	if reg == nil {
		return nil, xerrors.New("apiversion: negotiator requires a registry")
	}
	if len(strategies) == 0 {
		strategies = []Strategy{FromPath()}
	}
	return &Negotiator{registry: reg, strategies: strategies, report: report}, nil
}

// Negotiate resolves exactly one version for the request.
func (n *Negotiator) Negotiate(r *http.Request) (Version, error) {
	for _, s := range n.strategies {
		if indicator := s.Extract(r); indicator != "" {
			return n.registry.Resolve(indicator)
		}
	}
	return n.registry.Default(), nil
}

func (n *Negotiator) Registry() *Registry { return n.registry }

// ReportSupported says whether responses should carry SupportedHeader.
func (n *Negotiator) ReportSupported() bool { return n.report }
