package pipeline

import (
	"github.com/seaword/apicore/internal/apiversion"
	"github.com/seaword/apicore/internal/token"
)

// RejectKind classifies why the pipeline refused to dispatch a request.
type RejectKind int

const (
	RejectUnauthorized RejectKind = iota + 1
	RejectUnsupportedVersion

	// RejectOriginDenied names cross-origin refusals in the taxonomy. The
	// CORS middleware renders those responses itself, so the composer never
	// constructs this kind; it is here so logs and metrics share one
	// vocabulary for every way the pipeline can refuse a request.
	RejectOriginDenied
)

func (k RejectKind) String() string {
	switch k {
	case RejectUnauthorized:
		return "unauthorized"
	case RejectUnsupportedVersion:
		return "unsupported_version"
	case RejectOriginDenied:
		return "origin_denied"
	}
	return "unknown"
}

// Rejection carries the terminal decision for a refused request. Detail is a
// short machine-friendly token (metric label, log field), never raw error
// text bound for the client.
type Rejection struct {
	Kind   RejectKind
	Detail string
	Err    error
}

// Outcome is the composer's verdict for one request. Either Reject is set and
// the request must not be dispatched, or Version is resolved (and Claims set
// when the route requires authentication).
type Outcome struct {
	Claims  *token.ClaimSet
	Version apiversion.Version
	Reject  *Rejection
}
