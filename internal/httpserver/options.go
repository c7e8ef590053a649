package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seaword/apicore/internal/httpmw"
	"github.com/seaword/apicore/internal/log"
	"github.com/seaword/apicore/internal/probe"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()

	// OriginMW is the composer's origin enforcement stage, mounted around
	// the router so denied preflights never reach any route logic.
	OriginMW func(http.Handler) http.Handler

	// RegisterRoutes mounts the API surface onto the router; route-level
	// stage binding errors abort startup.
	RegisterRoutes func(chi.Router) error

	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	MaxBodyBytes int64

	Health    probe.Probe
	Readiness probe.Probe
}
