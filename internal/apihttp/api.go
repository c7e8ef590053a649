// Package apihttp is the demo handler surface behind the pipeline. Handlers
// consume the resolved version and claim set from the request context and
// never re-validate either.
package apihttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seaword/apicore/internal/apiversion"
	"github.com/seaword/apicore/internal/cacheprofile"
	"github.com/seaword/apicore/internal/log"
	"github.com/seaword/apicore/internal/pipeline"
	"github.com/seaword/apicore/internal/version"
)

// API mounts the versioned endpoints through the pipeline composer.
type API struct {
	Composer *pipeline.Composer
	Versions *apiversion.Registry
}

func NewAPI(c *pipeline.Composer, versions *apiversion.Registry) *API {
	return &API{Composer: c, Versions: versions}
}

// RegisterRoutes attaches the API surface under /api. Routes are mounted
// twice: with an explicit /v{version} segment and without one, the latter
// resolving to the default version. Cache profiles bind here, so an unknown
// profile name fails startup.
func (api *API) RegisterRoutes(r chi.Router) error {
	statusH, err := api.Composer.Endpoint(
		pipeline.StageOptions{CacheProfile: cacheprofile.ProfileShort},
		http.HandlerFunc(api.status))
	if err != nil {
		return err
	}
	versionsH, err := api.Composer.Endpoint(
		pipeline.StageOptions{CacheProfile: cacheprofile.ProfileLong},
		http.HandlerFunc(api.versions))
	if err != nil {
		return err
	}
	meH, err := api.Composer.Endpoint(
		pipeline.StageOptions{RequireAuth: true},
		http.HandlerFunc(api.me))
	if err != nil {
		return err
	}

	mount := func(r chi.Router) {
		r.Method(http.MethodGet, "/status", statusH)
		r.Method(http.MethodGet, "/versions", versionsH)
		r.Method(http.MethodGet, "/me", meH)
	}
	r.Route("/api/v{version}", mount)
	r.Route("/api", mount)
	return nil
}

type statusResponse struct {
	Status     string `json:"status"`
	ApiVersion string `json:"api_version"`
	Build      string `json:"build"`
}

func (api *API) status(w http.ResponseWriter, r *http.Request) {
	ver, _ := pipeline.VersionFromContext(r.Context())
	writeJSON(w, r, http.StatusOK, statusResponse{
		Status:     "ok",
		ApiVersion: ver.String(),
		Build:      version.Version,
	})
}

type versionsResponse struct {
	Default   string   `json:"default"`
	Supported []string `json:"supported"`
}

func (api *API) versions(w http.ResponseWriter, r *http.Request) {
	declared := api.Versions.Declared()
	supported := make([]string, 0, len(declared))
	for _, v := range declared {
		supported = append(supported, v.String())
	}
	writeJSON(w, r, http.StatusOK, versionsResponse{
		Default:   api.Versions.Default().String(),
		Supported: supported,
	})
}

type meResponse struct {
	Subject    string   `json:"subject"`
	Roles      []string `json:"roles,omitempty"`
	Issuer     string   `json:"issuer,omitempty"`
	ExpiresAt  string   `json:"expires_at"`
	ApiVersion string   `json:"api_version"`
}

func (api *API) me(w http.ResponseWriter, r *http.Request) {
	claims := pipeline.ClaimsFromContext(r.Context())
	if claims == nil {
		// composer contract violated, fail loud rather than serve an
		// unauthenticated identity response
		log.FromContext(r.Context()).Error(r.Context(), nil, "auth route dispatched without claims")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	ver, _ := pipeline.VersionFromContext(r.Context())
	writeJSON(w, r, http.StatusOK, meResponse{
		Subject:    claims.Subject,
		Roles:      claims.Roles,
		Issuer:     claims.Issuer,
		ExpiresAt:  claims.ExpiresAt.UTC().Format(time.RFC3339),
		ApiVersion: ver.String(),
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "encoding response body")
	}
}
