// Package cacheprofile maps named, pre-registered caching profiles onto
// concrete response directives (Cache-Control, Vary).
//
// Profiles are registered once at startup and bound to routes by name at
// route-registration time, so an unknown profile name is a configuration
// error surfaced before serving, never a runtime error. The registry is
// immutable after startup; request-time lookups need no locking.
package cacheprofile

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seaword/apicore/internal/xerrors"
)

// Location says which caches may store the response.
type Location int

const (
	// Shared allows any cache, including proxies and CDNs ("public").
	Shared Location = iota
	// Private restricts storage to the client's own cache.
	Private
)

// Profile is a named bundle of response-caching directives.
type Profile struct {
	// MaxAge is the freshness lifetime rendered as max-age seconds.
	MaxAge time.Duration

	// Location selects public vs private storage.
	Location Location

	// NoStore, when set, forbids caching entirely and overrides MaxAge
	// and Location.
	NoStore bool

	// VaryBy lists request headers the cached response varies by.
	VaryBy []string
}

// Directive renders the Cache-Control header value. Output is deterministic
// for a given profile.
func (p Profile) Directive() string {
	if p.NoStore {
		return "no-store"
	}
	loc := "public"
	if p.Location == Private {
		loc = "private"
	}
	return loc + ", max-age=" + strconv.Itoa(int(p.MaxAge/time.Second))
}

// Apply sets the profile's directives on a response header set. It touches
// only response metadata, never request state.
func (p Profile) Apply(h http.Header) {
	h.Set("Cache-Control", p.Directive())
	if len(p.VaryBy) > 0 && !p.NoStore {
		h.Set("Vary", strings.Join(p.VaryBy, ", "))
	}
}

// Registry holds the process-wide named profiles. Build it with Register
// calls during startup, then treat it as read-only.
type Registry struct {
	profiles map[string]Profile
	sealed   bool
}

func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]Profile)}
}

// Register adds a named profile. Name collisions and registration after
// Seal are configuration errors.
func (r *Registry) Register(name string, p Profile) error {
	if r.sealed {
		return xerrors.Newf("cacheprofile: registry is sealed, cannot register %q", name)
	}
	if name == "" {
		return xerrors.New("cacheprofile: profile name must be non-empty")
	}
	if _, dup := r.profiles[name]; dup {
		return xerrors.Newf("cacheprofile: duplicate profile name %q", name)
	}
	if !p.NoStore && p.MaxAge <= 0 {
		return xerrors.Newf("cacheprofile: profile %q must have a positive max age", name)
	}
	r.profiles[name] = p
	return nil
}

// Seal marks the end of registration. Called once, before serving begins.
func (r *Registry) Seal() { r.sealed = true }

// Get looks a profile up by name at route-registration time.
func (r *Registry) Get(name string) (Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, xerrors.Newf("cacheprofile: no profile registered under %q (have: %s)",
			name, strings.Join(r.Names(), ", "))
	}
	return p, nil
}

// Names returns the registered profile names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Standard profile names bound by the default configuration.
const (
	ProfileShort = "short"
	ProfileLong  = "long"
)

// DefaultRegistry builds the stock registry with the two standard profiles.
// Both vary by the version header so caches keep versioned responses apart.
func DefaultRegistry(shortTTL, longTTL time.Duration) (*Registry, error) {
	reg := NewRegistry()
	if err := reg.Register(ProfileShort, Profile{MaxAge: shortTTL, Location: Shared, VaryBy: []string{"X-Api-Version"}}); err != nil {
		return nil, err
	}
	if err := reg.Register(ProfileLong, Profile{MaxAge: longTTL, Location: Shared, VaryBy: []string{"X-Api-Version"}}); err != nil {
		return nil, err
	}
	reg.Seal()
	return reg, nil
}
