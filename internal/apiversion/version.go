// Package apiversion resolves which declared API version a request targets.
//
// The declared-version registry is built once at startup and never mutated,
// so request-time lookups need no synchronization. A request with no version
// indicator resolves to the configured default rather than being rejected;
// an indicator naming an undeclared version is an UnsupportedError.
package apiversion

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/seaword/apicore/internal/xerrors"
)

// Version is an ordered (major, minor) pair identifying an API surface.
// Immutable once parsed.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// Less orders versions by major, then minor.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

// Parse accepts "v1", "v1.0", "1", and "1.0" forms. Minor defaults to 0.
func Parse(s string) (Version, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if raw == "" {
		return Version{}, xerrors.Newf("apiversion: empty version indicator %q", s)
	}

	majorStr, minorStr, hasMinor := strings.Cut(raw, ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil || major < 0 {
		return Version{}, xerrors.Newf("apiversion: invalid major version in %q", s)
	}

	v := Version{Major: major}
	if hasMinor {
		minor, err := strconv.Atoi(minorStr)
		if err != nil || minor < 0 {
			return Version{}, xerrors.Newf("apiversion: invalid minor version in %q", s)
		}
		v.Minor = minor
	}
	return v, nil
}

// UnsupportedError reports an indicator that named a version outside the
// declared registry. Supported carries the full declared list so responses
// can guide the client instead of failing bare.
type UnsupportedError struct {
	Requested string
	Supported []Version
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("apiversion: unsupported version %q (supported: %s)",
		e.Requested, FormatList(e.Supported))
}

// FormatList renders versions as a comma-separated ascending list.
func FormatList(vs []Version) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

// Registry is the immutable set of declared versions plus the default used
// when a request carries no indicator.
type Registry struct {
	declared map[Version]bool
	sorted   []Version
	def      Version
}

// NewRegistry declares the supported versions. The default must itself be
// declared; anything else is a startup configuration error.
func NewRegistry(def Version, declared ...Version) (*Registry, error) {
	if len(declared) == 0 {
		return nil, xerrors.New("apiversion: at least one version must be declared")
	}

	set := make(map[Version]bool, len(declared))
	sorted := make([]Version, 0, len(declared))
	for _, v := range declared {
		if set[v] {
			continue
		}
		set[v] = true
		sorted = append(sorted, v)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	if !set[def] {
		return nil, xerrors.Newf("apiversion: default version %s is not in the declared set (%s)",
			def, FormatList(sorted))
	}

	return &Registry{declared: set, sorted: sorted, def: def}, nil
}

// Default returns the version used when a request omits an indicator.
func (r *Registry) Default() Version { return r.def }

// Declared returns the declared versions in ascending order. The returned
// slice is shared; callers must not modify it.
func (r *Registry) Declared() []Version { return r.sorted }

// Resolve maps a raw indicator to a declared version. An empty indicator
// resolves to the default.
func (r *Registry) Resolve(indicator string) (Version, error) {
	if strings.TrimSpace(indicator) == "" {
		return r.def, nil
	}
	v, err := Parse(indicator)
	if err != nil {
		return Version{}, &UnsupportedError{Requested: indicator, Supported: r.sorted}
	}
	if !r.declared[v] {
		return Version{}, &UnsupportedError{Requested: indicator, Supported: r.sorted}
	}
	return v, nil
}
