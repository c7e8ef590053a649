// Package cfg is the startup configuration surface. Values come from CLI
// flags, environment variables (APICORE_ prefix), or defaults, in that
// precedence order. Validate aggregates every bad field into one error so an
// operator fixes a broken deploy in a single pass.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/seaword/apicore/internal/apiversion"
	"github.com/seaword/apicore/internal/log"
	"github.com/seaword/apicore/internal/token"
)

// EnvPrefix maps flag "foo-bar" to env var APICORE_FOO_BAR.
const EnvPrefix = "APICORE_"

type App struct {
	LogJSON  bool
	LogLevel string

	HTTPPort    int
	AdminPort   int
	EnablePprof bool

	EnableTracing bool
	OTLPEndpoint  string
	TraceSample   float64

	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	TrustedHops        int
	MaxBodyBytes       int64
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Token validation. Exactly one key source must be configured for the
	// selected algorithm: an inline secret or an SSM parameter for HS256, a
	// KMS key ARN for RS256.
	TokenAlg            string
	TokenHMACSecret     string
	TokenSecretSSMParam string
	TokenKMSKeyARN      string
	TokenIssuer         string
	TokenAudience       string
	ValidateIssuer      bool
	ValidateAudience    bool
	TokenLeeway         time.Duration

	// Version negotiation
	DefaultVersion      string
	DeclaredVersions    string
	ReportVersions      bool
	VersionRejectStatus int
	VersionFromQuery    bool
	VersionFromHeader   bool

	// Cache profiles
	CacheShortTTL time.Duration
	CacheLongTTL  time.Duration

	// Origin policy
	CORSOrigins string
	CORSMethods string
	CORSHeaders string
	CORSMaxAge  time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "trusted reverse proxies in front of us (X-Forwarded-For depth)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "maximum request body size in bytes")
	fs.Float64Var(&c.RateLimitPerSecond, "rate-limit-per-second", 10, "per-IP request refill rate")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 30, "per-IP request burst ceiling")

	fs.StringVar(&c.TokenAlg, "token-alg", token.AlgHS256, "credential signing algorithm (HS256|RS256)")
	fs.StringVar(&c.TokenHMACSecret, "token-hmac-secret", "", "HS256 signing secret (inline; prefer -token-secret-ssm-param)")
	fs.StringVar(&c.TokenSecretSSMParam, "token-secret-ssm-param", "", "SSM SecureString parameter holding the HS256 secret")
	fs.StringVar(&c.TokenKMSKeyARN, "token-kms-key-arn", "", "KMS key ARN providing the RS256 public key")
	fs.StringVar(&c.TokenIssuer, "token-issuer", "", "expected credential issuer")
	fs.StringVar(&c.TokenAudience, "token-audience", "", "expected credential audience")
	fs.BoolVar(&c.ValidateIssuer, "validate-issuer", false, "reject credentials whose issuer differs from -token-issuer")
	fs.BoolVar(&c.ValidateAudience, "validate-audience", false, "reject credentials whose audience differs from -token-audience")
	fs.DurationVar(&c.TokenLeeway, "token-leeway", 0, "clock skew tolerance for expiry checks")

	fs.StringVar(&c.DefaultVersion, "default-version", "1.0", "API version used when a request carries no indicator")
	fs.StringVar(&c.DeclaredVersions, "declared-versions", "1.0", "comma-separated list of served API versions")
	fs.BoolVar(&c.ReportVersions, "report-versions", true, "annotate responses with the supported-version list")
	fs.IntVar(&c.VersionRejectStatus, "version-reject-status", 400, "status for unsupported version rejections (400|404)")
	fs.BoolVar(&c.VersionFromQuery, "version-from-query", false, "also accept the api-version query parameter")
	fs.BoolVar(&c.VersionFromHeader, "version-from-header", false, "also accept the X-Api-Version header")

	fs.DurationVar(&c.CacheShortTTL, "cache-short-ttl", 30*time.Second, "duration of the short cache profile")
	fs.DurationVar(&c.CacheLongTTL, "cache-long-ttl", time.Hour, "duration of the long cache profile")

	fs.StringVar(&c.CORSOrigins, "cors-origins", "*", "comma-separated allowed origins (* for any)")
	fs.StringVar(&c.CORSMethods, "cors-methods", "*", "comma-separated allowed methods (* for any)")
	fs.StringVar(&c.CORSHeaders, "cors-headers", "*", "comma-separated allowed request headers (* for any)")
	fs.DurationVar(&c.CORSMaxAge, "cors-max-age", 10*time.Minute, "preflight cache lifetime")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// SplitList turns a comma-separated flag value into a trimmed slice,
// dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Versions parses the declared version list and the default. The default
// must itself appear in the declared list.
func (c App) Versions() (def apiversion.Version, declared []apiversion.Version, err error) {
	def, err = apiversion.Parse(c.DefaultVersion)
	if err != nil {
		return def, nil, fmt.Errorf("invalid DEFAULT_VERSION %q: %w", c.DefaultVersion, err)
	}
	for _, s := range SplitList(c.DeclaredVersions) {
		v, perr := apiversion.Parse(s)
		if perr != nil {
			return def, nil, fmt.Errorf("invalid entry %q in DECLARED_VERSIONS: %w", s, perr)
		}
		declared = append(declared, v)
	}
	if len(declared) == 0 {
		return def, nil, fmt.Errorf("DECLARED_VERSIONS must name at least one version")
	}
	for _, v := range declared {
		if v == def {
			return def, declared, nil
		}
	}
	return def, nil, fmt.Errorf("DEFAULT_VERSION %s is not in DECLARED_VERSIONS %q", def, c.DeclaredVersions)
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log level
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	// Tracing
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Pyroscope
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// Request hygiene
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive (got %d)", c.MaxBodyBytes))
	}
	if c.RateLimitPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_SECOND must be positive (got %g)", c.RateLimitPerSecond))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be at least 1 (got %d)", c.RateLimitBurst))
	}

	// Key material: absence is a fatal startup error, never a request error
	switch c.TokenAlg {
	case token.AlgHS256:
		if c.TokenHMACSecret == "" && c.TokenSecretSSMParam == "" {
			errs = append(errs, fmt.Errorf("HS256 requires TOKEN_HMAC_SECRET or TOKEN_SECRET_SSM_PARAM"))
		}
		if c.TokenHMACSecret != "" && c.TokenSecretSSMParam != "" {
			errs = append(errs, fmt.Errorf("TOKEN_HMAC_SECRET and TOKEN_SECRET_SSM_PARAM are mutually exclusive"))
		}
	case token.AlgRS256:
		if c.TokenKMSKeyARN == "" {
			errs = append(errs, fmt.Errorf("RS256 requires TOKEN_KMS_KEY_ARN"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid TOKEN_ALG %q (must be HS256 or RS256)", c.TokenAlg))
	}
	if c.ValidateIssuer && c.TokenIssuer == "" {
		errs = append(errs, fmt.Errorf("TOKEN_ISSUER required when VALIDATE_ISSUER=true"))
	}
	if c.ValidateAudience && c.TokenAudience == "" {
		errs = append(errs, fmt.Errorf("TOKEN_AUDIENCE required when VALIDATE_AUDIENCE=true"))
	}
	if c.TokenLeeway < 0 {
		errs = append(errs, fmt.Errorf("TOKEN_LEEWAY must not be negative (got %s)", c.TokenLeeway))
	}

	// Version negotiation
	if _, _, err := c.Versions(); err != nil {
		errs = append(errs, err)
	}
	if c.VersionRejectStatus != 400 && c.VersionRejectStatus != 404 {
		errs = append(errs, fmt.Errorf("VERSION_REJECT_STATUS must be 400 or 404 (got %d)", c.VersionRejectStatus))
	}

	// Cache profiles: both positive, distinct durations
	if c.CacheShortTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_SHORT_TTL must be positive (got %s)", c.CacheShortTTL))
	}
	if c.CacheLongTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_LONG_TTL must be positive (got %s)", c.CacheLongTTL))
	}
	if c.CacheShortTTL > 0 && c.CacheShortTTL == c.CacheLongTTL {
		errs = append(errs, fmt.Errorf("CACHE_SHORT_TTL and CACHE_LONG_TTL must differ (both %s)", c.CacheShortTTL))
	}

	// Origin policy
	if len(SplitList(c.CORSOrigins)) == 0 {
		errs = append(errs, fmt.Errorf("CORS_ORIGINS must not be empty"))
	}
	if c.CORSMaxAge < 0 {
		errs = append(errs, fmt.Errorf("CORS_MAX_AGE must not be negative (got %s)", c.CORSMaxAge))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
