package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"

	"github.com/seaword/apicore/internal/apihttp"
	"github.com/seaword/apicore/internal/apiversion"
	"github.com/seaword/apicore/internal/cacheprofile"
	"github.com/seaword/apicore/internal/cfg"
	"github.com/seaword/apicore/internal/httpmw"
	"github.com/seaword/apicore/internal/httpserver"
	"github.com/seaword/apicore/internal/keysource"
	"github.com/seaword/apicore/internal/log"
	"github.com/seaword/apicore/internal/metrics"
	"github.com/seaword/apicore/internal/opshttp"
	"github.com/seaword/apicore/internal/originpolicy"
	"github.com/seaword/apicore/internal/otelx"
	"github.com/seaword/apicore/internal/pipeline"
	"github.com/seaword/apicore/internal/probe"
	"github.com/seaword/apicore/internal/prof"
	"github.com/seaword/apicore/internal/ratelimit"
	"github.com/seaword/apicore/internal/token"
	v "github.com/seaword/apicore/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables and validate
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        v.AppName,
		Version:    vi.Version,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"token_alg", conf.TokenAlg,
		"validate_issuer", conf.ValidateIssuer,
		"validate_audience", conf.ValidateAudience,
		"default_version", conf.DefaultVersion,
		"declared_versions", conf.DeclaredVersions,
		"version_reject_status", conf.VersionRejectStatus,
		"cache_short_ttl", conf.CacheShortTTL,
		"cache_long_ttl", conf.CacheLongTTL,
		"cors_origins", conf.CORSOrigins,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	// Profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":     v.AppName,
			"version": vi.Version,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Tracing. Insecure because the collector runs on localhost.
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: true,
		Sample:   conf.TraceSample,
		Service:  v.AppName,
		Version:  vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetProfilingActive(conf.EnablePyroscope)

	// Resolve token key material before any listener opens: the validator's
	// key is part of the startup barrier, missing material is fatal.
	tokenOpts := token.Options{
		Alg:              conf.TokenAlg,
		Issuer:           conf.TokenIssuer,
		Audience:         conf.TokenAudience,
		ValidateIssuer:   conf.ValidateIssuer,
		ValidateAudience: conf.ValidateAudience,
		Leeway:           conf.TokenLeeway,
	}
	switch conf.TokenAlg {
	case token.AlgRS256:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		src := keysource.NewKMSPublicKey(kms.NewFromConfig(awsCfg), conf.TokenKMSKeyARN)
		pub, err := src.PublicKey(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to fetch RS256 public key from KMS", "key_arn", conf.TokenKMSKeyARN)
			os.Exit(1)
		}
		tokenOpts.PublicKey = pub
	default:
		var src keysource.Source = keysource.Static([]byte(conf.TokenHMACSecret))
		if conf.TokenSecretSSMParam != "" {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				L.Error(ctx, err, "failed to load AWS config")
				os.Exit(1)
			}
			src = keysource.NewSSMParameter(ssm.NewFromConfig(awsCfg), conf.TokenSecretSSMParam)
		}
		key, err := src.Key(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to resolve HS256 signing secret")
			os.Exit(1)
		}
		tokenOpts.HMACKey = key
	}

	validator, err := token.NewValidator(tokenOpts)
	if err != nil {
		L.Error(ctx, err, "failed to build token validator")
		os.Exit(1)
	}

	// Version registry and negotiation strategies, fixed for the process
	defVer, declared, err := conf.Versions()
	if err != nil {
		L.Error(ctx, err, "failed to parse version configuration")
		os.Exit(1)
	}
	verReg, err := apiversion.NewRegistry(defVer, declared...)
	if err != nil {
		L.Error(ctx, err, "failed to build version registry")
		os.Exit(1)
	}
	strategies := []apiversion.Strategy{apiversion.FromPath()}
	if conf.VersionFromQuery {
		strategies = append(strategies, apiversion.FromQuery())
	}
	if conf.VersionFromHeader {
		strategies = append(strategies, apiversion.FromHeader())
	}
	negotiator, err := apiversion.NewNegotiator(verReg, conf.ReportVersions, strategies...)
	if err != nil {
		L.Error(ctx, err, "failed to build version negotiator")
		os.Exit(1)
	}

	cacheReg, err := cacheprofile.DefaultRegistry(conf.CacheShortTTL, conf.CacheLongTTL)
	if err != nil {
		L.Error(ctx, err, "failed to build cache profile registry")
		os.Exit(1)
	}

	origin := originpolicy.Policy{
		AllowedOrigins: cfg.SplitList(conf.CORSOrigins),
		AllowedMethods: cfg.SplitList(conf.CORSMethods),
		AllowedHeaders: cfg.SplitList(conf.CORSHeaders),
		MaxAge:         conf.CORSMaxAge,
	}
	if origin.IsPermissive() {
		L.Warn(ctx, "origin policy permits any origin; set -cors-origins to restrict")
	}

	composer, err := pipeline.NewComposer(pipeline.Options{
		Validator:           validator,
		Negotiator:          negotiator,
		Cache:               cacheReg,
		Origin:              origin,
		VersionRejectStatus: conf.VersionRejectStatus,
		Metrics:             m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to build pipeline composer")
		os.Exit(1)
	}
	api := apihttp.NewAPI(composer, verReg)

	// Shutdown gate for readiness during drain
	var gate probe.ShutdownGate
	readiness := probe.Multi(gate.Probe())

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitPerSecond, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimited()
		}),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			L.Warn(ctx, "rate limit visitor map full, rejecting new visitors until eviction")
		}),
	)

	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:         L,
		Port:           conf.HTTPPort,
		UseRecoverMW:   true,
		OnPanic:        m.IncPanic,
		OriginMW:       composer.OriginMiddleware(),
		RegisterRoutes: func(r chi.Router) error { return api.RegisterRoutes(r) },
		MetricsMW:      m.Middleware,
		RateLimitMW:    limiter.Middleware,
		ClientIPOpts:   httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MaxBodyBytes:   conf.MaxBodyBytes,
		Health:         probe.Static(true, ""),
		Readiness:      readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       probe.Static(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	L.Info(ctx, "startup complete, serving")

	// wait for ctrl+c / sigterm
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so load balancers stop sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(5 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}
