// Package metrics exposes the Prometheus registry and instruments for the
// API server: standard HTTP server metrics plus counters for every way the
// request pipeline can reject a request.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seaword/apicore/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight  prometheus.Gauge
	reqTotal  *prometheus.CounterVec
	reqDur    *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec

	httpPanicTotal       prometheus.Counter
	ratelimitDeniedTotal prometheus.Counter

	// pipeline rejections by stage outcome
	authRejectedTotal    *prometheus.CounterVec
	versionRejectedTotal prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code, rejection reason) to avoid
// cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		reg: reg,
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the per-IP rate limiter",
		}),
		authRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_auth_rejected_total",
			Help: "Requests rejected by credential validation, by failure kind",
		}, []string{"reason"}),
		versionRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_version_rejected_total",
			Help: "Requests rejected for targeting an undeclared API version",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "version", "commit", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "1 when continuous profiling is running",
		}),
	}

	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.ratelimitDeniedTotal,
		m.authRejectedTotal,
		m.versionRejectedTotal,
		m.buildInfo,
		m.profilingActive,
	)

	vi := version.Get()
	m.buildInfo.WithLabelValues(vi.AppName, vi.Version, vi.Commit, vi.GoVersion).Set(1)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

// Handler serves the /metrics scrape endpoint.
func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// IncPanic counts a recovered handler panic.
func (m *ServerMetrics) IncPanic() { m.httpPanicTotal.Inc() }

// IncRateLimited counts a request denied by the rate limiter.
func (m *ServerMetrics) IncRateLimited() { m.ratelimitDeniedTotal.Inc() }

// IncAuthRejected counts a credential validation failure. reason is one of
// the small fixed set of failure kinds, never user input.
func (m *ServerMetrics) IncAuthRejected(reason string) {
	m.authRejectedTotal.WithLabelValues(reason).Inc()
}

// IncVersionRejected counts an unsupported-version rejection.
func (m *ServerMetrics) IncVersionRejected() { m.versionRejectedTotal.Inc() }

// SetProfilingActive flips the profiling gauge.
func (m *ServerMetrics) SetProfilingActive(on bool) {
	if on {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func statusLabel(code int) string { return strconv.Itoa(code) }
