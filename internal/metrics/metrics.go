package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-preview/internal/version"
)

// ServerMetrics owns a private registry. Labels are limited to method,
// route pattern, status and preview outcome so cardinality stays bounded.
type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight    prometheus.Gauge
	reqTotal    *prometheus.CounterVec
	reqDur      *prometheus.HistogramVec
	ttfb        *prometheus.HistogramVec
	respBytes   *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
	panicTotal  prometheus.Counter

	ratelimitDenied   prometheus.Counter
	ratelimitCapacity prometheus.Counter

	previewTotal      *prometheus.CounterVec
	previewSuperseded prometheus.Counter
	fetchDur          *prometheus.HistogramVec
	cmsRetries        prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
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
		ttfb: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_time_to_first_byte_seconds",
			Help:    "Time until the response header was written, by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 20},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route",
		}, []string{"method", "route"}),
		panicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		ratelimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		}),
		ratelimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total requests refused because the rate limiter table was full",
		}),
		previewTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "preview_requests_total",
			Help: "Preview page renders by view state",
		}, []string{"outcome"}),
		previewSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preview_superseded_total",
			Help: "Fetch results discarded because newer parameters took over",
		}),
		fetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "preview_fetch_duration_seconds",
			Help:    "Time to resolve a preview fetch by outcome",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		cmsRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cms_request_retries_total",
			Help: "Content API requests retried after a failure",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight, m.reqTotal, m.reqDur, m.ttfb, m.respBytes, m.errorsTotal, m.panicTotal,
		m.ratelimitDenied, m.ratelimitCapacity,
		m.previewTotal, m.previewSuperseded, m.fetchDur, m.cmsRetries,
		m.buildInfo, m.profilingActive,
	)

	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry is exposed for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) IncHttpPanic()         { m.panicTotal.Inc() }
func (m *ServerMetrics) IncRateLimitDenied()   { m.ratelimitDenied.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacity.Inc() }

// IncPreviewOutcome counts one rendered preview page.
func (m *ServerMetrics) IncPreviewOutcome(outcome string) {
	m.previewTotal.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) IncPreviewSuperseded() { m.previewSuperseded.Inc() }

// ObserveFetch implements preview.FetchObserver.
func (m *ServerMetrics) ObserveFetch(outcome string, d time.Duration) {
	m.fetchDur.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *ServerMetrics) IncCMSRetry() { m.cmsRetries.Inc() }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        vi.AppName,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_id":   vi.BuildId,
		"build_date": vi.BuildDate,
		"vcs_dirty":  dirty,
		"go_version": vi.GoVersion,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
		return
	}
	m.profilingActive.Set(0)
}
