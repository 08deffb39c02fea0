package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dydhzo/wastream/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// addon domain metrics
	cacheHitsTotal      *prometheus.CounterVec
	cacheMissesTotal    *prometheus.CounterVec
	deadLinksSkipped    prometheus.Counter
	debridUnlocksTotal  *prometheus.CounterVec
	scrapesTotal        *prometheus.CounterVec
	scrapeDuration      prometheus.Histogram
	sweeperPurgedTotal  *prometheus.CounterVec
	sweeperLastSweepTs  prometheus.Gauge
	sweeperErrorsTotal  prometheus.Counter
	upstreamReqDuration *prometheus.HistogramVec
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
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
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_cache_hits_total",
			Help: "Total scrape-result cache hits by media kind",
		}, []string{"kind"}),
		cacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_cache_misses_total",
			Help: "Total scrape-result cache misses by media kind",
		}, []string{"kind"}),
		deadLinksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dead_links_skipped_total",
			Help: "Total links filtered out because they were previously marked dead",
		}),
		debridUnlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "debrid_unlocks_total",
			Help: "Total debrid unlock attempts by outcome (ok, dead, error)",
		}, []string{"outcome"}),
		scrapesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapes_total",
			Help: "Total upstream scrape passes by media kind and outcome",
		}, []string{"kind", "outcome"}),
		scrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scrape_duration_seconds",
			Help:    "Time to search and extract links from the upstream site",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		sweeperPurgedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_purged_rows_total",
			Help: "Total expired rows purged by the background sweeper, by table",
		}, []string{"table"}),
		sweeperLastSweepTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweeper_last_sweep_timestamp_seconds",
			Help: "Unix timestamp of the last successful sweep pass",
		}),
		sweeperErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_errors_total",
			Help: "Total failed sweep passes",
		}),
		upstreamReqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Outbound request latency by upstream (source, debrid, tmdb, kitsu)",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"upstream"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.errorsTotal,
		m.profilingActive,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.deadLinksSkipped,
		m.debridUnlocksTotal,
		m.scrapesTotal,
		m.scrapeDuration,
		m.sweeperPurgedTotal,
		m.sweeperLastSweepTs,
		m.sweeperErrorsTotal,
		m.upstreamReqDuration,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncCacheHit(kind string) {
	m.cacheHitsTotal.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) IncCacheMiss(kind string) {
	m.cacheMissesTotal.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) AddDeadLinksSkipped(n int) {
	if n > 0 {
		m.deadLinksSkipped.Add(float64(n))
	}
}

func (m *ServerMetrics) IncDebridUnlock(outcome string) {
	m.debridUnlocksTotal.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) IncScrape(kind, outcome string) {
	m.scrapesTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *ServerMetrics) ObserveScrapeDuration(seconds float64) {
	m.scrapeDuration.Observe(seconds)
}

// ObserveSweep records the row counts of a successful sweep pass.
func (m *ServerMetrics) ObserveSweep(locks, links, cache int64) {
	m.sweeperPurgedTotal.WithLabelValues("scrape_lock").Add(float64(locks))
	m.sweeperPurgedTotal.WithLabelValues("dead_links").Add(float64(links))
	m.sweeperPurgedTotal.WithLabelValues("content_cache").Add(float64(cache))
	m.sweeperLastSweepTs.Set(float64(time.Now().Unix()))
}

func (m *ServerMetrics) IncSweepError() {
	m.sweeperErrorsTotal.Inc()
}

func (m *ServerMetrics) ObserveUpstream(upstream string, seconds float64) {
	m.upstreamReqDuration.WithLabelValues(upstream).Observe(seconds)
}
