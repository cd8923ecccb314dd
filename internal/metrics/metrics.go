// Package metrics exposes Prometheus instrumentation for scrape runs and the
// HTTP API. Each Metrics value owns its registry so that several instances can
// coexist in one process (tests, embedded servers).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devicelist"

// Scrape outcomes used as the outcome label.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

// Metrics holds the collectors. All methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	// Scrape metrics
	ScrapeRuns        *prometheus.CounterVec
	ScrapeDuration    prometheus.Histogram
	DevicesByCategory *prometheus.GaugeVec
	LastSuccess       prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := &Metrics{Registry: reg}
	initScrapeMetrics(m, promauto.With(reg))
	initHTTPMetrics(m, promauto.With(reg))
	return m
}

func initScrapeMetrics(m *Metrics, f promauto.Factory) {
	m.ScrapeRuns = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scrape_runs_total",
		Help:      "Scrape runs by outcome (success, empty, error)",
	}, []string{"outcome"})

	m.ScrapeDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scrape_duration_seconds",
		Help:      "Time from fetch start to snapshot written",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	m.DevicesByCategory = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "devices",
		Help:      "Devices in the latest snapshot per category",
	}, []string{"category"})

	m.LastSuccess = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_successful_scrape_timestamp_seconds",
		Help:      "Unix time of the last scrape that wrote a snapshot",
	})
}

func initHTTPMetrics(m *Metrics, f promauto.Factory) {
	m.HTTPRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by route and status code",
	}, []string{"method", "route", "status"})

	m.HTTPDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
}

// ObserveScrape records one scrape run. counts is the per-category tally of
// the published snapshot and is ignored unless outcome is OutcomeSuccess.
func (m *Metrics) ObserveScrape(outcome string, d time.Duration, counts map[string]int) {
	if m == nil {
		return
	}
	m.ScrapeRuns.WithLabelValues(outcome).Inc()
	m.ScrapeDuration.Observe(d.Seconds())
	if outcome != OutcomeSuccess {
		return
	}
	m.DevicesByCategory.Reset()
	for category, n := range counts {
		m.DevicesByCategory.WithLabelValues(category).Set(float64(n))
	}
	m.LastSuccess.SetToCurrentTime()
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
