// Package metrics provides Prometheus instrumentation for the probe host.
// All metric collectors are registered via the Init function and exposed
// through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts probe requests by report flavor, method, and HTTP status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgiprobe_requests_total",
			Help: "Total probe requests processed",
		},
		[]string{"flavor", "method", "status"},
	)

	// RequestDuration observes time from request to rendered page by flavor.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cgiprobe_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"flavor"},
	)

	// BodyBytes observes the number of body bytes actually received.
	BodyBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cgiprobe_body_bytes",
			Help:    "Request body bytes received",
			Buckets: prometheus.ExponentialBuckets(16, 4, 8),
		},
		[]string{"flavor"},
	)

	// DecodeIssues counts malformed escapes by where they were found.
	DecodeIssues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgiprobe_decode_issues_total",
			Help: "Total malformed percent escapes or invalid UTF-8 sequences passed through",
		},
		[]string{"source"},
	)

	// TruncatedBodies counts requests whose declared length exceeded what arrived.
	TruncatedBodies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cgiprobe_truncated_bodies_total",
			Help: "Total requests that delivered fewer body bytes than declared",
		},
	)

	// RateLimitHits counts rate limit rejections.
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cgiprobe_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
	)

	// ConcurrencyRejections counts requests turned away at the
	// concurrency limit.
	ConcurrencyRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cgiprobe_concurrency_rejections_total",
			Help: "Total requests rejected because too many were in flight",
		},
	)

	// ActiveRequests tracks the number of in-flight requests.
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cgiprobe_active_requests",
			Help: "Number of in-flight requests currently being processed",
		},
	)
)

// Collectors returns every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		BodyBytes,
		DecodeIssues,
		TruncatedBodies,
		RateLimitHits,
		ConcurrencyRejections,
		ActiveRequests,
	}
}

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(Collectors()...)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
