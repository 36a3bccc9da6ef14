// Package metrics provides Prometheus metrics for the clone service and proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency. Clone requests fetch and
// rewrite a whole page, so the upper buckets go past the usual 10s.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Rewrite kinds recorded by RewritesTotal.
const (
	RewriteHTML        = "html"
	RewriteCSS         = "css"
	RewriteJS          = "js"
	RewritePassthrough = "passthrough"
)

// Upstream call purposes recorded by the upstream collectors.
const (
	PurposeClone = "clone"
	PurposeProxy = "proxy"
)

// Metrics holds all Prometheus metric collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	RewritesTotal *prometheus.CounterVec
	KVOperations  *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clone_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clone_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clone_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clone_proxy_upstream_request_duration_seconds",
			Help:    "Upstream fetch latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"purpose"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clone_proxy_upstream_responses_total",
			Help: "Total upstream responses by purpose and status code.",
		}, []string{"purpose", "status_code"}),

		RewritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clone_proxy_rewrites_total",
			Help: "Responses produced, by rewrite kind.",
		}, []string{"kind"}),

		KVOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clone_proxy_kv_operations_total",
			Help: "Key-value operations by operation and result.",
		}, []string{"op", "result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RewritesTotal,
		m.KVOperations,
	)

	return m
}

// ObserveRewrite counts one response of the given kind. It is a no-op on a
// nil receiver so callers can run without metrics.
func (m *Metrics) ObserveRewrite(kind string) {
	if m == nil {
		return
	}
	m.RewritesTotal.WithLabelValues(kind).Inc()
}

// ObserveKV counts one key-value operation. It is a no-op on a nil receiver.
func (m *Metrics) ObserveKV(op, result string) {
	if m == nil {
		return
	}
	m.KVOperations.WithLabelValues(op, result).Inc()
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
// Proxied paths carry arbitrary hosts, so everything under /proxy collapses.
var knownPrefixes = []string{"/clone", "/proxy", "/kv", "/healthz", "/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
