// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PrefixKey is the echo context key under which the router stores the
// matched app prefix. The metrics middleware uses it as the path label.
const PrefixKey = "ng_proxy.prefix"

// Fall-through reasons recorded by FallthroughTotal.
const (
	ReasonNoMatch     = "no_match"
	ReasonNotReady    = "not_ready"
	ReasonUpstream404 = "upstream_404"
)

// WebSocket relay directions recorded by WebSocketMessages.
const (
	DirectionToBackend   = "to_backend"
	DirectionFromBackend = "from_backend"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// waitBuckets cover the readiness wait ceiling of one to two minutes.
var waitBuckets = []float64{.5, 1, 2, 5, 10, 20, 30, 60, 90, 120}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	BackendReady     *prometheus.GaugeVec
	ReadinessWait    *prometheus.HistogramVec
	FallthroughTotal *prometheus.CounterVec

	WebSocketSessions prometheus.Gauge
	WebSocketMessages *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ng_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ng_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ng_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ng_proxy_upstream_request_duration_seconds",
			Help:    "Time until the dev server sent response headers, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ng_proxy_upstream_responses_total",
			Help: "Total dev server responses by method and status code.",
		}, []string{"method", "status_code"}),

		BackendReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ng_proxy_backend_ready",
			Help: "1 once the dev server for the prefix is listening, else 0.",
		}, []string{"prefix"}),

		ReadinessWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ng_proxy_readiness_wait_seconds",
			Help:    "Time requests spent waiting for a pending dev server.",
			Buckets: waitBuckets,
		}, []string{"prefix"}),

		FallthroughTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ng_proxy_fallthrough_total",
			Help: "Requests handed to the next handler instead of a dev server.",
		}, []string{"reason"}),

		WebSocketSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ng_proxy_websocket_sessions",
			Help: "Number of WebSocket sessions currently relayed.",
		}),

		WebSocketMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ng_proxy_websocket_messages_total",
			Help: "WebSocket data messages relayed, by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.BackendReady,
		m.ReadinessWait,
		m.FallthroughTotal,
		m.WebSocketSessions,
		m.WebSocketMessages,
	)

	return m
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

// reservedPrefixes lists the proxy's own routes.
var reservedPrefixes = []string{"/healthz", "/proxy/status", "/metrics"}

// NormalizePath returns a bounded path label for the proxy's own routes and
// "other" for everything else.
func NormalizePath(path string) string {
	for _, prefix := range reservedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}

// PathLabel prefers the app prefix the router matched; the set of prefixes
// is fixed by configuration, so cardinality stays bounded.
func PathLabel(matched any, path string) string {
	if prefix, ok := matched.(string); ok && prefix != "" {
		return prefix
	}
	return NormalizePath(path)
}
