// Package metrics exposes the gateway's Prometheus collectors and the
// /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sekisho_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sekisho_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "path"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sekisho_tool_calls_total",
			Help: "Tool invocations by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ProviderSwitches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sekisho_provider_switches_total",
			Help: "Active-provider activations",
		},
	)

	StreamKeepalives = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sekisho_stream_keepalives_total",
			Help: "SSE keepalive comments emitted",
		},
	)
)

// ObserveToolResult records one tool invocation outcome.
func ObserveToolResult(name string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	ToolCalls.WithLabelValues(name, outcome).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
