// Package metrics holds the Prometheus collectors shared by the transport,
// the process supervisor and the connection manager.
//
// Collectors are registered on a private Registry rather than the global
// default one so embedding hosts decide whether and where to expose them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "plural_bridge"

// Registry is the registry every collector below is registered on.
var Registry = prometheus.NewRegistry()

var (
	// Requests counts JSON-RPC requests by method and outcome
	// (ok, rpc_error, timeout, closed, send_error).
	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "JSON-RPC requests sent to the tool server, by method and outcome.",
	}, []string{"method", "outcome"})

	// RequestDuration observes time from send to matched response.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "Time between sending a request and receiving its response.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"method"})

	// Pending tracks requests waiting for a response.
	Pending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "pending_requests",
		Help:      "Requests currently waiting for a response.",
	})

	// MalformedLines counts stdout lines that were not a usable JSON-RPC message.
	MalformedLines = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "malformed_lines_total",
		Help:      "Lines from the tool server that could not be parsed or routed.",
	})

	// LateResponses counts responses whose waiter already gave up.
	LateResponses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "late_responses_total",
		Help:      "Responses that arrived after their request timed out or was never registered.",
	})

	// Notifications counts server notifications by method.
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "notifications_total",
		Help:      "Notifications received from the tool server.",
	}, []string{"method"})

	// Signals counts signals delivered to child processes by kind (term, kill).
	Signals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "signals_total",
		Help:      "Termination signals sent to child processes.",
	}, []string{"kind"})

	// OrphansSwept counts marker-matched processes terminated after disconnect.
	OrphansSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "orphans_swept_total",
		Help:      "Orphaned processes found by profile marker and terminated.",
	})

	// Connects counts connection attempts by outcome (ok, busy, spawn_error, handshake_error, registrar_error).
	Connects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "connects_total",
		Help:      "Connection attempts to the tool server, by outcome.",
	}, []string{"outcome"})

	// ActiveConnections tracks live tool server connections.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "active",
		Help:      "Tool server connections currently in the connected state.",
	})
)

func init() {
	Registry.MustRegister(
		Requests,
		RequestDuration,
		Pending,
		MalformedLines,
		LateResponses,
		Notifications,
		Signals,
		OrphansSwept,
		Connects,
		ActiveConnections,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
