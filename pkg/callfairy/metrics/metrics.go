// Package metrics exposes Prometheus collectors for the HTTP layer and the
// authorization gate.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callfairy_http_requests_total",
			Help: "Number of HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callfairy_http_request_duration_seconds",
			Help:    "Latency of HTTP requests by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callfairy_gate_decisions_total",
			Help: "Authorization gate outcomes.",
		},
		[]string{"gate", "outcome"},
	)
	AgentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callfairy_agent_events_total",
			Help: "Agent assignments, revocations and deletions.",
		},
		[]string{"event"},
	)

	registerOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequests, HTTPDuration, GateDecisions, AgentEvents)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request counts and latency. Unmatched routes are
// grouped under "unmatched".
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveGate counts one gate decision.
func ObserveGate(gate string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	GateDecisions.WithLabelValues(gate, outcome).Inc()
}
