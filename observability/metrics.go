// Package observability hosts the Prometheus registries shared by the
// gateway and tooling.
package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records HTTP activity for the campaign gateway.
type GatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	bundles   *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// Gateway returns the lazily-initialised gateway metrics registry.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyperdrive",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyperdrive",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "hyperdrive",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyperdrive",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"route", "reason"}),
			bundles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyperdrive",
				Subsystem: "gateway",
				Name:      "bundles_total",
				Help:      "Atomic bundles submitted through the gateway segmented by method and outcome.",
			}, []string{"method", "outcome"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
			gatewayRegistry.bundles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a gateway request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *GatewayMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit" or
// "replay" so dashboards and alerts remain consistent.
func (m *GatewayMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// RecordBundle counts a submitted bundle by call method and outcome.
func (m *GatewayMetrics) RecordBundle(method string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.bundles.WithLabelValues(method, outcome).Inc()
}
