// Package observability exposes Prometheus metrics for rate-limit
// engine decisions, via github.com/prometheus/client_golang — the
// library the rest of the example pack reaches for this exact
// "counters+histograms over HTTP" concern (see DESIGN.md), used here
// in place of the teacher's own hand-rolled atomic counters.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters ratelimit.Engine reports every
// admission/rejection/store-error/delay decision into, for both the
// ingress and egress adapters (they share the same Engine.Evaluate /
// EvaluateWithWait code path).
type Metrics struct {
	Admitted     *prometheus.CounterVec
	Rejected     *prometheus.CounterVec
	Delayed      *prometheus.CounterVec
	StoreErrors  *prometheus.CounterVec
	DelaySeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics builds and registers the throttle_* metric family on a
// fresh registry, so embedding this package never collides with a
// host application's own default Prometheus registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_admitted_total",
			Help: "Requests admitted by the rate-limit engine.",
		}, []string{"rule", "algorithm"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_rejected_total",
			Help: "Requests rejected by the rate-limit engine.",
		}, []string{"rule", "algorithm"}),
		Delayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_delayed_total",
			Help: "Requests that entered the max-delay wait loop.",
		}, []string{"rule", "algorithm"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_store_errors_total",
			Help: "CounterStore errors observed while evaluating a rule (fail-open).",
		}, []string{"rule"}),
		DelaySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "throttle_delay_seconds",
			Help:    "Time spent in the max-delay wait loop before admission or final rejection.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"rule"}),
		registry: reg,
	}

	reg.MustRegister(m.Admitted, m.Rejected, m.Delayed, m.StoreErrors, m.DelaySeconds)
	return m
}

// Handler returns the /metrics HTTP handler, matching the teacher's
// own convention of mounting metrics at r.Get("/metrics", ...).
func (m *Metrics) Handler() http.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return h.ServeHTTP
}
