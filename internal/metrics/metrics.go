// Package metrics exposes invocation counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts invocations by operation, mode and outcome.
type Recorder struct {
	registry    *prometheus.Registry
	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "image_pipeline",
			Name:      "invocations_total",
			Help:      "Handled invocations by operation, mode and success.",
		}, []string{"operation", "mode", "success"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "image_pipeline",
			Name:      "invocation_seconds",
			Help:      "Invocation wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"operation", "mode"}),
	}

	r.registry.MustRegister(r.invocations, r.latency)

	return r
}

// Observe records one finished invocation.
func (r *Recorder) Observe(operation, mode string, success bool, elapsed time.Duration) {
	r.invocations.WithLabelValues(operation, mode, strconv.FormatBool(success)).Inc()
	r.latency.WithLabelValues(operation, mode).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
