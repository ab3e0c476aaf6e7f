// Package monitoring exposes Prometheus metrics for the Gatekeeper engine.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/merchware/gatekeeper/pkg/constants"
)

// Metrics holds the Prometheus instruments for authentication outcomes,
// validation cache behavior, and rate limiting.
type Metrics struct {
	AuthRequests     *prometheus.CounterVec
	AuthLatency      *prometheus.HistogramVec
	ValidationCache  *prometheus.CounterVec
	RateLimitDenials *prometheus.CounterVec
	LifecycleSweeps  *prometheus.CounterVec
}

// NewMetrics creates and registers the instruments on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		AuthRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_auth_requests_total",
				Help: "Total authentication attempts by key type and result.",
			},
			[]string{"key_type", "result"},
		),
		AuthLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_auth_latency_seconds",
				Help:    "Latency of the validate-then-throttle pipeline.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"key_type"},
		),
		ValidationCache: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_validation_cache_total",
				Help: "Validation cache lookups by outcome (hit, miss).",
			},
			[]string{"outcome"},
		),
		RateLimitDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_rate_limit_denials_total",
				Help: "Requests denied by the fixed-window limiter.",
			},
			[]string{"key_type"},
		),
		LifecycleSweeps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_lifecycle_sweep_keys_total",
				Help: "Keys processed by lifecycle sweeps, by sweep kind.",
			},
			[]string{"sweep"},
		),
	}
}

// RecordAuth records one authentication attempt.
func (m *Metrics) RecordAuth(keyType constants.KeyType, result string, duration time.Duration) {
	m.AuthRequests.WithLabelValues(string(keyType), result).Inc()
	m.AuthLatency.WithLabelValues(string(keyType)).Observe(duration.Seconds())
}

// RecordCacheLookup records a validation-cache hit or miss.
func (m *Metrics) RecordCacheLookup(outcome string) {
	m.ValidationCache.WithLabelValues(outcome).Inc()
}

// RecordRateLimitDenial records a throttled request.
func (m *Metrics) RecordRateLimitDenial(keyType constants.KeyType) {
	m.RateLimitDenials.WithLabelValues(string(keyType)).Inc()
}

// RecordSweep records the number of keys a sweep processed.
func (m *Metrics) RecordSweep(sweep string, processed int64) {
	m.LifecycleSweeps.WithLabelValues(sweep).Add(float64(processed))
}
