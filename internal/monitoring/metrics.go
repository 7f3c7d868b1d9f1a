package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scanOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_outcomes_total",
			Help: "Scan outcomes by kind and rejection reason",
		},
		[]string{"outcome", "reason"},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "End-to-end scan request duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	ticketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Credentials minted",
		},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_rate_limited_total",
			Help: "Scan requests rejected by the per-device rate limiter",
		},
		[]string{"device_id"},
	)
)

// ObserveScan records one scan decision and its latency.
func ObserveScan(outcome, reason string, elapsed time.Duration) {
	scanOutcomes.WithLabelValues(outcome, reason).Inc()
	scanDuration.Observe(elapsed.Seconds())
}

// ObserveIssued records one minted credential.
func ObserveIssued() {
	ticketsIssued.Inc()
}

// ObserveRateLimited records a throttled device.
func ObserveRateLimited(deviceID string) {
	rateLimited.WithLabelValues(deviceID).Inc()
}
