package cacheengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the engine records hit/miss
// and latency through, per spec §4.3's metrics contract.
type Metrics struct {
	Operations  *prometheus.CounterVec
	LatencySecs *prometheus.HistogramVec
	HitRate     prometheus.Gauge
}

// NewMetrics creates and registers the cache engine's metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authzcore",
				Subsystem: "cache",
				Name:      "operations_total",
				Help:      "Cache operations by tier and result (hit/miss).",
			},
			[]string{"tier", "result"},
		),
		LatencySecs: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "authzcore",
				Subsystem: "cache",
				Name:      "operation_duration_seconds",
				Help:      "Cache operation latency by tier.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"tier"},
		),
		HitRate: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "authzcore",
				Subsystem: "cache",
				Name:      "hit_rate",
				Help:      "Rolling aggregate cache hit rate across tiers.",
			},
		),
	}
}
