package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		conversionsTotal,
		conversionLatencyMs,
		poolActive,
		poolQueued,
	)
}

var (
	conversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversions_total",
			Help: "Conversion pool executions by outcome (completed/failed/timeout).",
		},
		[]string{"outcome"},
	)

	conversionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conversion_latency_ms",
			Help:    "External converter latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
	)

	poolActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversion_pool_active",
			Help: "Conversion jobs holding a pool slot right now.",
		},
	)

	poolQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversion_pool_queued",
			Help: "Conversion jobs waiting for a free pool slot.",
		},
	)
)

func IncConversion(outcome string) {
	conversionsTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveConversionLatency(ms float64) {
	conversionLatencyMs.Observe(ms)
}

func SetPoolActive(n int) { poolActive.Set(float64(n)) }
func SetPoolQueued(n int) { poolQueued.Set(float64(n)) }
