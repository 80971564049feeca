package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsProcessedTotal, jobsRetriedTotal, leaseLostTotal, backlogDepth)
}

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_processed_total",
			Help: "Total generation job attempts finished, labeled by status.",
		},
		[]string{"status"}, // 'succeeded', 'failed'
	)

	jobsRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_jobs_retried_total",
			Help: "Attempts that failed transiently and were requeued with a backoff gate.",
		},
	)

	leaseLostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_jobs_lease_lost_total",
			Help: "Attempts abandoned because another worker reclaimed the lease.",
		},
	)

	backlogDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_jobs_backlog",
			Help: "Currently queued generation jobs.",
		},
	)
)

func IncJob(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func IncJobRetried() { jobsRetriedTotal.Inc() }
func IncLeaseLost()  { leaseLostTotal.Inc() }

func SetBacklogDepth(n int) { backlogDepth.Set(float64(n)) }
