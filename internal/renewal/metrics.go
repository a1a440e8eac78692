package renewal

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_runs_total",
		Help: "Number of renewal runs, by trigger",
	}, []string{"triggered_by"})

	successTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_success_total",
		Help: "Certificates renewed, by certificate type",
	}, []string{"cert_type"})

	failureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_failures_total",
		Help: "Failed renewal attempts, by certificate type",
	}, []string{"cert_type"})

	skippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_skipped_total",
		Help: "Certificates skipped as not yet due, by certificate type",
	}, []string{"cert_type"})
)

func init() {
	prometheus.MustRegister(runsTotal, successTotal, failureTotal, skippedTotal)
}
