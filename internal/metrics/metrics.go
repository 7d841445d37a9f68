package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed send attempts that will be retried",
		},
	)

	EmailPermanentFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_permanent_failures_total",
			Help: "Total emails that exhausted their retries",
		},
	)

	EmailsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_skipped_total",
			Help: "Total emails skipped because they could not be claimed",
		},
	)

	QueueRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_queue_runs_total",
			Help: "Queue processing runs by outcome",
		},
		[]string{"outcome"},
	)

	QueueRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_queue_run_duration_seconds",
			Help:    "Wall time of a queue processing run",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(EmailPermanentFailures)
	prometheus.MustRegister(EmailsSkipped)
	prometheus.MustRegister(QueueRuns)
	prometheus.MustRegister(QueueRunDuration)
}
