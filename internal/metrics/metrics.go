package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels runs that produced a report.
	OutcomeSuccess = "success"
	// OutcomeError labels runs that failed before producing a report.
	OutcomeError = "error"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metric_sentinel",
			Name:      "runs_total",
			Help:      "Total number of detection runs handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "metric_sentinel",
			Name:      "run_seconds",
			Help:      "Detection run latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metric_sentinel",
			Name:      "anomalies_total",
			Help:      "Anomalies confirmed per run, partitioned by domain.",
		},
		[]string{"domain"},
	)
)

// Register attaches sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		anomaliesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a detection run's duration and outcome label.
func ObserveRun(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	runsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// CountAnomalies records how many anomalies a domain contributed to a run.
func CountAnomalies(domain string, count int) {
	if count <= 0 {
		return
	}
	anomaliesTotal.WithLabelValues(domain).Add(float64(count))
}
