package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/ragbench/internal/runstore"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus collectors exported by /metrics.
type Metrics struct {
	RunMetricValue     *prometheus.GaugeVec
	RunsTotal          *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors once per process.
//
// Metrics:
//   - ragbench_run_metric_value{retriever,metric} - latest persisted value
//   - ragbench_runs_total{retriever} - runs persisted
//   - ragbench_evaluation_duration_seconds{retriever} - evaluation wall time
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunMetricValue: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "ragbench",
					Name:      "run_metric_value",
					Help:      "Metric value of the most recent persisted run",
				},
				[]string{"retriever", "metric"},
			),
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "ragbench",
					Name:      "runs_total",
					Help:      "Total number of benchmark runs persisted",
				},
				[]string{"retriever"},
			),
			EvaluationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "ragbench",
					Name:      "evaluation_duration_seconds",
					Help:      "Duration of one strategy evaluation in seconds",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"retriever"},
			),
		}
	})
	return globalMetrics
}

// RecordRun publishes a persisted run's metrics.
func (m *Metrics) RecordRun(run *runstore.Run) {
	if m == nil || run == nil {
		return
	}
	for _, metric := range run.Metrics {
		m.RunMetricValue.WithLabelValues(run.Retriever, metric.Name).Set(metric.Value)
	}
	m.RunsTotal.WithLabelValues(run.Retriever).Inc()
}
