package simulator

import (
	"strings"
	"time"

	"gosct/checking"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	iterationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gosct",
			Subsystem: "simulator",
			Name:      "iterations_total",
			Help:      "number of runs executed, by outcome",
		}, []string{"strategy", "kind"})
	bugCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gosct",
			Subsystem: "simulator",
			Name:      "bugs_total",
			Help:      "number of runs that found a bug",
		}, []string{"kind"})
	stepsHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gosct",
			Subsystem: "simulator",
			Name:      "steps_per_run",
			Help:      "number of scheduling decisions per run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"strategy"})
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gosct",
			Subsystem: "simulator",
			Name:      "run_duration_seconds",
			Help:      "bucketed histogram of the time spent executing a run",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
		}, []string{"strategy"})
)

// InitMetrics registers all metrics in this package
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(iterationCounter)
	registry.MustRegister(bugCounter)
	registry.MustRegister(stepsHistogram)
	registry.MustRegister(runDuration)
}

// Strategy descriptions carry parameters such as seeds, which would make unbounded label values
func strategyLabel(description string) string {
	return strings.SplitN(description, "(", 2)[0]
}

func observeRun(strategy string, res checking.RunResult, elapsed time.Duration) {
	label := strategyLabel(strategy)
	iterationCounter.WithLabelValues(label, res.Kind.String()).Inc()
	if res.Bug != nil {
		bugCounter.WithLabelValues(res.Kind.String()).Inc()
	}
	stepsHistogram.WithLabelValues(label).Observe(float64(res.Steps))
	runDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}
