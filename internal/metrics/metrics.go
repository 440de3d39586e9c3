package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ===== Transplant =====

	TransplantParams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transplant_params_total",
		Help: "Compiled-program parameters handled by the transplanter, by disposition",
	}, []string{"program", "disposition"})

	TransplantFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transplant_failures_total",
		Help: "Transplants aborted on a contract violation",
	}, []string{"program", "reason"})

	TransplantDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transplant_duration_seconds",
		Help:    "Time to derive, rearrange and load a transplanted weight set",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// ===== Runtime =====

	ForwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runtime_forward_duration_seconds",
		Help:    "Duration of runtime forward passes",
		Buckets: prometheus.DefBuckets,
	}, []string{"cache"})

	ForwardBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "runtime_forward_batch_size",
		Help:    "Sequences per forward pass",
		Buckets: []float64{1, 2, 4, 8, 16, 30, 64, 128, 256},
	})

	// ===== Verification =====

	VerificationChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_checks_total",
		Help: "Per-layer equivalence checks, by hook and result",
	}, []string{"hook", "result"})

	VerificationMaxAbsDiff = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verification_max_abs_diff",
		Help:    "Largest element-wise difference seen in a layer check",
		Buckets: []float64{0, 1e-12, 1e-9, 1e-6, 1e-3, 1, 1000},
	})

	VerificationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_runs_total",
		Help: "Equivalence verification runs, by program and outcome",
	}, []string{"program", "outcome"})

	// ===== Datasets =====

	DatasetExamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataset_examples_total",
		Help: "Examples generated, by task and split",
	}, []string{"task", "split"})

	// ===== Metric evaluation =====

	MetricEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metric_evaluations_total",
		Help: "Metric function evaluations, by metric",
	}, []string{"metric"})

	MetricErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metric_errors_total",
		Help: "Metric evaluations that returned an error, by metric and kind",
	}, []string{"metric", "kind"})

	MetricValue = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metric_value",
		Help:    "Scalar metric values observed",
		Buckets: []float64{0, 1e-9, 1e-6, 1e-3, 0.01, 0.1, 0.5, 1, 10},
	}, []string{"metric"})

	// ===== Export =====

	ExportRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_records_total",
		Help: "Arrow records exported, by kind and sink",
	}, []string{"kind", "sink"})

	ExportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_errors_total",
		Help: "Arrow export failures, by sink",
	}, []string{"sink"})
)

// RecordTransplant records the disposition counts of one transplant.
func RecordTransplant(program string, loaded, dropped, missing int, duration time.Duration) {
	TransplantParams.WithLabelValues(program, "loaded").Add(float64(loaded))
	TransplantParams.WithLabelValues(program, "dropped").Add(float64(dropped))
	TransplantParams.WithLabelValues(program, "missing").Add(float64(missing))
	TransplantDuration.Observe(duration.Seconds())
}

// RecordTransplantFailure records an aborted transplant.
func RecordTransplantFailure(program, reason string) {
	TransplantFailures.WithLabelValues(program, reason).Inc()
}

// RecordForward records one runtime forward pass.
func RecordForward(batch int, cached bool, duration time.Duration) {
	label := "off"
	if cached {
		label = "on"
	}
	ForwardDuration.WithLabelValues(label).Observe(duration.Seconds())
	ForwardBatchSize.Observe(float64(batch))
}

// RecordVerificationCheck records one per-layer equivalence check.
func RecordVerificationCheck(hook string, passed bool, maxAbsDiff float64) {
	result := "pass"
	if !passed {
		result = "fail"
	}
	VerificationChecks.WithLabelValues(hook, result).Inc()
	VerificationMaxAbsDiff.Observe(maxAbsDiff)
}

// RecordVerification records the outcome of a full verification run.
func RecordVerification(program string, passed bool) {
	outcome := "pass"
	if !passed {
		outcome = "fail"
	}
	VerificationRuns.WithLabelValues(program, outcome).Inc()
}

// RecordDataset records generated examples for a split.
func RecordDataset(task, split string, examples int) {
	DatasetExamples.WithLabelValues(task, split).Add(float64(examples))
}

// RecordMetricEvaluation records a successful evaluation. Vector results pass
// their mean so the histogram stays comparable.
func RecordMetricEvaluation(metric string, value float64) {
	MetricEvaluations.WithLabelValues(metric).Inc()
	MetricValue.WithLabelValues(metric).Observe(value)
}

// RecordMetricError records a failed evaluation.
func RecordMetricError(metric, kind string) {
	MetricErrors.WithLabelValues(metric, kind).Inc()
}

// RecordExport records exported Arrow records.
func RecordExport(kind, sink string, records int) {
	ExportRecords.WithLabelValues(kind, sink).Add(float64(records))
}

// RecordExportError records a failed export.
func RecordExportError(sink string) {
	ExportErrors.WithLabelValues(sink).Inc()
}
