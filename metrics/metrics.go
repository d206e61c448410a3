package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "reporter"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	reportsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "reports_generated_total",
		Help:      "Count of generated report artifacts",
	}, []string{
		"run_id",
		"format",
		"result",
	})

	reportGenerationSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "report_generation_seconds",
		Help:      "Duration of report generation per format",
	}, []string{
		"run_id",
		"format",
	})

	aggregatedTests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "aggregated_tests",
		Help:      "Number of tests in the last aggregate",
	}, []string{
		"run_id",
		"status",
	})

	cacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "artifact_cache_events_total",
		Help:      "Artifact cache hits, misses, recompiles and evictions",
	}, []string{
		"event",
	})

	storageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "storage_retries_total",
		Help:      "Count of retried storage operations",
	}, []string{
		"operation",
	})

	storageBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "storage_bytes_total",
		Help:      "Bytes written and bytes saved by compression",
	}, []string{
		"kind",
	})

	resourceWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "resource_warnings_total",
		Help:      "Count of advisory resource warnings from the dispatcher monitor",
	}, []string{
		"resource",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordReport records the outcome of one render task.
func RecordReport(runID string, format string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	if Debug {
		log.Debug("metric inc",
			"m", "reports_generated_total",
			"run_id", runID,
			"format", format,
			"result", result)
	}
	reportsGenerated.WithLabelValues(runID, format, result).Inc()
	reportGenerationSeconds.WithLabelValues(runID, format).Set(duration.Seconds())
}

// RecordAggregate records the headline counts of a finished aggregation.
func RecordAggregate(runID string, total, passed, failed, skipped int) {
	aggregatedTests.WithLabelValues(runID, "total").Set(float64(total))
	aggregatedTests.WithLabelValues(runID, "passed").Set(float64(passed))
	aggregatedTests.WithLabelValues(runID, "failed").Set(float64(failed))
	aggregatedTests.WithLabelValues(runID, "skipped").Set(float64(skipped))
}

func RecordCacheEvent(event string) {
	cacheEvents.WithLabelValues(event).Inc()
}

func RecordStorageRetry(operation string) {
	storageRetries.WithLabelValues(operation).Inc()
}

// RecordStorageBytes tracks bytes written and bytes saved by compression.
func RecordStorageBytes(written, saved int64) {
	if written > 0 {
		storageBytes.WithLabelValues("written").Add(float64(written))
	}
	if saved > 0 {
		storageBytes.WithLabelValues("compression_saved").Add(float64(saved))
	}
}

func RecordResourceWarning(resource string) {
	resourceWarnings.WithLabelValues(resource).Inc()
}
