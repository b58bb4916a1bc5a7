package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every report metric. A dedicated registry keeps Go runtime
// collectors out of what gets pushed at the end of a run.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Tracks the number of outbound API calls to Nextpertise.
	APIRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mbb_api_requests_total",
			Help: "Total number of Nextpertise API requests made (by endpoint and status).",
		},
		[]string{"endpoint", "status"},
	)

	// Measures duration of API requests to Nextpertise.
	APIRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mbb_api_request_duration_seconds",
			Help:    "Duration of Nextpertise API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms → ~10s
		},
		[]string{"endpoint"},
	)

	// Tracks errors by component and reason.
	ErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mbb_report_errors_total",
			Help: "Count of report errors by component.",
		},
		[]string{"component", "reason"},
	)

	ReportRows = factory.NewGauge(prometheus.GaugeOpts{
		Name: "mbb_report_rows",
		Help: "Number of connection rows in the last report.",
	})

	ReportUsageBytes = factory.NewGauge(prometheus.GaugeOpts{
		Name: "mbb_report_usage_bytes",
		Help: "Sum of month-to-date data usage across the last report.",
	})

	// Gauges the last successful run time (seconds since epoch).
	LastRunTimestamp = factory.NewGauge(prometheus.GaugeOpts{
		Name: "mbb_report_last_success_timestamp",
		Help: "Timestamp (unix seconds) of the last successful report run.",
	})

	LastFailureTimestamp = factory.NewGauge(prometheus.GaugeOpts{
		Name: "mbb_report_last_failure_timestamp",
		Help: "Timestamp (unix seconds) of the last failed report run.",
	})
)

// ObserveDuration records the time since start on the given histogram.
func ObserveDuration(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func IncAPIRequest(endpoint string, status int) {
	label := "error"
	if status > 0 {
		label = fmt.Sprintf("%d", status)
	}
	APIRequestsTotal.WithLabelValues(endpoint, label).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// RecordRun sets the run gauges after a report was written.
func RecordRun(rows int, usageBytes float64, finished time.Time) {
	ReportRows.Set(float64(rows))
	ReportUsageBytes.Set(usageBytes)
	LastRunTimestamp.Set(float64(finished.Unix()))
}

// RecordFailure marks a run that ended without a report.
func RecordFailure(at time.Time) {
	LastFailureTimestamp.Set(float64(at.Unix()))
}

// Push sends the registry to a Prometheus Pushgateway under the given job name.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	p := push.New(url, job).Gatherer(Registry)
	for k, v := range grouping {
		if v != "" {
			p = p.Grouping(k, v)
		}
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
