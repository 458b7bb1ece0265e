// Package metrics holds the Prometheus collectors for a poll run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for fetching and appending polls.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	ErrorsTotal        *prometheus.CounterVec
	RowsAppendedTotal  prometheus.Counter
	SkippedTotal       *prometheus.CounterVec
	LastSuccessSeconds prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civey_fetch_requests_total",
			Help: "Total poll API requests by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civey_fetch_request_duration_seconds",
			Help:    "Poll API request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civey_fetch_errors_total",
			Help: "Total poll API failures by type.",
		},
		[]string{"error_type"},
	)
	rows := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "civey_rows_appended_total",
			Help: "Total rows appended to the poll CSV.",
		},
	)
	skipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civey_records_skipped_total",
			Help: "Total poll records not written, by reason.",
		},
		[]string{"reason"},
	)
	lastSuccess := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "civey_last_success_timestamp_seconds",
			Help: "Unix time of the last run that appended a row.",
		},
	)

	registry.MustRegister(requests, requestDuration, errorsTotal, rows, skipped, lastSuccess)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		ErrorsTotal:        errorsTotal,
		RowsAppendedTotal:  rows,
		SkippedTotal:       skipped,
		LastSuccessSeconds: lastSuccess,
	}
}

// IncRequest increments the requests counter for an outcome.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncAppended records a written row at t.
func (m *Metrics) IncAppended(t time.Time) {
	if m == nil {
		return
	}
	m.RowsAppendedTotal.Inc()
	m.LastSuccessSeconds.Set(float64(t.Unix()))
}

// IncSkipped increments the skipped counter for a reason.
func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.SkippedTotal.WithLabelValues(reason).Inc()
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
