// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for sync runs. healthsync is a batch process,
// so metrics are exported through the node_exporter textfile collector
// rather than a scrape endpoint (see WriteTextfile).

var (
	// Run Metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_runs_total",
			Help: "Total number of sync runs by mode and final status",
		},
		[]string{"mode", "status"}, // status: "success", "partial", "failed"
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthsync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"mode"},
	)

	RunLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthsync_run_last_success_timestamp",
			Help: "Unix timestamp of the last fully successful run",
		},
		[]string{"mode"},
	)

	// Upsert Metrics
	UpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_upserts_total",
			Help: "Total number of metric points written, by source and outcome",
		},
		[]string{"source", "outcome"}, // outcome: "created", "updated", "failed", "skipped"
	)

	WriteAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_write_attempts_total",
			Help: "Total number of destination write attempts",
		},
		[]string{"kind", "outcome"}, // kind: "measurement", "weight"; outcome: "ok", "timeout", "rejected"
	)

	// Provider Metrics
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthsync_provider_request_duration_seconds",
			Help:    "Duration of provider API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "endpoint"},
	)

	ProviderRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_provider_request_errors_total",
			Help: "Total number of failed provider API requests",
		},
		[]string{"provider", "endpoint"},
	)

	SnapshotCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_snapshot_cache_total",
			Help: "Raw payload cache lookups by source and result",
		},
		[]string{"source", "result"}, // result: "hit", "miss"
	)

	TokenRefresh = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_token_refresh_total",
			Help: "OAuth access token refreshes by result",
		},
		[]string{"result"}, // result: "success", "failure"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthsync_circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordRun records the outcome of one sync run.
func RecordRun(mode, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(mode, status).Inc()
	RunDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if status == "success" {
		RunLastSuccess.WithLabelValues(mode).Set(float64(time.Now().Unix()))
	}
}

// RecordProviderRequest records the duration and failure of one provider call.
func RecordProviderRequest(provider, endpoint string, duration time.Duration, err error) {
	ProviderRequestDuration.WithLabelValues(provider, endpoint).Observe(duration.Seconds())
	if err != nil {
		ProviderRequestErrors.WithLabelValues(provider, endpoint).Inc()
	}
}

// RecordSnapshotLookup counts a raw payload cache hit or miss.
func RecordSnapshotLookup(source string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	SnapshotCache.WithLabelValues(source, result).Inc()
}

// RecordTokenRefresh counts an access token refresh.
func RecordTokenRefresh(err error) {
	if err != nil {
		TokenRefresh.WithLabelValues("failure").Inc()
		return
	}
	TokenRefresh.WithLabelValues("success").Inc()
}

// WriteTextfile writes the default registry in Prometheus text format to path,
// creating the parent directory. An empty path is a no-op.
func WriteTextfile(path string) error {
	return WriteTextfileFrom(path, prometheus.DefaultGatherer)
}

// WriteTextfileFrom writes the metrics gathered from g to path.
func WriteTextfileFrom(path string, g prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
