// Package metrics provides Prometheus metrics for leaderboard pipeline runs.
//
// A run is a short-lived batch job, so nothing is scraped. Metrics are
// collected on a private registry and exported at the end of the run with
// Push (Pushgateway) and/or WriteTextfile (node exporter textfile collector).
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Manager owns every metric of a pipeline run.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Source metrics
	rowsFetched    *prometheus.CounterVec
	fetchAttempts  *prometheus.CounterVec
	fetchRetries   *prometheus.CounterVec
	identityChunks prometheus.Counter
	fallbacks      prometheus.Counter

	// Reconciliation metrics
	recordsDropped   *prometheus.CounterVec
	artifactWarnings *prometheus.CounterVec
	excludedIDs      prometheus.Gauge
	adjustedIDs      prometheus.Gauge

	// Output metrics
	rankedEntries  prometheus.Gauge
	stageDuration  *prometheus.HistogramVec
	lastSuccess    prometheus.Gauge
	runDuration    prometheus.Gauge
	shortCircuited prometheus.Counter
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ladder",
		subsystem:        "pipeline",
		histogramBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	m.rowsFetched = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_fetched_total",
		Help:      "Rows returned by each logical database",
	}, []string{"database"})

	m.fetchAttempts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_attempts_total",
		Help:      "Fetch attempts by database and outcome (ok, retryable, fatal)",
	}, []string{"database", "outcome"})

	m.fetchRetries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_retries_total",
		Help:      "Fetch retries after transient connection failures",
	}, []string{"database"})

	m.identityChunks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "identity_chunks_total",
		Help:      "Batched identity queries dispatched",
	})

	m.fallbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "identity_fallbacks_total",
		Help:      "Identity resolutions that fell back to the unfiltered dataset",
	})

	m.recordsDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "records_dropped_total",
		Help:      "Records removed by a stage, by reason",
	}, []string{"stage", "reason"})

	m.artifactWarnings = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "side_artifact_warnings_total",
		Help:      "Side artifacts that were malformed or unreadable",
	}, []string{"artifact"})

	m.excludedIDs = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "excluded_ids",
		Help:      "Size of the exclusion set loaded for the last run",
	})

	m.adjustedIDs = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "adjustment_ids",
		Help:      "Number of subjects with a snapshot deduction in the last run",
	})

	m.rankedEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ranked_entries",
		Help:      "Rows written to the ranked output by the last run",
	})

	m.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stage_duration_seconds",
		Help:      "Wall time spent in each pipeline stage",
		Buckets:   m.histogramBuckets,
	}, []string{"stage"})

	m.lastSuccess = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run",
	})

	m.runDuration = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run",
	})

	m.shortCircuited = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "short_circuits_total",
		Help:      "Runs that ended early on an empty intermediate dataset",
	})
}

// RecordRowsFetched adds n rows fetched from database.
func RecordRowsFetched(database string, n int) {
	globalManager.rowsFetched.WithLabelValues(database).Add(float64(n))
}

// RecordFetchAttempt counts one fetch attempt.
func RecordFetchAttempt(database, outcome string) {
	globalManager.fetchAttempts.WithLabelValues(database, outcome).Inc()
}

// RecordFetchRetry counts one retry.
func RecordFetchRetry(database string) {
	globalManager.fetchRetries.WithLabelValues(database).Inc()
}

// RecordIdentityChunk counts one batched identity query.
func RecordIdentityChunk() {
	globalManager.identityChunks.Inc()
}

// RecordIdentityFallback counts one fallback to the unfiltered identity dataset.
func RecordIdentityFallback() {
	globalManager.fallbacks.Inc()
}

// RecordDropped adds n records dropped by stage for reason.
func RecordDropped(stage, reason string, n int) {
	if n <= 0 {
		return
	}
	globalManager.recordsDropped.WithLabelValues(stage, reason).Add(float64(n))
}

// RecordSideArtifactWarning counts a malformed or unreadable side artifact.
func RecordSideArtifactWarning(artifact string) {
	globalManager.artifactWarnings.WithLabelValues(artifact).Inc()
}

// UpdateExcludedIDs sets the exclusion set size.
func UpdateExcludedIDs(n int) {
	globalManager.excludedIDs.Set(float64(n))
}

// UpdateAdjustedIDs sets the number of snapshot entries.
func UpdateAdjustedIDs(n int) {
	globalManager.adjustedIDs.Set(float64(n))
}

// UpdateRankedEntries sets the number of ranked rows written.
func UpdateRankedEntries(n int) {
	globalManager.rankedEntries.Set(float64(n))
}

// RecordStageDuration observes the time spent in stage.
func RecordStageDuration(stage string, d time.Duration) {
	globalManager.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordShortCircuit counts a run that stopped on empty data.
func RecordShortCircuit() {
	globalManager.shortCircuited.Inc()
}

// MarkSuccess records the completion time and duration of a successful run.
func MarkSuccess(at time.Time, took time.Duration) {
	globalManager.lastSuccess.Set(float64(at.Unix()))
	globalManager.runDuration.Set(took.Seconds())
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Push sends the registry to a Pushgateway under job.
func Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(customRegistry).PushContext(ctx); err != nil {
		return fmt.Errorf("%w: push to %s: %w", ErrObserveFailed, url, err)
	}
	return nil
}

// WriteTextfile writes the registry in text exposition format to path.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, customRegistry); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrObserveFailed, path, err)
	}
	return nil
}
