// Package metrics provides Prometheus-based metrics for complyscan runs.
// complyscan is not a long-running server, so metrics are exported by
// writing the registry to a node_exporter textfile after each run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace for all complyscan metrics
	namespace = "complyscan"

	// Subsystems
	subsystemRun       = "run"
	subsystemPolicy    = "policy"
	subsystemTailoring = "tailoring"
	subsystemResults   = "results"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Run metrics
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastRunTime    prometheus.Gauge
	lastRunSuccess prometheus.Gauge

	// Policy metrics
	policiesTotal  *prometheus.CounterVec
	policyDuration *prometheus.HistogramVec

	// Post-processing metrics
	tailoringTotal *prometheus.CounterVec
	repairsTotal   prometheus.Counter

	mu       sync.Mutex
	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
	}

	pm.initRunMetrics()
	pm.initPolicyMetrics()
	pm.initPostProcessMetrics()
	pm.registerMetrics()

	return pm
}

// initRunMetrics initializes run-level metrics
func (pm *PrometheusMetrics) initRunMetrics() {
	pm.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "total",
			Help:      "Total number of compliance runs by status",
		},
		[]string{"status"},
	)

	pm.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "duration_seconds",
			Help:      "Duration of complete compliance runs in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	pm.lastRunTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "last_timestamp_seconds",
			Help:      "Unix time the last compliance run finished",
		},
	)

	pm.lastRunSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "last_success",
			Help:      "Whether the last compliance run succeeded (1) or failed (0)",
		},
	)
}

// initPolicyMetrics initializes per-policy metrics
func (pm *PrometheusMetrics) initPolicyMetrics() {
	pm.policiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPolicy,
			Name:      "total",
			Help:      "Total number of policies processed by result",
		},
		[]string{"result"},
	)

	pm.policyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemPolicy,
			Name:      "scan_duration_seconds",
			Help:      "Duration of a single policy scan in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"profile"},
	)
}

// initPostProcessMetrics initializes tailoring and results metrics
func (pm *PrometheusMetrics) initPostProcessMetrics() {
	pm.tailoringTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTailoring,
			Name:      "downloads_total",
			Help:      "Tailoring file download attempts by outcome",
		},
		[]string{"outcome"},
	)

	pm.repairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemResults,
			Name:      "repairs_total",
			Help:      "Results files whose benchmark version was repaired",
		},
	)
}

// registerMetrics registers all metrics with the registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.runsTotal,
		pm.runDuration,
		pm.lastRunTime,
		pm.lastRunSuccess,
		pm.policiesTotal,
		pm.policyDuration,
		pm.tailoringTotal,
		pm.repairsTotal,
	)
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// RunFinished records a completed run.
func (pm *PrometheusMetrics) RunFinished(status string, duration time.Duration) {
	pm.runsTotal.WithLabelValues(status).Inc()
	pm.runDuration.Observe(duration.Seconds())
	pm.lastRunTime.SetToCurrentTime()
	if status == StatusSuccess {
		pm.lastRunSuccess.Set(1)
	} else {
		pm.lastRunSuccess.Set(0)
	}
}

// PolicyFinished records one policy iteration. Only scanned policies
// contribute to the duration histogram.
func (pm *PrometheusMetrics) PolicyFinished(refID, result string, duration time.Duration) {
	pm.policiesTotal.WithLabelValues(result).Inc()
	if result == PolicyScanned {
		pm.policyDuration.WithLabelValues(refID).Observe(duration.Seconds())
	}
}

// TailoringOutcome counts a tailoring download outcome.
func (pm *PrometheusMetrics) TailoringOutcome(outcome string) {
	pm.tailoringTotal.WithLabelValues(outcome).Inc()
}

// ResultRepaired counts a repaired results file.
func (pm *PrometheusMetrics) ResultRepaired() {
	pm.repairsTotal.Inc()
}

// WriteTextfile writes the registry in the text exposition format for the
// node_exporter textfile collector. The file is replaced atomically.
func (pm *PrometheusMetrics) WriteTextfile(path string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, pm.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
