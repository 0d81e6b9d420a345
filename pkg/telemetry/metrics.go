package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for boxctl runs.
// boxctl is a one-shot process, so the registry is exported as a textfile
// at the end of each run instead of being served over HTTP.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runsChanged   *prometheus.CounterVec

	// Command metrics
	commandsExecuted *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	commandFailures  *prometheus.CounterVec

	// Instance metrics
	instanceState *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers the boxctl collectors on a private registry. A
// disabled config returns a collector whose methods do nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()
	f := promauto.With(registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: cfg.Namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: cfg.Namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: counter("runs_completed_total", "Lifecycle runs completed.", "operation", "status"),
		runDuration:   histogram("run_duration_seconds", "Duration of lifecycle runs.", "operation", "status"),
		runsChanged:   counter("runs_changed_total", "Runs that changed instance state.", "operation"),

		commandsExecuted: counter("vagrant_commands_total", "vagrant subcommands executed.", "subcommand"),
		commandDuration:  histogram("vagrant_command_duration_seconds", "Duration of vagrant subcommands.", "subcommand"),
		commandFailures:  counter("vagrant_command_failures_total", "vagrant subcommands that exited non-zero or did not start.", "subcommand"),

		instanceState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "instance_running",
			Help:      "1 if the instance was running when last observed, else 0.",
		}, []string{"instance", "provider"}),

		errorsByClass: counter("errors_by_class_total", "Run errors by class.", "class"),
		errorsByCode:  counter("errors_by_code_total", "Run errors by code.", "code"),
	}, nil
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(operation, status string, changed bool, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(operation, status).Inc()
	m.runDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	if changed {
		m.runsChanged.WithLabelValues(operation).Inc()
	}
}

// RecordCommand records one vagrant subcommand execution.
func (m *Metrics) RecordCommand(subcommand string, failed bool, duration time.Duration) {
	if m == nil || m.commandsExecuted == nil {
		return
	}
	m.commandsExecuted.WithLabelValues(subcommand).Inc()
	m.commandDuration.WithLabelValues(subcommand).Observe(duration.Seconds())
	if failed {
		m.commandFailures.WithLabelValues(subcommand).Inc()
	}
}

// SetInstanceRunning sets the last observed state of an instance.
func (m *Metrics) SetInstanceRunning(instance, provider string, running bool) {
	if m == nil || m.instanceState == nil {
		return
	}
	value := 0.0
	if running {
		value = 1.0
	}
	m.instanceState.WithLabelValues(instance, provider).Set(value)
}

// RecordError counts a run error by class, and by code when it has one.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes the registry to the configured textfile path.
func (m *Metrics) WriteTextfile() error {
	if m == nil || m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer measures one stage or command.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

// Duration is the time since NewTimer.
func (t *Timer) Duration() time.Duration { return time.Since(t.start) }
