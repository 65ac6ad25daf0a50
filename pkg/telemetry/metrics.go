package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruivieira/cheshire/pkg/engine"
)

// Metrics provides Prometheus metrics derived from engine events.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	operationsExecuted *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	operationRetries   *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. A disabled collector ignores
// every observation.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Runs started, by target platform",
			},
			[]string{"platform"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs finished",
			},
			[]string{"platform", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of runs currently executing",
			},
		),
		operationsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_executed_total",
				Help:      "Total number of operations that reached a terminal state",
			},
			[]string{"kind", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations including retries, in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		operationRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_retries_total",
				Help:      "Total number of retries scheduled",
			},
			[]string{"kind"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of failures by error class",
			},
			[]string{"class"},
		),
	}

	m.registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.operationsExecuted,
		m.operationDuration,
		m.operationRetries,
		m.errorsByClass,
	)
	return m
}

// Enabled reports whether observations are recorded.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// HandleEvent records ev. It implements Subscriber.
func (m *Metrics) HandleEvent(_ context.Context, ev *engine.Event) error {
	m.Observe(ev)
	return nil
}

// Observe updates the collectors affected by ev.
func (m *Metrics) Observe(ev *engine.Event) {
	if !m.Enabled() || ev == nil {
		return
	}

	switch ev.Type {
	case engine.EventTypeRunStarted:
		m.runsStarted.WithLabelValues(string(ev.Platform)).Inc()
		m.activeRuns.Inc()

	case engine.EventTypeRunCompleted, engine.EventTypeRunFailed:
		status := statusLabel(ev.Type == engine.EventTypeRunCompleted)
		m.runsCompleted.WithLabelValues(string(ev.Platform), status).Inc()
		m.runDuration.WithLabelValues(status).Observe(ev.Duration.Seconds())
		m.activeRuns.Dec()
		if ev.ErrorClass != "" {
			m.errorsByClass.WithLabelValues(string(ev.ErrorClass)).Inc()
		}

	case engine.EventTypeOperationRetrying:
		m.operationRetries.WithLabelValues(string(ev.Kind)).Inc()

	case engine.EventTypeOperationSucceeded, engine.EventTypeOperationFailed:
		status := statusLabel(ev.Type == engine.EventTypeOperationSucceeded)
		m.operationsExecuted.WithLabelValues(string(ev.Kind), status).Inc()
		m.operationDuration.WithLabelValues(string(ev.Kind)).Observe(ev.Duration.Seconds())
		if ev.ErrorClass != "" {
			m.errorsByClass.WithLabelValues(string(ev.ErrorClass)).Inc()
		}
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Registry returns the registry backing the collectors, or nil when
// disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text or OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartServer serves the metrics endpoint until ctx is cancelled. The
// listener is bound before returning so address errors surface here.
func (m *Metrics) StartServer(ctx context.Context, logger *Logger) (net.Addr, error) {
	if !m.Enabled() {
		return nil, nil
	}

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return nil, err
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return ln.Addr(), nil
}
