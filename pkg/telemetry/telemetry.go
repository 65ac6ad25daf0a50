package telemetry

import (
	"context"
	"errors"

	"github.com/ruivieira/cheshire/pkg/engine"
)

// Telemetry bundles the logger, tracer, metrics and event publisher used
// for one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry builds every component from cfg. Metrics and the event
// logger are subscribed to the publisher.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.ResourceAttributes, nil)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics(cfg.Metrics)
	events := NewEventPublisher(cfg.Events, logger.NewComponentLogger("events"))
	events.Subscribe(NewEventLogger(logger.NewComponentLogger("engine")), nil)
	if metrics.Enabled() {
		events.Subscribe(metrics, nil)
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// ExecutorOptions wires the components into an engine.Executor.
func (t *Telemetry) ExecutorOptions() []engine.ExecutorOption {
	return []engine.ExecutorOption{
		engine.WithEventPublisher(t.Events),
		engine.WithLogger(t.Logger.NewComponentLogger("executor").Zerolog()),
		engine.WithTracer(t.Tracer.Tracer()),
	}
}

// Shutdown drains events, flushes spans and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
		t.Logger.Close(),
	)
}
