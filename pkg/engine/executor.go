package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// CommandRunner runs a shell command and reports its outcome. Implementations
// must be safe for concurrent use. A zero timeout means no limit beyond ctx.
type CommandRunner interface {
	Run(ctx context.Context, command string, timeout time.Duration) CommandResult
}

// CommandRunnerFunc adapts a function to CommandRunner.
type CommandRunnerFunc func(ctx context.Context, command string, timeout time.Duration) CommandResult

// Run calls f.
func (f CommandRunnerFunc) Run(ctx context.Context, command string, timeout time.Duration) CommandResult {
	return f(ctx, command, timeout)
}

// BackoffFunc returns the delay before the given retry. retry is 1 for the
// first retry.
type BackoffFunc func(retry int) time.Duration

// ExponentialBackoff waits 2^retry seconds: 2s, 4s, 8s and so on.
func ExponentialBackoff(retry int) time.Duration {
	return time.Duration(1<<uint(retry)) * time.Second
}

// Executor runs operations and runs against a CommandRunner.
type Executor struct {
	runner    CommandRunner
	publisher EventPublisher
	logger    zerolog.Logger
	tracer    trace.Tracer
	backoff   BackoffFunc
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEventPublisher sets where lifecycle events are sent.
func WithEventPublisher(p EventPublisher) ExecutorOption {
	return func(e *Executor) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithLogger sets the debug logger. The engine logs nothing by default.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithTracer sets the tracer used for run and operation spans.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithBackoff replaces the delay schedule between retries.
func WithBackoff(backoff BackoffFunc) ExecutorOption {
	return func(e *Executor) {
		if backoff != nil {
			e.backoff = backoff
		}
	}
}

// NewExecutor creates an executor that runs shell commands with runner.
func NewExecutor(runner CommandRunner, opts ...ExecutorOption) *Executor {
	e := &Executor{
		runner:    runner,
		publisher: nopPublisher{},
		logger:    zerolog.Nop(),
		tracer:    noop.NewTracerProvider().Tracer("cheshire/engine"),
		backoff:   ExponentialBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteRun executes run on platform: pre-conditions, then steps, then
// tests, each phase restricted to operations compatible with platform.
func (e *Executor) ExecuteRun(ctx context.Context, run *Run, platform Platform) *RunResult {
	start := time.Now()
	result := &RunResult{
		Platform:            platform,
		Success:             true,
		StartTime:           start,
		PreConditionResults: []OperationResult{},
		StepResults:         []OperationResult{},
		TestResults:         []OperationResult{},
	}
	if run == nil {
		result.Success = false
		result.Error = "run is nil"
		result.EndTime = time.Now()
		return result
	}
	result.RunID = run.ID

	ctx = withRunScope(ctx, run.ID, platform)
	ctx, span := e.tracer.Start(ctx, "run.execute",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("run.name", run.Name),
			attribute.String("run.platform", string(platform)),
		),
	)
	defer span.End()

	log := e.logger.With().Str("run_id", run.ID).Str("platform", string(platform)).Logger()
	log.Debug().
		Int("pre_conditions", len(run.PreConditions)).
		Int("steps", len(run.Steps)).
		Int("tests", len(run.Tests)).
		Msg("Starting run")

	e.publish(ctx, &Event{
		Type:          EventTypeRunStarted,
		Level:         EventLevelInfo,
		OperationName: run.Name,
	})

	e.executePhases(ctx, run, platform, result)

	result.EndTime = time.Now()
	result.TotalDuration = result.EndTime.Sub(start)

	ev := &Event{
		Type:          EventTypeRunCompleted,
		Level:         EventLevelInfo,
		OperationName: run.Name,
		Duration:      result.TotalDuration,
	}
	if !result.Success {
		ev.Type = EventTypeRunFailed
		ev.Level = EventLevelError
		ev.Error = result.Error
		ev.ErrorClass = ErrorClassAbort
		span.SetStatus(codes.Error, result.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	e.publish(ctx, ev)

	log.Debug().
		Bool("success", result.Success).
		Dur("duration", result.TotalDuration).
		Msg("Run finished")

	return result
}

func (e *Executor) executePhases(ctx context.Context, run *Run, platform Platform, result *RunResult) {
	if err := platform.Validate(); err != nil {
		result.fail(err.Error())
		return
	}

	for _, pc := range FilterByPlatform(run.PreConditions, platform) {
		res := e.ExecutePreCondition(ctx, pc)
		result.PreConditionResults = append(result.PreConditionResults, res)
		if !res.Success {
			result.fail(phaseError(pc, res))
			return
		}
	}

	steps := FilterByPlatform(run.Steps, platform)
	if len(run.Steps) > 0 && len(steps) == 0 {
		result.fail(fmt.Sprintf("No steps found for platform: %s", platform))
		return
	}

	for _, step := range steps {
		res := e.ExecuteStep(ctx, step)
		result.StepResults = append(result.StepResults, res)
		if res.Success {
			continue
		}
		result.fail(phaseError(step, res))
		if !step.ContinueOnFailure() {
			return
		}
	}

	if !result.Success {
		return
	}

	for _, test := range FilterByPlatform(run.Tests, platform) {
		res := e.ExecuteTest(ctx, test)
		result.TestResults = append(result.TestResults, res)
		if !res.Success {
			result.fail(phaseError(test, res))
			return
		}
	}
}

// fail marks the run failed, keeping the first error message.
func (r *RunResult) fail(msg string) {
	r.Success = false
	if r.Error == "" {
		r.Error = msg
	}
}

func phaseError(op Operation, res OperationResult) string {
	return fmt.Sprintf("%s '%s' failed: %s", op.Kind().Label(), op.Name(), res.Error)
}

func (e *Executor) publish(ctx context.Context, ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.RunID = RunIDFromContext(ctx)
	ev.Platform = platformFromContext(ctx)
	if ev.ParentID == "" {
		ev.ParentID = parentFromContext(ctx)
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Debug().Err(err).Str("event", string(ev.Type)).Msg("Failed to publish event")
	}
}
