package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// attemptFunc performs one attempt of an operation.
type attemptFunc func(ctx context.Context) CommandResult

// ExecutePreCondition runs a pre-condition with retries.
func (e *Executor) ExecutePreCondition(ctx context.Context, pc *PreCondition) OperationResult {
	return e.executeWithRetries(ctx, pc, e.commandAttempt(pc))
}

// ExecuteTest runs a test with retries.
func (e *Executor) ExecuteTest(ctx context.Context, t *Test) OperationResult {
	return e.executeWithRetries(ctx, t, e.commandAttempt(t))
}

// ExecuteStep runs a step with retries using the step's execution mode.
func (e *Executor) ExecuteStep(ctx context.Context, step *Step) OperationResult {
	var attempt attemptFunc
	switch step.Mode() {
	case ModeParallelComposite:
		attempt = func(ctx context.Context) CommandResult {
			return e.runParallel(ctx, step)
		}
	case ModeInProcessRoutine:
		attempt = boundAttempt(step.Timeout(), attemptFunc(step.routine))
	default:
		attempt = e.commandAttempt(step)
	}
	return e.executeWithRetries(ctx, step, attempt)
}

func (e *Executor) commandAttempt(op Operation) attemptFunc {
	return boundAttempt(op.Timeout(), func(ctx context.Context) CommandResult {
		if e.runner == nil {
			return CommandResult{Error: "no command runner configured"}
		}
		return e.runner.Run(ctx, op.Command(), op.Timeout())
	})
}

// boundAttempt runs fn under timeout. The attempt ends when fn returns or the
// deadline passes, whichever comes first. Panics become attempt failures.
func boundAttempt(timeout time.Duration, fn attemptFunc) attemptFunc {
	return func(ctx context.Context) CommandResult {
		if fn == nil {
			return CommandResult{Error: "no routine configured"}
		}
		attemptCtx, cancel := withOptionalTimeout(ctx, timeout)
		defer cancel()

		done := make(chan CommandResult, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- CommandResult{Error: fmt.Sprintf("panic: %v", r)}
				}
			}()
			done <- fn(attemptCtx)
		}()

		select {
		case res := <-done:
			if !res.Success && res.Error == "" {
				res.Error = "command failed"
			}
			if !res.Success && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				res.TimedOut = true
			}
			return res
		case <-attemptCtx.Done():
			return interruptedResult(ctx, attemptCtx, timeout)
		}
	}
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func interruptedResult(parent, attemptCtx context.Context, timeout time.Duration) CommandResult {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return CommandResult{
			Error:    fmt.Sprintf("timed out after %s", timeout),
			TimedOut: true,
		}
	}
	return CommandResult{Error: fmt.Sprintf("cancelled: %v", context.Cause(attemptCtx))}
}

// executeWithRetries drives op through validation, attempts and backoff.
func (e *Executor) executeWithRetries(ctx context.Context, op Operation, attempt attemptFunc) OperationResult {
	result := OperationResult{
		OperationID: op.ID(),
		Name:        op.Name(),
		Kind:        op.Kind(),
	}

	ctx, span := e.tracer.Start(ctx, "operation.execute",
		trace.WithAttributes(
			attribute.String("operation.id", op.ID()),
			attribute.String("operation.kind", string(op.Kind())),
			attribute.String("operation.mode", op.Mode().String()),
			attribute.Int("operation.max_retries", op.MaxRetries()),
		),
	)
	defer span.End()

	log := e.logger.With().
		Str("operation_id", op.ID()).
		Str("kind", string(op.Kind())).
		Logger()

	if missing := op.MissingParameters(); len(missing) > 0 {
		result.Error = fmt.Sprintf("Missing required parameters: %s", strings.Join(missing, ", "))
		result.ErrorClass = ErrorClassValidation
		span.SetStatus(codes.Error, result.Error)
		log.Debug().Strs("missing", missing).Msg("Operation failed validation")
		e.publishResult(ctx, op, result, 0)
		return result
	}

	start := time.Now()
	maxRetries := max(op.MaxRetries(), 0)
	command := op.Command()

	e.publish(ctx, &Event{
		Type:          EventTypeOperationStarted,
		Level:         EventLevelInfo,
		OperationID:   op.ID(),
		OperationName: op.Name(),
		Kind:          op.Kind(),
		Command:       command,
		Attempt:       1,
		MaxRetries:    maxRetries,
	})

	retries := 0
	var last CommandResult
	for {
		log.Debug().Int("attempt", retries+1).Str("command", command).Msg("Executing attempt")
		last = attempt(ctx)
		if last.Success {
			break
		}
		span.AddEvent("attempt.failed", trace.WithAttributes(
			attribute.Int("attempt", retries+1),
			attribute.String("error", last.Error),
		))
		if retries >= maxRetries {
			break
		}

		next := retries + 1
		delay := e.backoff(next)
		log.Debug().
			Int("retry", next).
			Dur("delay", delay).
			Str("error", last.Error).
			Msg("Attempt failed, retrying")
		e.publish(ctx, &Event{
			Type:          EventTypeOperationRetrying,
			Level:         EventLevelWarning,
			OperationID:   op.ID(),
			OperationName: op.Name(),
			Kind:          op.Kind(),
			Attempt:       retries + 1,
			MaxRetries:    maxRetries,
			Delay:         delay,
			Error:         last.Error,
		})

		if err := sleepContext(ctx, delay); err != nil {
			last.Error = fmt.Sprintf("%s (retry aborted: %v)", last.Error, err)
			break
		}
		retries = next
	}

	result.Success = last.Success
	result.Output = last.Output
	result.Duration = time.Since(start)
	result.RetryCount = retries
	span.SetAttributes(attribute.Int("operation.retry_count", retries))

	if last.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		result.Error = last.Error
		if result.Error == "" {
			result.Error = "command failed"
		}
		result.ErrorClass = ErrorClassExecution
		if last.TimedOut {
			result.ErrorClass = ErrorClassTimeout
		}
		span.SetStatus(codes.Error, result.Error)
	}

	log.Debug().
		Bool("success", result.Success).
		Int("retries", retries).
		Dur("duration", result.Duration).
		Msg("Operation finished")

	e.publishResult(ctx, op, result, retries+1)
	return result
}

func (e *Executor) publishResult(ctx context.Context, op Operation, result OperationResult, attempts int) {
	ev := &Event{
		Type:          EventTypeOperationSucceeded,
		Level:         EventLevelInfo,
		OperationID:   op.ID(),
		OperationName: op.Name(),
		Kind:          op.Kind(),
		Attempt:       attempts,
		MaxRetries:    op.MaxRetries(),
		Duration:      result.Duration,
		Output:        result.Output,
	}
	if !result.Success {
		ev.Type = EventTypeOperationFailed
		ev.Level = EventLevelError
		ev.Error = result.Error
		ev.ErrorClass = result.ErrorClass
	}
	e.publish(ctx, ev)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
