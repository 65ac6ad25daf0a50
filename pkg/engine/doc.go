// Package engine executes pipelines of shell-backed operations against a
// target platform.
//
// # Overview
//
// A Run is a flat, ordered list of operations in three phases:
//
//  1. Pre-conditions - checks that must pass before anything changes
//  2. Steps - the work itself
//  3. Tests - verification of the result
//
// Each phase only contains the operations compatible with the target
// platform (see IsCompatible). The first failing pre-condition or test aborts
// the run. A failing step aborts the run unless it was created with
// WithContinueOnFailure, in which case the run is still marked failed but the
// remaining steps execute. Tests only run when nothing failed before them.
//
// # Operations
//
// PreCondition, Step and Test share the Operation interface. A command is
// passed to the shell as written unless the operation is a template, which
// it becomes when given parameters, defaults or WithTemplate:
//
//	step := engine.NewStep("deploy", "Deploy app", "kubectl apply -f ${manifest} -n $ns",
//	    engine.WithParameters(engine.Parameters{"manifest": "app.yaml"}),
//	    engine.WithDefaults(engine.Parameters{"ns": "default"}),
//	    engine.WithRetries(2),
//	    engine.WithTimeout(30*time.Second),
//	)
//
// A template that references an unknown parameter is never attempted. Shell
// variables in plain commands, such as $HOME, are left to the shell.
//
// A Step runs in one of three modes fixed at construction: a shell command,
// an in-process Routine (NewRoutineStep), or a parallel composite of child
// steps (NewParallelStep). A parallel step runs every child through its own
// retry loop concurrently and succeeds only if all children succeed.
//
// # Retries
//
// A failed attempt is retried up to MaxRetries times. The delay before retry
// n is 2^n seconds by default, configurable with WithBackoff.
//
// # Observability
//
// The engine writes nothing to stdout or stderr. Progress is reported as
// Events to an EventPublisher, debug logs go to an optional zerolog.Logger and
// spans to an optional OpenTelemetry tracer:
//
//	exec := engine.NewExecutor(runner,
//	    engine.WithEventPublisher(publisher),
//	    engine.WithLogger(logger),
//	)
//	result := exec.ExecuteRun(ctx, run, engine.PlatformFedora)
//
// The target platform is always supplied by the caller; see package facts for
// detection.
package engine
